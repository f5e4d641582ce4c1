package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

// GetOrCreateClient returns the API client with client.ClientID, creating it
// from client when it does not exist yet
func (s *Storage) GetOrCreateClient(ctx context.Context, client domain.APIClient) (*domain.APIClient, error) {
	insert := s.rebind(`
		INSERT INTO api_clients (client_id, name, user_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_id) DO NOTHING
	`)

	if _, err := s.db.ExecContext(ctx, insert, client.ClientID, client.Name, client.UserID, s.now()); err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	query := s.rebind(`SELECT client_id, name, user_id, created_at FROM api_clients WHERE client_id = ?`)

	var got domain.APIClient
	if err := s.db.GetContext(ctx, &got, query, client.ClientID); err != nil {
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	return &got, nil
}

// InsertToken persists a bearer token
func (s *Storage) InsertToken(ctx context.Context, token *domain.AccessToken) error {
	token.CreatedAt = s.now()
	token.ExpiresAt = token.ExpiresAt.UTC()

	query := s.rebind(`
		INSERT INTO api_tokens (id, client_id, user_id, access_token, scopes, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.ClientID,
		token.UserID,
		token.AccessToken,
		token.Scopes,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert access token: %w", err)
	}

	return nil
}

// GetToken looks up a persisted bearer token. Unknown tokens yield
// ErrInvalidToken.
func (s *Storage) GetToken(ctx context.Context, accessToken string) (*domain.AccessToken, error) {
	query := s.rebind(`
		SELECT id, client_id, user_id, access_token, scopes, expires_at, created_at
		FROM api_tokens
		WHERE access_token = ?
	`)

	var token domain.AccessToken
	if err := s.db.GetContext(ctx, &token, query, accessToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return &token, nil
}
