package autograder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Synthetic client identity every autograder token belongs to
const (
	ClientID   = "autograder"
	ClientName = "Autograder"
	ScopeAll   = "all"
)

// CredentialStore persists the autograder client and its tokens
type CredentialStore interface {
	GetOrCreateClient(ctx context.Context, client domain.APIClient) (*domain.APIClient, error)
	InsertToken(ctx context.Context, token *domain.AccessToken) error
	GetToken(ctx context.Context, accessToken string) (*domain.AccessToken, error)
}

// Claims carried by an autograder access token
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Credentials mints and verifies the short-lived tokens handed to the
// autograder so it can post scores back
type Credentials struct {
	store  CredentialStore
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewCredentials creates a token minter signing with secret
func NewCredentials(store CredentialStore, secret string, expiry time.Duration) *Credentials {
	if expiry <= 0 {
		expiry = 2 * time.Hour
	}
	return &Credentials{
		store:  store,
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// Mint creates a token with scope "all" for userID and persists it. The
// autograder client record is created on first use.
func (c *Credentials) Mint(ctx context.Context, userID string) (*domain.AccessToken, error) {
	client, err := c.store.GetOrCreateClient(ctx, domain.APIClient{
		ClientID: ClientID,
		Name:     ClientName,
		UserID:   userID,
	})
	if err != nil {
		return nil, err
	}

	now := c.now()
	expires := now.Add(c.expiry)
	claims := Claims{
		Scopes: []string{ScopeAll},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Audience:  jwt.ClaimStrings{client.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	token := &domain.AccessToken{
		ID:          claims.ID,
		ClientID:    client.ClientID,
		UserID:      userID,
		AccessToken: signed,
		Scopes:      strings.Join(claims.Scopes, " "),
		ExpiresAt:   expires,
	}
	if err := c.store.InsertToken(ctx, token); err != nil {
		return nil, err
	}

	return token, nil
}

// Verify checks the signature, expiry, and scope of raw and that it was
// issued by Mint. Every failure wraps domain.ErrInvalidToken.
func (c *Credentials) Verify(ctx context.Context, raw string) (*domain.AccessToken, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithAudience(ClientID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	if !slices.Contains(claims.Scopes, ScopeAll) {
		return nil, fmt.Errorf("%w: missing scope %q", domain.ErrInvalidToken, ScopeAll)
	}

	token, err := c.store.GetToken(ctx, raw)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return nil, fmt.Errorf("%w: token was not issued here", domain.ErrInvalidToken)
		}
		return nil, err
	}

	return token, nil
}
