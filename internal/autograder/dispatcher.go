package autograder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

// GradeAPI is the part of the autograder API the dispatcher calls
type GradeAPI interface {
	GradeBatch(ctx context.Context, req BatchRequest) ([]string, error)
}

// Dispatcher submits backups to the autograder on behalf of a user
type Dispatcher struct {
	api    GradeAPI
	creds  *Credentials
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(api GradeAPI, creds *Credentials, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{api: api, creds: creds, logger: logger}
}

// SendBatch mints a fresh token and submits backupIDs in one request. It
// returns the autograder job id of every backup. On error nothing was
// dispatched, although the minted token stays persisted.
func (d *Dispatcher) SendBatch(ctx context.Context, userID string, assignment *domain.Assignment, backupIDs []string, priority string) (map[string]string, error) {
	if assignment.AutogradingKey == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoAutogradingKey, assignment.Name)
	}
	if len(backupIDs) == 0 {
		return map[string]string{}, nil
	}

	token, err := d.creds.Mint(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint autograder token: %w", err)
	}

	jobIDs, err := d.api.GradeBatch(ctx, BatchRequest{
		SubmIDs:     backupIDs,
		Assignment:  assignment.AutogradingKey,
		AccessToken: token.AccessToken,
		Priority:    priority,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch %d backups: %w", len(backupIDs), err)
	}

	jobs := make(map[string]string, len(backupIDs))
	for i, backupID := range backupIDs {
		jobs[backupID] = jobIDs[i]
	}

	d.logger.Info("Dispatched backups to autograder",
		slog.String("assignment_id", assignment.ID),
		slog.Int("backups", len(backupIDs)),
		slog.String("priority", priority),
	)

	return jobs, nil
}
