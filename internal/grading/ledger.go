package grading

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ScoreStore is the storage the ledger writes through
type ScoreStore interface {
	GetBackup(ctx context.Context, backupID string) (*domain.Backup, error)
	InsertScore(ctx context.Context, score *domain.Score) error
	ArchiveScores(ctx context.Context, keep *domain.Score) (int64, error)
	ScoreHistory(ctx context.Context, backupID, kind string, includeArchived bool) ([]domain.Score, error)
}

// NewScore is a grading action to record
type NewScore struct {
	BackupID string  `validate:"required"`
	GraderID string  `validate:"required"`
	Kind     string  `validate:"required,max=32"`
	Value    float64
	Message  string
}

// Ledger records scores so that each (backup, kind) settles on a single
// live score. Writes are not locked: two concurrent Record calls may both be
// visible until the later archive commits.
type Ledger struct {
	store    ScoreStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLedger creates a ledger over store
func NewLedger(store ScoreStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// RecordScore inserts a new public score. It never edits an existing row.
func (l *Ledger) RecordScore(ctx context.Context, in NewScore) (*domain.Score, error) {
	if err := l.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid score: %w", err)
	}

	backup, err := l.store.GetBackup(ctx, in.BackupID)
	if err != nil {
		return nil, err
	}

	score := &domain.Score{
		ID:           uuid.NewString(),
		BackupID:     backup.ID,
		AssignmentID: backup.AssignmentID,
		UserID:       backup.SubmitterID,
		GraderID:     in.GraderID,
		Kind:         in.Kind,
		Value:        in.Value,
		Message:      in.Message,
		Public:       true,
	}

	if err := l.store.InsertScore(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to record score: %w", err)
	}

	return score, nil
}

// ArchiveDuplicates supersedes the older live scores for the same backup and
// kind as score. Once every recorded score has been through it, only the
// newest stays live, whatever order the calls ran in.
func (l *Ledger) ArchiveDuplicates(ctx context.Context, score *domain.Score) error {
	archived, err := l.store.ArchiveScores(ctx, score)
	if err != nil {
		return fmt.Errorf("failed to archive duplicate scores: %w", err)
	}

	if archived > 0 {
		l.logger.Info("Archived superseded scores",
			slog.String("backup_id", score.BackupID),
			slog.String("kind", score.Kind),
			slog.Int64("archived", archived),
		)
	}
	return nil
}

// Record inserts a score and archives the ones it supersedes
func (l *Ledger) Record(ctx context.Context, in NewScore) (*domain.Score, error) {
	score, err := l.RecordScore(ctx, in)
	if err != nil {
		return nil, err
	}

	if err := l.ArchiveDuplicates(ctx, score); err != nil {
		return nil, err
	}

	return score, nil
}

// ScoreHistory lists every score of a backup and kind, archived included,
// newest first. An empty kind means all kinds.
func (l *Ledger) ScoreHistory(ctx context.Context, backupID, kind string) ([]domain.Score, error) {
	return l.store.ScoreHistory(ctx, backupID, kind, true)
}

// CurrentScores lists the live scores of a backup
func (l *Ledger) CurrentScores(ctx context.Context, backupID string) ([]domain.Score, error) {
	return l.store.ScoreHistory(ctx, backupID, "", false)
}
