package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

const scoreColumns = `id, backup_id, assignment_id, user_id, grader_id, kind,
	score, message, public, archived, created_at`

// InsertScore appends a score row. Existing rows are left untouched.
func (s *Storage) InsertScore(ctx context.Context, score *domain.Score) error {
	score.CreatedAt = s.now()

	query := s.rebind(`
		INSERT INTO scores (` + scoreColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		score.ID,
		score.BackupID,
		score.AssignmentID,
		score.UserID,
		score.GraderID,
		score.Kind,
		score.Value,
		score.Message,
		score.Public,
		score.Archived,
		score.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}

	return nil
}

// ArchiveScores archives and hides the live scores of keep's backup and kind
// that are older than keep, ordered by (created_at, id). Archiving on behalf
// of an older score never touches a newer one. It returns the number of rows
// archived.
func (s *Storage) ArchiveScores(ctx context.Context, keep *domain.Score) (int64, error) {
	query := s.rebind(`
		UPDATE scores
		SET archived = ?, public = ?
		WHERE backup_id = ? AND kind = ? AND archived = ?
		  AND (created_at < ? OR (created_at = ? AND id < ?))
	`)

	createdAt := keep.CreatedAt.UTC()
	res, err := s.db.ExecContext(ctx, query, true, false, keep.BackupID, keep.Kind, false, createdAt, createdAt, keep.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to archive scores: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// ScoreHistory lists scores of a backup, newest first. Archived rows are
// included when includeArchived is set; kind may be empty for all kinds.
func (s *Storage) ScoreHistory(ctx context.Context, backupID, kind string, includeArchived bool) ([]domain.Score, error) {
	query := `SELECT ` + scoreColumns + ` FROM scores WHERE backup_id = ?`
	args := []interface{}{backupID}

	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	if !includeArchived {
		query += " AND archived = ?"
		args = append(args, false)
	}
	query += " ORDER BY created_at DESC, id DESC"

	var scores []domain.Score
	if err := s.db.SelectContext(ctx, &scores, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get score history: %w", err)
	}

	return scores, nil
}

// HasScoreSince reports whether the backup has a live score created after
// since
func (s *Storage) HasScoreSince(ctx context.Context, backupID string, since time.Time) (bool, error) {
	query := s.rebind(`
		SELECT COUNT(*) FROM scores
		WHERE backup_id = ? AND archived = ? AND created_at > ?
	`)

	var count int
	if err := s.db.GetContext(ctx, &count, query, backupID, false, since.UTC()); err != nil {
		return false, fmt.Errorf("failed to check scores: %w", err)
	}

	return count > 0, nil
}
