package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/jmoiron/sqlx"
)

const taskColumns = `id, assignment_id, backup_id, grader_id, course_id, kind,
	score_id, created_at, updated_at`

// TaskedBackups returns which of backupIDs already have a grading task for
// the assignment
func (s *Storage) TaskedBackups(ctx context.Context, assignmentID string, backupIDs []string) (map[string]bool, error) {
	tasked := make(map[string]bool)
	if len(backupIDs) == 0 {
		return tasked, nil
	}

	query, args, err := sqlx.In(`
		SELECT backup_id FROM grading_tasks
		WHERE assignment_id = ? AND backup_id IN (?)
	`, assignmentID, backupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build tasked backups query: %w", err)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get tasked backups: %w", err)
	}

	for _, id := range ids {
		tasked[id] = true
	}
	return tasked, nil
}

// CreateTasks inserts tasks in one transaction. A task whose backup was
// tasked concurrently is skipped; the returned slice holds only the rows
// actually written.
func (s *Storage) CreateTasks(ctx context.Context, tasks []domain.GradingTask) ([]domain.GradingTask, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`
		INSERT INTO grading_tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (assignment_id, backup_id) DO NOTHING
	`)

	now := s.now()
	created := make([]domain.GradingTask, 0, len(tasks))
	for i := range tasks {
		task := tasks[i]
		// distinct timestamps keep FIFO order stable within a batch
		task.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		task.UpdatedAt = task.CreatedAt

		res, err := tx.ExecContext(ctx, query,
			task.ID,
			task.AssignmentID,
			task.BackupID,
			task.GraderID,
			task.CourseID,
			task.Kind,
			task.ScoreID,
			task.CreatedAt,
			task.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create grading task: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			s.logger.Warn("Backup already has a grading task, skipping",
				slog.String("assignment_id", task.AssignmentID),
				slog.String("backup_id", task.BackupID),
			)
			continue
		}
		created = append(created, task)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit grading tasks: %w", err)
	}

	return created, nil
}

// GetTask retrieves a grading task by its ID
func (s *Storage) GetTask(ctx context.Context, taskID string) (*domain.GradingTask, error) {
	query := s.rebind(`SELECT ` + taskColumns + ` FROM grading_tasks WHERE id = ?`)

	var task domain.GradingTask
	if err := s.db.GetContext(ctx, &task, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get grading task: %w", err)
	}

	return &task, nil
}

// GraderQueues aggregates per-grader task counts for an assignment in a
// single query
func (s *Storage) GraderQueues(ctx context.Context, assignmentID string) ([]domain.GraderQueue, error) {
	query := s.rebind(`
		SELECT grader_id, COUNT(score_id) AS completed, COUNT(*) AS total
		FROM grading_tasks
		WHERE assignment_id = ?
		GROUP BY grader_id
	`)

	var queues []domain.GraderQueue
	if err := s.db.SelectContext(ctx, &queues, query, assignmentID); err != nil {
		return nil, fmt.Errorf("failed to get grader queues: %w", err)
	}

	return queues, nil
}

// NextTask returns the oldest incomplete task of a grader, or nil when the
// grader has nothing left
func (s *Storage) NextTask(ctx context.Context, assignmentID, graderID string) (*domain.GradingTask, error) {
	query := s.rebind(`
		SELECT ` + taskColumns + ` FROM grading_tasks
		WHERE assignment_id = ? AND grader_id = ? AND score_id IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`)

	var task domain.GradingTask
	if err := s.db.GetContext(ctx, &task, query, assignmentID, graderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get next grading task: %w", err)
	}

	return &task, nil
}

// ListTasks returns the tasks of an assignment, optionally for one grader
func (s *Storage) ListTasks(ctx context.Context, assignmentID, graderID string) ([]domain.GradingTask, error) {
	query := `SELECT ` + taskColumns + ` FROM grading_tasks WHERE assignment_id = ?`
	args := []interface{}{assignmentID}

	if graderID != "" {
		query += " AND grader_id = ?"
		args = append(args, graderID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	var tasks []domain.GradingTask
	if err := s.db.SelectContext(ctx, &tasks, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list grading tasks: %w", err)
	}

	return tasks, nil
}

// SetTaskScore points a task at the score that completed it
func (s *Storage) SetTaskScore(ctx context.Context, taskID, scoreID string) error {
	query := s.rebind(`UPDATE grading_tasks SET score_id = ?, updated_at = ? WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query, scoreID, s.now(), taskID)
	if err != nil {
		return fmt.Errorf("failed to set task score: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrTaskNotFound
	}

	return nil
}
