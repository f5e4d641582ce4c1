package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

const jobColumns = `id, status, user_id, course_id, function_name, description,
	failed, log, result, timeout_seconds, created_at, updated_at`

// CreateJob inserts a job row. CreatedAt and UpdatedAt are stamped here.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	now := s.now()
	job.CreatedAt = now
	job.UpdatedAt = now

	query := s.rebind(`
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.UserID,
		job.CourseID,
		job.FunctionName,
		job.Description,
		job.Failed,
		job.Log,
		job.Result,
		job.TimeoutSeconds,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// StartJob moves a queued job to running. It fails with ErrJobNotQueued when
// the job was already started or finished, so a redelivered message never
// runs the same job twice.
func (s *Storage) StartJob(ctx context.Context, jobID string) error {
	query := s.rebind(`
		UPDATE jobs
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`)

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusRunning, s.now(), jobID, domain.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}

	return s.checkTransition(ctx, res, jobID)
}

// FinishJob records the outcome of a job. Finished jobs are never updated
// again.
func (s *Storage) FinishJob(ctx context.Context, jobID string, failed bool, log, result string) error {
	query := s.rebind(`
		UPDATE jobs
		SET status = ?, failed = ?, log = ?, result = ?, updated_at = ?
		WHERE id = ? AND status <> ?
	`)

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFinished, failed, log, result, s.now(),
		jobID, domain.JobStatusFinished,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}

	if err := s.checkTransition(ctx, res, jobID); err != nil {
		return err
	}

	s.logger.Info("Job finished",
		slog.String("job_id", jobID),
		slog.Bool("failed", failed),
	)

	return nil
}

func (s *Storage) checkTransition(ctx context.Context, res sql.Result, jobID string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrJobNotQueued
}

// JobFilter narrows ListJobs. Empty fields are ignored.
type JobFilter struct {
	UserID       string
	CourseID     string
	FunctionName string
	Status       string
	PageSize     int
	Cursor       *JobCursor
}

// JobCursor is the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns jobs newest first. It fetches PageSize+1 rows so the
// caller can tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	if filter.CourseID != "" {
		query += " AND course_id = ?"
		args = append(args, filter.CourseID)
	}

	if filter.FunctionName != "" {
		query += " AND function_name = ?"
		args = append(args, filter.FunctionName)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
