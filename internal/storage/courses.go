package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/jmoiron/sqlx"
)

// CreateAssignment inserts an assignment
func (s *Storage) CreateAssignment(ctx context.Context, a *domain.Assignment) error {
	query := s.rebind(`INSERT INTO assignments (id, course_id, name, autograding_key) VALUES (?, ?, ?, ?)`)

	if _, err := s.db.ExecContext(ctx, query, a.ID, a.CourseID, a.Name, a.AutogradingKey); err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetAssignment retrieves an assignment by its ID
func (s *Storage) GetAssignment(ctx context.Context, assignmentID string) (*domain.Assignment, error) {
	query := s.rebind(`SELECT id, course_id, name, autograding_key FROM assignments WHERE id = ?`)

	var a domain.Assignment
	if err := s.db.GetContext(ctx, &a, query, assignmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	return &a, nil
}

// CreateBackup inserts a backup. A zero CreatedAt is stamped with now.
func (s *Storage) CreateBackup(ctx context.Context, b *domain.Backup) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	b.CreatedAt = b.CreatedAt.UTC()

	query := s.rebind(`
		INSERT INTO backups (id, assignment_id, submitter_id, submitted, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	if _, err := s.db.ExecContext(ctx, query, b.ID, b.AssignmentID, b.SubmitterID, b.Submitted, b.CreatedAt); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	return nil
}

// GetBackup retrieves a backup by its ID
func (s *Storage) GetBackup(ctx context.Context, backupID string) (*domain.Backup, error) {
	query := s.rebind(`SELECT id, assignment_id, submitter_id, submitted, created_at FROM backups WHERE id = ?`)

	var b domain.Backup
	if err := s.db.GetContext(ctx, &b, query, backupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBackupNotFound
		}
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}

	return &b, nil
}

// FinalSubmissions returns, per submitter, the ID of the latest submitted
// backup of the assignment. These are the backups that need grading.
func (s *Storage) FinalSubmissions(ctx context.Context, assignmentID string) ([]string, error) {
	query := s.rebind(`
		SELECT b.id FROM backups b
		WHERE b.assignment_id = ? AND b.submitted = ?
		  AND NOT EXISTS (
			SELECT 1 FROM backups newer
			WHERE newer.assignment_id = b.assignment_id
			  AND newer.submitter_id = b.submitter_id
			  AND newer.submitted = ?
			  AND (newer.created_at > b.created_at
			       OR (newer.created_at = b.created_at AND newer.id > b.id))
		  )
		ORDER BY b.created_at ASC, b.id ASC
	`)

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, assignmentID, true, true); err != nil {
		return nil, fmt.Errorf("failed to get final submissions: %w", err)
	}

	return ids, nil
}

// CreateEnrollment enrolls a user in a course with a role
func (s *Storage) CreateEnrollment(ctx context.Context, userID, courseID, role string) error {
	query := s.rebind(`INSERT INTO enrollments (user_id, course_id, role) VALUES (?, ?, ?)`)

	if _, err := s.db.ExecContext(ctx, query, userID, courseID, role); err != nil {
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

// StaffMembers returns which of userIDs hold a staff role in the course
func (s *Storage) StaffMembers(ctx context.Context, courseID string, userIDs []string) (map[string]bool, error) {
	staff := make(map[string]bool)
	if len(userIDs) == 0 {
		return staff, nil
	}

	query, args, err := sqlx.In(`
		SELECT user_id FROM enrollments
		WHERE course_id = ? AND role IN (?) AND user_id IN (?)
	`, courseID, domain.StaffRoles, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build staff query: %w", err)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get staff members: %w", err)
	}

	for _, id := range ids {
		staff[id] = true
	}
	return staff, nil
}

// IsStaff reports whether a user holds a staff role in the course
func (s *Storage) IsStaff(ctx context.Context, courseID, userID string) (bool, error) {
	staff, err := s.StaffMembers(ctx, courseID, []string{userID})
	if err != nil {
		return false, err
	}
	return staff[userID], nil
}
