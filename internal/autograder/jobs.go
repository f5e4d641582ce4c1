package autograder

import (
	"context"
	"fmt"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/internal/jobrunner"
)

// Job function names
const (
	FuncAutogradeAssignment = "autograde_assignment"
	FuncAutogradeBackups    = "autograde_backups"
)

// AssignmentArgs are the arguments of autograde_assignment
type AssignmentArgs struct {
	AssignmentID string `json:"assignment_id"`
}

// BackupsArgs are the arguments of autograde_backups
type BackupsArgs struct {
	AssignmentID string   `json:"assignment_id"`
	BackupIDs    []string `json:"backup_ids"`
}

// CourseStore reads the collaborator rows the jobs need
type CourseStore interface {
	GetAssignment(ctx context.Context, assignmentID string) (*domain.Assignment, error)
	GetBackup(ctx context.Context, backupID string) (*domain.Backup, error)
	FinalSubmissions(ctx context.Context, assignmentID string) ([]string, error)
}

// Jobs holds the autograding job functions
type Jobs struct {
	store  CourseStore
	poller *Poller
}

// NewJobs creates the job functions
func NewJobs(store CourseStore, poller *Poller) *Jobs {
	return &Jobs{store: store, poller: poller}
}

// Register adds the autograding functions to registry
func (j *Jobs) Register(registry *jobrunner.Registry) {
	registry.Register(FuncAutogradeAssignment, j.AutogradeAssignment)
	registry.Register(FuncAutogradeBackups, j.AutogradeBackups)
}

// AutogradeAssignment autogrades the latest submission of every student
func (j *Jobs) AutogradeAssignment(ctx context.Context, jc *jobrunner.Context) (string, error) {
	var args AssignmentArgs
	if err := jc.Bind(&args); err != nil {
		return "", err
	}

	assignment, err := j.store.GetAssignment(ctx, args.AssignmentID)
	if err != nil {
		return "", err
	}

	backupIDs, err := j.store.FinalSubmissions(ctx, assignment.ID)
	if err != nil {
		return "", err
	}

	return j.run(ctx, jc, assignment, backupIDs)
}

// AutogradeBackups autogrades an explicit list of backups of one assignment
func (j *Jobs) AutogradeBackups(ctx context.Context, jc *jobrunner.Context) (string, error) {
	var args BackupsArgs
	if err := jc.Bind(&args); err != nil {
		return "", err
	}

	assignment, err := j.store.GetAssignment(ctx, args.AssignmentID)
	if err != nil {
		return "", err
	}

	for _, id := range args.BackupIDs {
		backup, err := j.store.GetBackup(ctx, id)
		if err != nil {
			return "", fmt.Errorf("backup %s: %w", id, err)
		}
		if backup.AssignmentID != assignment.ID {
			return "", fmt.Errorf("backup %s does not belong to assignment %s", id, assignment.Name)
		}
	}

	return j.run(ctx, jc, assignment, args.BackupIDs)
}

func (j *Jobs) run(ctx context.Context, jc *jobrunner.Context, assignment *domain.Assignment, backupIDs []string) (string, error) {
	jc.Logger.Info(fmt.Sprintf("Autograding %d backups for %s", len(backupIDs), assignment.Name))

	summary, err := j.poller.Run(ctx, jc.UserID, assignment, backupIDs, jc.Logger)
	if err != nil {
		return "", err
	}

	jc.Logger.Info(summary.String())
	return summary.String(), nil
}
