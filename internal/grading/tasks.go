package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/google/uuid"
)

// TaskStore is the storage the task manager needs
type TaskStore interface {
	StaffMembers(ctx context.Context, courseID string, userIDs []string) (map[string]bool, error)
	TaskedBackups(ctx context.Context, assignmentID string, backupIDs []string) (map[string]bool, error)
	CreateTasks(ctx context.Context, tasks []domain.GradingTask) ([]domain.GradingTask, error)
	GetTask(ctx context.Context, taskID string) (*domain.GradingTask, error)
	GraderQueues(ctx context.Context, assignmentID string) ([]domain.GraderQueue, error)
	NextTask(ctx context.Context, assignmentID, graderID string) (*domain.GradingTask, error)
	ListTasks(ctx context.Context, assignmentID, graderID string) ([]domain.GradingTask, error)
	SetTaskScore(ctx context.Context, taskID, scoreID string) error
}

// TaskManager splits manual grading work across staff graders
type TaskManager struct {
	store  TaskStore
	ledger *Ledger
	cache  CountCache
	logger *slog.Logger
}

// NewTaskManager creates a task manager. A nil cache disables caching.
func NewTaskManager(store TaskStore, ledger *Ledger, cache CountCache, logger *slog.Logger) *TaskManager {
	if cache == nil {
		cache = NoopCountCache{}
	}
	return &TaskManager{
		store:  store,
		ledger: ledger,
		cache:  cache,
		logger: logger,
	}
}

// CreateStaffTasks assigns every backup without a task to exactly one
// grader. Backups are split into contiguous chunks in input order; chunk i
// goes to grader i and chunk sizes differ by at most one.
func (m *TaskManager) CreateStaffTasks(ctx context.Context, backupIDs, graderIDs []string, assignmentID, courseID, kind string) ([]domain.GradingTask, error) {
	if len(graderIDs) == 0 {
		return nil, domain.ErrNoGraders
	}

	staff, err := m.store.StaffMembers(ctx, courseID, graderIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range graderIDs {
		if !staff[id] {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotStaff, id)
		}
	}

	tasked, err := m.store.TaskedBackups(ctx, assignmentID, backupIDs)
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(backupIDs))
	seen := make(map[string]bool, len(backupIDs))
	for _, id := range backupIDs {
		if tasked[id] || seen[id] {
			continue
		}
		seen[id] = true
		pending = append(pending, id)
	}

	if len(pending) == 0 {
		m.logger.Info("All backups already have grading tasks",
			slog.String("assignment_id", assignmentID),
			slog.Int("requested", len(backupIDs)),
		)
		return []domain.GradingTask{}, nil
	}

	var tasks []domain.GradingTask
	for i, chunk := range Partition(pending, len(graderIDs)) {
		for _, backupID := range chunk {
			tasks = append(tasks, domain.GradingTask{
				ID:           uuid.NewString(),
				AssignmentID: assignmentID,
				BackupID:     backupID,
				GraderID:     graderIDs[i],
				CourseID:     courseID,
				Kind:         kind,
			})
		}
	}

	created, err := m.store.CreateTasks(ctx, tasks)
	if err != nil {
		return nil, err
	}
	m.cache.Invalidate(ctx, assignmentID)

	m.logger.Info("Created grading tasks",
		slog.String("assignment_id", assignmentID),
		slog.Int("tasks", len(created)),
		slog.Int("skipped", len(backupIDs)-len(created)),
		slog.Int("graders", len(graderIDs)),
	)

	return created, nil
}

// Partition splits items into n contiguous chunks whose sizes differ by at
// most one, earlier chunks taking the remainder
func Partition(items []string, n int) [][]string {
	if n <= 0 {
		return nil
	}

	k, r := len(items)/n, len(items)%n
	chunks := make([][]string, n)
	for i := 0; i < n; i++ {
		start := i*k + min(i, r)
		end := (i+1)*k + min(i+1, r)
		chunks[i] = items[start:end]
	}
	return chunks
}

// GetStaffTasks returns each grader's completed and total counts, most
// outstanding work first
func (m *TaskManager) GetStaffTasks(ctx context.Context, assignmentID string) ([]domain.GraderQueue, error) {
	if queues, ok := m.cache.Get(ctx, assignmentID); ok {
		return queues, nil
	}

	queues, err := m.store.GraderQueues(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(queues, func(i, j int) bool {
		oi, oj := queues[i].Outstanding(), queues[j].Outstanding()
		if oi != oj {
			return oi > oj
		}
		return queues[i].GraderID < queues[j].GraderID
	})

	m.cache.Set(ctx, assignmentID, queues)
	return queues, nil
}

// GetNextTask returns the grader's oldest task without a score, or nil
func (m *TaskManager) GetNextTask(ctx context.Context, graderID, assignmentID string) (*domain.GradingTask, error) {
	return m.store.NextTask(ctx, assignmentID, graderID)
}

// ListTasks returns the tasks of an assignment, optionally for one grader
func (m *TaskManager) ListTasks(ctx context.Context, assignmentID, graderID string) ([]domain.GradingTask, error) {
	return m.store.ListTasks(ctx, assignmentID, graderID)
}

// CompleteTask records the grader's score for a task and links it. Grading
// a completed task again supersedes the earlier score.
func (m *TaskManager) CompleteTask(ctx context.Context, taskID, graderID string, value float64, message string) (*domain.GradingTask, *domain.Score, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.GraderID != graderID {
		return nil, nil, domain.ErrTaskNotAssigned
	}

	score, err := m.ledger.Record(ctx, NewScore{
		BackupID: task.BackupID,
		GraderID: graderID,
		Kind:     task.Kind,
		Value:    value,
		Message:  message,
	})
	if err != nil {
		if errors.Is(err, domain.ErrBackupNotFound) {
			return nil, nil, fmt.Errorf("task %s points at a missing backup: %w", taskID, err)
		}
		return nil, nil, err
	}

	if err := m.store.SetTaskScore(ctx, task.ID, score.ID); err != nil {
		return nil, nil, err
	}
	m.cache.Invalidate(ctx, task.AssignmentID)

	task.ScoreID = &score.ID
	return task, score, nil
}
