package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/internal/grading"
	"github.com/cuongbtq/grading-coordinator/internal/jobrunner"
	"github.com/cuongbtq/grading-coordinator/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "user_id"

// Store is the storage surface the handlers read directly
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	GetAssignment(ctx context.Context, assignmentID string) (*domain.Assignment, error)
	GetBackup(ctx context.Context, backupID string) (*domain.Backup, error)
	IsStaff(ctx context.Context, courseID, userID string) (bool, error)
}

// Enqueuer creates background jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobrunner.EnqueueRequest) (*domain.Job, error)
}

// TokenVerifier checks autograder bearer tokens
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*domain.AccessToken, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Health HealthChecker
	Store  Store
	Jobs   Enqueuer
	Tasks  *grading.TaskManager
	Ledger *grading.Ledger
	Tokens TokenVerifier
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	store  Store
	jobs   Enqueuer
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		store:  deps.Store,
		jobs:   deps.Jobs,
	}
}

// GradingHandler handles staff tasks and scores
type GradingHandler struct {
	logger *slog.Logger
	store  Store
	tasks  *grading.TaskManager
	ledger *grading.Ledger
	tokens TokenVerifier
}

// NewGradingHandler creates a new GradingHandler instance
func NewGradingHandler(deps *Dependencies) *GradingHandler {
	return &GradingHandler{
		logger: deps.Logger,
		store:  deps.Store,
		tasks:  deps.Tasks,
		ledger: deps.Ledger,
		tokens: deps.Tokens,
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// requireStaff loads the assignment and checks that the caller is staff in
// its course. It writes the error response and returns nil on failure.
func requireStaff(c *gin.Context, store Store, logger *slog.Logger) *domain.Assignment {
	ctx := c.Request.Context()

	assignment, err := store.GetAssignment(ctx, c.Param("assignment_id"))
	if err != nil {
		writeError(c, logger, err)
		return nil
	}

	staff, err := store.IsStaff(ctx, assignment.CourseID, currentUser(c))
	if err != nil {
		writeError(c, logger, err)
		return nil
	}
	if !staff {
		writeError(c, logger, domain.ErrNotStaff)
		return nil
	}

	return assignment
}

// writeError maps domain errors to HTTP statuses
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var validationErrs validator.ValidationErrors

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrAssignmentNotFound),
		errors.Is(err, domain.ErrBackupNotFound),
		errors.Is(err, domain.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotStaff),
		errors.Is(err, domain.ErrTaskNotAssigned):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidJob),
		errors.Is(err, domain.ErrNoGraders),
		errors.Is(err, domain.ErrNoAutogradingKey),
		errors.As(err, &validationErrs):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
