package jobrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/shared/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Store is the slice of storage the runner needs
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	StartJob(ctx context.Context, jobID string) error
	FinishJob(ctx context.Context, jobID string, failed bool, log, result string) error
}

// Publisher hands a job message to the queue backend
type Publisher interface {
	Publish(ctx context.Context, msg *domain.JobMessage) error
}

// Handler executes one delivered job message. A non-nil error means the
// message could not be processed; a RetryableError asks for redelivery.
type Handler func(ctx context.Context, msg *domain.JobMessage) error

// EnqueueRequest describes a job to create
type EnqueueRequest struct {
	UserID      string        `validate:"required"`
	CourseID    string        `validate:"required"`
	Function    string        `validate:"required"`
	Description string        `validate:"required,max=255"`
	Args        interface{}   `validate:"-"`
	Timeout     time.Duration `validate:"gte=0"`
}

// Options configures a Runner
type Options struct {
	// DefaultTimeout applies to messages that carry no timeout
	DefaultTimeout time.Duration
}

// Runner creates durable job records, publishes them, and executes
// delivered messages with containment of errors and panics.
type Runner struct {
	store          Store
	publisher      Publisher
	registry       *Registry
	validate       *validator.Validate
	logger         *slog.Logger
	defaultTimeout time.Duration
}

// NewRunner creates a Runner. publisher may be nil for processes that only
// execute jobs.
func NewRunner(store Store, publisher Publisher, registry *Registry, opts Options, logger *slog.Logger) *Runner {
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}

	return &Runner{
		store:          store,
		publisher:      publisher,
		registry:       registry,
		validate:       validator.New(),
		logger:         logger,
		defaultTimeout: timeout,
	}
}

// Enqueue records a queued job and publishes it. When the broker rejects the
// message the job is finished as failed right away and returned without an
// error; the caller inspects the job to see the outcome.
func (r *Runner) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	if err := r.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}

	var args json.RawMessage
	if req.Args != nil {
		raw, err := json.Marshal(req.Args)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode arguments: %v", domain.ErrInvalidJob, err)
		}
		args = raw
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		Status:         domain.JobStatusQueued,
		UserID:         req.UserID,
		CourseID:       req.CourseID,
		FunctionName:   req.Function,
		Description:    req.Description,
		TimeoutSeconds: int(timeout / time.Second),
	}

	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	msg := &domain.JobMessage{
		JobID:          job.ID,
		Function:       job.FunctionName,
		Args:           args,
		TimeoutSeconds: job.TimeoutSeconds,
	}

	if err := r.publish(ctx, msg); err != nil {
		r.logger.Error("Failed to publish job, marking it failed",
			slog.String("job_id", job.ID),
			slog.String("function", job.FunctionName),
			slog.Any("error", err),
		)

		log := fmt.Sprintf("failed to enqueue job: %v\n", err)
		if ferr := r.store.FinishJob(ctx, job.ID, true, log, ""); ferr != nil {
			return nil, fmt.Errorf("failed to record enqueue failure: %w", ferr)
		}

		job.Status = domain.JobStatusFinished
		job.Failed = true
		job.Log = log
		return job, nil
	}

	r.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("function", job.FunctionName),
		slog.String("course_id", job.CourseID),
	)

	return job, nil
}

func (r *Runner) publish(ctx context.Context, msg *domain.JobMessage) error {
	if r.publisher == nil {
		return errors.New("no queue backend configured")
	}
	return r.publisher.Publish(ctx, msg)
}

// Execute runs a delivered message with the function registered under its
// name. Unknown names finish the job as failed.
func (r *Runner) Execute(ctx context.Context, msg *domain.JobMessage) error {
	fn, err := r.registry.Lookup(msg.Function)
	if err != nil {
		fn = func(context.Context, *Context) (string, error) { return "", err }
	}
	return r.Wrap(fn)(ctx, msg)
}

// Wrap turns fn into a Handler that moves the job through
// queued -> running -> finished. Errors and panics raised by fn are written
// to the job log and never escape; the handler itself only fails on storage
// problems.
func (r *Runner) Wrap(fn Func) Handler {
	return func(ctx context.Context, msg *domain.JobMessage) error {
		if err := r.store.StartJob(ctx, msg.JobID); err != nil {
			switch {
			case errors.Is(err, domain.ErrJobNotQueued):
				r.logger.Warn("Job already started, skipping delivery",
					slog.String("job_id", msg.JobID),
				)
				return nil
			case errors.Is(err, domain.ErrJobNotFound):
				r.logger.Error("Job record not found, dropping message",
					slog.String("job_id", msg.JobID),
				)
				return nil
			}
			return domain.NewRetryableError(fmt.Errorf("failed to start job: %w", err))
		}

		job, err := r.store.GetJob(ctx, msg.JobID)
		if err != nil {
			return r.finish(ctx, msg.JobID, true, fmt.Sprintf("failed to load job: %v\n", err), "")
		}

		var buf bytes.Buffer
		jc := &Context{
			JobID:    job.ID,
			UserID:   job.UserID,
			CourseID: job.CourseID,
			Args:     msg.Args,
			Logger:   logger.NewBuffered(&buf),
		}

		timeout := msg.Timeout()
		if timeout <= 0 {
			timeout = r.defaultTimeout
		}
		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		r.logger.Info("Processing job",
			slog.String("job_id", job.ID),
			slog.String("function", job.FunctionName),
			slog.Duration("timeout", timeout),
		)

		start := time.Now()
		result, runErr := call(jobCtx, fn, jc)
		if runErr != nil {
			var p *panicError
			if errors.As(runErr, &p) {
				jc.Logger.Error(fmt.Sprintf("panic: %T: %v", p.value, p.value))
				jc.Logger.Error(string(p.stack))
			} else {
				jc.Logger.Error(fmt.Sprintf("%T: %v", runErr, runErr))
			}
		}

		r.logger.Info("Job execution finished",
			slog.String("job_id", job.ID),
			slog.Bool("failed", runErr != nil),
			slog.Duration("duration", time.Since(start)),
		)

		return r.finish(ctx, job.ID, runErr != nil, buf.String(), result)
	}
}

// finish persists the outcome even when the job context has been cancelled
func (r *Runner) finish(ctx context.Context, jobID string, failed bool, log, result string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := r.store.FinishJob(ctx, jobID, failed, log, result); err != nil {
		r.logger.Error("Failed to record job outcome",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// panicError carries a recovered panic value and the stack at the panic site
type panicError struct {
	value interface{}
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// call runs fn and converts a panic into a *panicError
func call(ctx context.Context, fn Func, jc *Context) (result string, err error) {
	defer func() {
		if v := recover(); v != nil {
			result = ""
			err = &panicError{value: v, stack: debug.Stack()}
		}
	}()

	return fn(ctx, jc)
}
