package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/internal/jobrunner"
	"github.com/hibiken/asynq"
)

// TaskTypeJob is the asynq task type carrying job messages
const TaskTypeJob = "grading:job"

// AsynqPublisher enqueues job messages as asynq tasks. The task id is the
// job id, so a job can only be enqueued once.
type AsynqPublisher struct {
	client *asynq.Client
	queue  string
}

// NewAsynqPublisher creates a publisher writing to queue
func NewAsynqPublisher(redisOpt asynq.RedisClientOpt, queue string) *AsynqPublisher {
	if queue == "" {
		queue = "default"
	}
	return &AsynqPublisher{
		client: asynq.NewClient(redisOpt),
		queue:  queue,
	}
}

// Publish enqueues msg
func (p *AsynqPublisher) Publish(ctx context.Context, msg *domain.JobMessage) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.TaskID(msg.JobID),
		asynq.Queue(p.queue),
	}
	if timeout := msg.Timeout(); timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}

	if _, err := p.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeJob, body), opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}

// AsynqServer executes job tasks from Redis with the job runner
type AsynqServer struct {
	server *asynq.Server
	handle jobrunner.Handler
	logger *slog.Logger
}

// AsynqServerConfig configures the asynq worker side
type AsynqServerConfig struct {
	Queue       string
	Concurrency int
}

// NewAsynqServer creates a server that hands every job task to handle
func NewAsynqServer(redisOpt asynq.RedisClientOpt, cfg AsynqServerConfig, handle jobrunner.Handler, logger *slog.Logger) *AsynqServer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      newAsynqLogger(logger),
	})

	return &AsynqServer{server: server, handle: handle, logger: logger}
}

// Mux returns the handler registrations used by Start
func (s *AsynqServer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeJob, s.processTask)
	return mux
}

// processTask decodes the task and runs it. Only retryable errors are
// returned to asynq as retryable; anything else skips retry.
func (s *AsynqServer) processTask(ctx context.Context, t *asynq.Task) error {
	msg, err := Decode(t.Payload())
	if err != nil {
		s.logger.Error("Dropping malformed task", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := s.handle(ctx, msg); err != nil {
		var retryable *domain.RetryableError
		if errors.As(err, &retryable) {
			return err
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// Start runs the server in the background
func (s *AsynqServer) Start() error {
	if err := s.server.Start(s.Mux()); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	s.logger.Info("Asynq server started")
	return nil
}

// Shutdown waits for in-flight tasks and stops the server
func (s *AsynqServer) Shutdown() {
	s.server.Shutdown()
	s.logger.Info("Asynq server stopped")
}

// asynqLogger routes asynq's internal logging through slog
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) *asynqLogger {
	return &asynqLogger{logger: logger.With(slog.String("component", "asynq"))}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
