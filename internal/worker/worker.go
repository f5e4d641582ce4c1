package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/internal/jobrunner"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Start when the broker closes the
// delivery channel
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Source is where deliveries come from; shared/rabbitmq.Client implements it
type Source interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Source        Source
	Handler       jobrunner.Handler
	WorkerID      string
	Concurrency   int
	PrefetchCount int
}

// Worker consumes job messages from RabbitMQ and runs them on a fixed pool
// of goroutines. Each delivery is acknowledged once its handler returns.
type Worker struct {
	logger        *slog.Logger
	source        Source
	handle        jobrunner.Handler
	workerID      string
	concurrency   int
	prefetchCount int
	jobsChan      chan *jobDelivery
	wg            sync.WaitGroup
}

// jobDelivery pairs a decoded message with the delivery to ACK or NACK
type jobDelivery struct {
	msg      *domain.JobMessage
	delivery amqp.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		handle:        cfg.Handler,
		workerID:      cfg.WorkerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobsChan:      make(chan *jobDelivery),
	}
}

// Start consumes until ctx is cancelled or the broker goes away. In-flight
// jobs are allowed to finish before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(context.WithoutCancel(ctx))

	err = w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))

	return err
}
