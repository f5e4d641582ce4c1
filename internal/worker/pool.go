package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes jobs until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for jd := range w.jobsChan {
		w.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", jd.msg.JobID),
			slog.String("function", jd.msg.Function),
		)

		err := w.handle(ctx, jd.msg)
		if err != nil {
			w.logger.Error("Job processing failed",
				slog.String("worker_name", workerName),
				slog.String("job_id", jd.msg.JobID),
				slog.Any("error", err),
			)

			requeue := shouldRequeueJob(err)
			w.nack(jd.delivery, requeue)
			w.logger.Info("Message NACKed",
				slog.String("job_id", jd.msg.JobID),
				slog.Bool("requeue", requeue),
			)
			continue
		}

		if ackErr := jd.delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", jd.msg.JobID),
				slog.Any("error", ackErr),
			)
		}
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// shouldRequeueJob requeues only transient failures
func shouldRequeueJob(err error) bool {
	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
