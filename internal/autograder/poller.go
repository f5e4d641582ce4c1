package autograder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

// Status of one backup within an autograding run
type Status string

const (
	StatusPending Status = "PENDING"
	StatusWaiting Status = "WAITING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether the status can no longer change
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Task tracks one backup through an autograding run. It lives only in
// memory for the duration of the run.
type Task struct {
	BackupID        string
	JobID           string
	Status          Status
	Retries         int
	DispatchedAt    time.Time
	StatusChangedAt time.Time
}

// Sender dispatches backups; *Dispatcher implements it
type Sender interface {
	SendBatch(ctx context.Context, userID string, assignment *domain.Assignment, backupIDs []string, priority string) (map[string]string, error)
}

// ResultFetcher reads autograder job states; *Client implements it
type ResultFetcher interface {
	Results(ctx context.Context, jobIDs []string) (map[string]*Result, error)
}

// ScoreChecker tells whether a backup got a live score after a point in time
type ScoreChecker interface {
	HasScoreSince(ctx context.Context, backupID string, since time.Time) (bool, error)
}

// PollerConfig holds the retry budget and the wall-clock thresholds
type PollerConfig struct {
	MaxRetries   int
	JobTimeout   time.Duration
	ScoreTimeout time.Duration
	PollInterval time.Duration
}

// DefaultPollerConfig returns the stock thresholds
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		MaxRetries:   3,
		JobTimeout:   10 * time.Second,
		ScoreTimeout: 10 * time.Second,
		PollInterval: 5 * time.Second,
	}
}

// Summary is the outcome of a run
type Summary struct {
	Graded int
	Failed int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d graded, %d failed", s.Graded, s.Failed)
}

// Poller drives an autograding run: dispatch once, then poll on a fixed
// interval until every backup is DONE or FAILED
type Poller struct {
	sender  Sender
	results ResultFetcher
	scores  ScoreChecker
	cfg     PollerConfig
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller using the wall clock
func NewPoller(sender Sender, results ResultFetcher, scores ScoreChecker, cfg PollerConfig) *Poller {
	return &Poller{
		sender:  sender,
		results: results,
		scores:  scores,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run is the state of one Run call
type run struct {
	*Poller
	userID     string
	assignment *domain.Assignment
	start      time.Time
	tasks      []*Task
	logger     *slog.Logger
}

// Run autogrades backupIDs and blocks until each one is DONE or FAILED.
// Per-backup failures are part of the summary, not errors; Run only fails
// when the assignment cannot be autograded or ctx ends.
func (p *Poller) Run(ctx context.Context, userID string, assignment *domain.Assignment, backupIDs []string, logger *slog.Logger) (Summary, error) {
	if len(backupIDs) == 0 {
		return Summary{}, nil
	}

	r := &run{
		Poller:     p,
		userID:     userID,
		assignment: assignment,
		start:      p.now(),
		logger:     logger,
	}

	jobs, err := p.sender.SendBatch(ctx, userID, assignment, backupIDs, PriorityDefault)
	if err != nil {
		if errors.Is(err, domain.ErrNoAutogradingKey) {
			return Summary{}, err
		}
		logger.Warn("Batch dispatch failed, backups will be retried one by one",
			slog.Any("error", err),
		)
	}

	for _, id := range backupIDs {
		r.tasks = append(r.tasks, &Task{
			BackupID:        id,
			JobID:           jobs[id],
			Status:          StatusPending,
			DispatchedAt:    r.start,
			StatusChangedAt: r.start,
		})
	}

	for !r.finished() {
		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return r.summary(), fmt.Errorf("autograding interrupted: %w", err)
		}
		r.cycle(ctx)
		r.logProgress()
	}

	return r.summary(), nil
}

// finished reports whether every task is terminal
func (r *run) finished() bool {
	for _, t := range r.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

func (r *run) summary() Summary {
	var s Summary
	for _, t := range r.tasks {
		switch t.Status {
		case StatusDone:
			s.Graded++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

func (r *run) logProgress() {
	s := r.summary()
	total := len(r.tasks)
	r.logger.Info(fmt.Sprintf("Graded %d/%d (%d%%)", s.Graded, total, s.Graded*100/total))
}

// cycle makes one poll of every outstanding job and applies the transitions
func (r *run) cycle(ctx context.Context) {
	now := r.now()

	var ids []string
	for _, t := range r.tasks {
		if t.Status == StatusPending && t.JobID != "" {
			ids = append(ids, t.JobID)
		}
	}

	var results map[string]*Result
	if len(ids) > 0 {
		var err error
		results, err = r.results.Results(ctx, ids)
		if err != nil {
			r.logger.Warn("Failed to poll autograder results", slog.Any("error", err))
		}
	}

	for _, t := range r.tasks {
		switch t.Status {
		case StatusPending:
			r.checkPending(ctx, t, results, now)
		case StatusWaiting:
			r.checkWaiting(ctx, t, now)
		}
	}
}

func (r *run) checkPending(ctx context.Context, t *Task, results map[string]*Result, now time.Time) {
	if t.JobID != "" {
		if res, ok := results[t.JobID]; ok {
			switch {
			case res == nil:
				r.logger.Warn(fmt.Sprintf("Autograder lost job %s for backup %s", t.JobID, t.BackupID))
				r.retry(ctx, t, now)
				return
			case res.Status == ResultFailed:
				r.logger.Warn(fmt.Sprintf("Autograder job %s for backup %s failed: %s", t.JobID, t.BackupID, res.Result))
				r.retry(ctx, t, now)
				return
			case res.Status == ResultFinished:
				t.Status = StatusWaiting
				t.StatusChangedAt = now
				return
			}
		}
	}

	if now.Sub(t.DispatchedAt) > r.cfg.JobTimeout {
		r.logger.Warn(fmt.Sprintf("Autograder job for backup %s timed out", t.BackupID))
		r.retry(ctx, t, now)
	}
}

func (r *run) checkWaiting(ctx context.Context, t *Task, now time.Time) {
	scored, err := r.scores.HasScoreSince(ctx, t.BackupID, r.start)
	if err != nil {
		r.logger.Warn("Failed to check for a score",
			slog.String("backup_id", t.BackupID),
			slog.Any("error", err),
		)
	}
	if scored {
		t.Status = StatusDone
		t.StatusChangedAt = now
		return
	}

	if now.Sub(t.StatusChangedAt) > r.cfg.ScoreTimeout {
		r.logger.Warn(fmt.Sprintf("No score arrived for backup %s", t.BackupID))
		r.retry(ctx, t, now)
	}
}

// retry re-dispatches a single backup with high priority, or gives up once
// the retry budget is spent
func (r *run) retry(ctx context.Context, t *Task, now time.Time) {
	if t.Retries >= r.cfg.MaxRetries {
		t.Status = StatusFailed
		t.StatusChangedAt = now
		r.logger.Error(fmt.Sprintf("Giving up on backup %s after %d retries", t.BackupID, t.Retries))
		return
	}

	t.Retries++
	t.Status = StatusPending
	t.DispatchedAt = now
	t.StatusChangedAt = now
	t.JobID = ""

	jobs, err := r.sender.SendBatch(ctx, r.userID, r.assignment, []string{t.BackupID}, PriorityHigh)
	if err != nil {
		r.logger.Warn(fmt.Sprintf("Retry %d/%d for backup %s could not be dispatched: %v", t.Retries, r.cfg.MaxRetries, t.BackupID, err))
		return
	}

	t.JobID = jobs[t.BackupID]
	r.logger.Info(fmt.Sprintf("Retry %d/%d for backup %s dispatched as job %s", t.Retries, r.cfg.MaxRetries, t.BackupID, t.JobID))
}
