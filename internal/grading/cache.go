package grading

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/shared/redis"
)

// CountCache caches per-grader task counts of an assignment. Failures are
// logged and treated as misses.
type CountCache interface {
	Get(ctx context.Context, assignmentID string) ([]domain.GraderQueue, bool)
	Set(ctx context.Context, assignmentID string, queues []domain.GraderQueue)
	Invalidate(ctx context.Context, assignmentID string)
}

// RedisCountCache stores counts as JSON under one key per assignment
type RedisCountCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCountCache creates a cache with the given TTL
func NewRedisCountCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCountCache {
	return &RedisCountCache{client: client, ttl: ttl, logger: logger}
}

func countKey(assignmentID string) string {
	return "grading:staff_tasks:" + assignmentID
}

// Get returns cached counts
func (c *RedisCountCache) Get(ctx context.Context, assignmentID string) ([]domain.GraderQueue, bool) {
	raw, err := c.client.Get(ctx, countKey(assignmentID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn("Failed to read grader counts from cache",
				slog.String("assignment_id", assignmentID),
				slog.Any("error", err),
			)
		}
		return nil, false
	}

	var queues []domain.GraderQueue
	if err := json.Unmarshal(raw, &queues); err != nil {
		c.logger.Warn("Discarding corrupt grader counts",
			slog.String("assignment_id", assignmentID),
			slog.Any("error", err),
		)
		c.Invalidate(ctx, assignmentID)
		return nil, false
	}
	return queues, true
}

// Set stores counts unless an entry already exists. A fill computed before a
// concurrent Invalidate can still land after it; the TTL bounds how long such
// an entry is served.
func (c *RedisCountCache) Set(ctx context.Context, assignmentID string, queues []domain.GraderQueue) {
	raw, err := json.Marshal(queues)
	if err != nil {
		return
	}
	if _, err := c.client.SetIfAbsent(ctx, countKey(assignmentID), raw, c.ttl); err != nil {
		c.logger.Warn("Failed to cache grader counts",
			slog.String("assignment_id", assignmentID),
			slog.Any("error", err),
		)
	}
}

// Invalidate drops cached counts
func (c *RedisCountCache) Invalidate(ctx context.Context, assignmentID string) {
	if err := c.client.Delete(ctx, countKey(assignmentID)); err != nil {
		c.logger.Warn("Failed to invalidate grader counts",
			slog.String("assignment_id", assignmentID),
			slog.Any("error", err),
		)
	}
}

// NoopCountCache is used when Redis is not configured
type NoopCountCache struct{}

func (NoopCountCache) Get(context.Context, string) ([]domain.GraderQueue, bool) { return nil, false }
func (NoopCountCache) Set(context.Context, string, []domain.GraderQueue)        {}
func (NoopCountCache) Invalidate(context.Context, string)                       {}
