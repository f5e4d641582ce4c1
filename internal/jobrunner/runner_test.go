package jobrunner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/internal/storage"
	"github.com/cuongbtq/grading-coordinator/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher records messages or fails every publish
type fakePublisher struct {
	mu       sync.Mutex
	messages []*domain.JobMessage
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, msg *domain.JobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// deliver runs every published message through the runner
func (p *fakePublisher) deliver(t *testing.T, r *Runner) {
	t.Helper()
	p.mu.Lock()
	msgs := p.messages
	p.messages = nil
	p.mu.Unlock()

	for _, msg := range msgs {
		require.NoError(t, r.Execute(context.Background(), msg))
	}
}

type quotaError struct{ limit int }

func (e *quotaError) Error() string { return "quota exceeded" }

func newRunner(t *testing.T, pub Publisher, opts Options) (*Runner, *Registry, *storage.Storage) {
	t.Helper()
	store := storagetest.New(t)
	registry := NewRegistry()
	return NewRunner(store, pub, registry, opts, slog.New(slog.NewTextHandler(io.Discard, nil))), registry, store
}

func enqueueRequest(function string) EnqueueRequest {
	return EnqueueRequest{
		UserID:      "u1",
		CourseID:    "c1",
		Function:    function,
		Description: "test job",
		Args:        map[string]string{"assignment_id": "a1"},
	}
}

func TestRunner_EnqueueAndExecute(t *testing.T) {
	pub := &fakePublisher{}
	runner, registry, store := newRunner(t, pub, Options{})
	ctx := context.Background()

	registry.Register("echo", func(ctx context.Context, jc *Context) (string, error) {
		var args struct {
			AssignmentID string `json:"assignment_id"`
		}
		if err := jc.Bind(&args); err != nil {
			return "", err
		}
		jc.Logger.Info("working", slog.String("assignment", args.AssignmentID))
		return "done " + args.AssignmentID, nil
	})

	job, err := runner.Enqueue(ctx, enqueueRequest("echo"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, job.ID, pub.messages[0].JobID)

	// no explicit timeout falls back to the runner default
	assert.Equal(t, 2*60*60, job.TimeoutSeconds)
	assert.Equal(t, 2*time.Hour, pub.messages[0].Timeout())

	pub.deliver(t, runner)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFinished, got.Status)
	assert.False(t, got.Failed)
	assert.Equal(t, "done a1", got.Result)
	assert.Contains(t, got.Log, "working")
	assert.Contains(t, got.Log, "assignment=a1")
}

func TestRunner_EnqueueBrokerDown(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	runner, registry, store := newRunner(t, pub, Options{})
	ctx := context.Background()

	var calls int32
	registry.Register("side_effect", func(context.Context, *Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", nil
	})

	job, err := runner.Enqueue(ctx, enqueueRequest("side_effect"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFinished, job.Status)
	assert.True(t, job.Failed)
	assert.Contains(t, job.Log, "connection refused")

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFinished, got.Status)
	assert.True(t, got.Failed)

	// a stray delivery of the same message must not run the body
	msg := &domain.JobMessage{JobID: job.ID, Function: "side_effect"}
	require.NoError(t, runner.Execute(ctx, msg))
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestRunner_EnqueueValidation(t *testing.T) {
	runner, _, _ := newRunner(t, &fakePublisher{}, Options{})

	req := enqueueRequest("echo")
	req.CourseID = ""

	_, err := runner.Enqueue(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidJob)
}

func TestRunner_FailureContainment(t *testing.T) {
	tests := []struct {
		name       string
		fn         Func
		wantInLog  []string
		wantFailed bool
	}{
		{
			name: "returned error is logged with its type",
			fn: func(context.Context, *Context) (string, error) {
				return "", &quotaError{limit: 3}
			},
			wantInLog:  []string{"*jobrunner.quotaError: quota exceeded"},
			wantFailed: true,
		},
		{
			name: "panic is recovered with a stack",
			fn: func(context.Context, *Context) (string, error) {
				panic("kaboom")
			},
			wantInLog:  []string{"panic: string: kaboom", "goroutine"},
			wantFailed: true,
		},
		{
			name: "runtime panic",
			fn: func(context.Context, *Context) (string, error) {
				var m map[string]int
				m["x"] = 1
				return "", nil
			},
			wantInLog:  []string{"assignment to entry in nil map"},
			wantFailed: true,
		},
		{
			name: "log lines before the failure are kept",
			fn: func(_ context.Context, jc *Context) (string, error) {
				jc.Logger.Info("step one")
				return "", errors.New("step two broke")
			},
			wantInLog:  []string{"step one", "*errors.errorString: step two broke"},
			wantFailed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			runner, registry, store := newRunner(t, pub, Options{})
			registry.Register("job", tt.fn)

			job, err := runner.Enqueue(context.Background(), enqueueRequest("job"))
			require.NoError(t, err)
			pub.deliver(t, runner)

			got, err := store.GetJob(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusFinished, got.Status)
			assert.Equal(t, tt.wantFailed, got.Failed)
			for _, s := range tt.wantInLog {
				assert.Contains(t, got.Log, s)
			}
		})
	}
}

func TestRunner_DuplicateDelivery(t *testing.T) {
	pub := &fakePublisher{}
	runner, registry, _ := newRunner(t, pub, Options{})
	ctx := context.Background()

	var calls int32
	registry.Register("count", func(context.Context, *Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", nil
	})

	_, err := runner.Enqueue(ctx, enqueueRequest("count"))
	require.NoError(t, err)
	msg := pub.messages[0]

	require.NoError(t, runner.Execute(ctx, msg))
	require.NoError(t, runner.Execute(ctx, msg))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRunner_UnknownFunction(t *testing.T) {
	pub := &fakePublisher{}
	runner, _, store := newRunner(t, pub, Options{})
	ctx := context.Background()

	job, err := runner.Enqueue(ctx, enqueueRequest("nope"))
	require.NoError(t, err)
	pub.deliver(t, runner)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Failed)
	assert.Contains(t, got.Log, "unknown job function")
}

func TestRunner_Timeout(t *testing.T) {
	pub := &fakePublisher{}
	runner, registry, store := newRunner(t, pub, Options{DefaultTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	registry.Register("slow", func(ctx context.Context, _ *Context) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	})

	job, err := runner.Enqueue(ctx, enqueueRequest("slow"))
	require.NoError(t, err)
	pub.deliver(t, runner)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Failed)
	assert.Contains(t, got.Log, "deadline exceeded")
}

func TestRunner_StorageUnavailable(t *testing.T) {
	pub := &fakePublisher{}
	runner, registry, store := newRunner(t, pub, Options{})
	registry.Register("job", func(context.Context, *Context) (string, error) { return "", nil })

	_, err := runner.Enqueue(context.Background(), enqueueRequest("job"))
	require.NoError(t, err)
	require.NoError(t, store.DB().Close())

	err = runner.Execute(context.Background(), pub.messages[0])
	require.Error(t, err)

	var retryable *domain.RetryableError
	assert.ErrorAs(t, err, &retryable)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register("b", func(context.Context, *Context) (string, error) { return "", nil })
	registry.Register("a", func(context.Context, *Context) (string, error) { return "", nil })

	assert.Equal(t, []string{"a", "b"}, registry.Names())

	_, err := registry.Lookup("c")
	assert.ErrorIs(t, err, domain.ErrUnknownFunction)
}
