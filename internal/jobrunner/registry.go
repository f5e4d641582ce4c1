package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

// Func is the body of a background job. The returned string is stored as the
// job result.
type Func func(ctx context.Context, jc *Context) (string, error)

// Context is handed to every job function. Anything written to Logger ends
// up in the job's persisted log.
type Context struct {
	JobID    string
	UserID   string
	CourseID string
	Args     json.RawMessage
	Logger   *slog.Logger
}

// Bind decodes the job arguments into v
func (c *Context) Bind(v interface{}) error {
	if len(c.Args) == 0 {
		return fmt.Errorf("job %s has no arguments", c.JobID)
	}
	if err := json.Unmarshal(c.Args, v); err != nil {
		return fmt.Errorf("failed to decode job arguments: %w", err)
	}
	return nil
}

// Registry maps function names carried in job messages to implementations
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds name to fn, replacing any previous binding
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns the function registered under name
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFunction, name)
	}
	return fn, nil
}

// Names lists registered function names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
