package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/merchkit/opshub/internal/domain"
)

// HandlerFunc executes one job. The returned payload is stored as the job
// result on success. Errors are classified via the typed wrappers in this
// package; a plain error is retryable.
type HandlerFunc func(ctx context.Context, job *domain.Job) (domain.Payload, error)

// Registry maps job types to handlers. Registration happens during startup;
// Freeze is called before workers start and rejects later mutation, so reads
// afterwards are lock-free.
type Registry struct {
	mu       sync.Mutex
	frozen   bool
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a job type. It fails on duplicates and after
// Freeze.
func (r *Registry) Register(jobType string, h HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", jobType)
	}
	if jobType == "" || h == nil {
		return fmt.Errorf("job type and handler are required")
	}
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for %q", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Freeze seals the registry against further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Handler returns the handler for a job type.
func (r *Registry) Handler(jobType string) (HandlerFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
