// Package cancelreg keeps named cancellation handles for in-flight
// requests. IDs are caller-supplied; registering an ID twice replaces the
// prior handle.
package cancelreg

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Registry maps cancel-token IDs to context cancel functions. Handles are
// registered when a request starts and removed when it settles, whatever
// the outcome.
type Registry struct {
	mu      sync.Mutex
	handles map[string]context.CancelFunc

	logger *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handles: make(map[string]context.CancelFunc),
		logger:  logger,
	}
}

// Set registers a handle, replacing any prior handle with the same ID.
func (r *Registry) Set(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = cancel
}

// Get returns the handle for id.
func (r *Registry) Get(id string) (context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.handles[id]
	return cancel, ok
}

// Delete removes an entry without invoking it. Idempotent.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// CancelByID invokes and removes the named handle. The associated request
// fails with a Cancelled error. Returns false when no such handle exists.
func (r *Registry) CancelByID(id string) bool {
	r.mu.Lock()
	cancel, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	r.logger.Debug("request cancelled by id", zap.String("cancel_id", id))
	return true
}

// CancelAll invokes every registered handle and empties the registry.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]context.CancelFunc)
	r.mu.Unlock()

	for _, cancel := range handles {
		cancel()
	}
	if len(handles) > 0 {
		r.logger.Info("cancelled all in-flight requests", zap.Int("count", len(handles)))
	}
	return len(handles)
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
