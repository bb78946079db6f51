package engine

import (
	"context"
	"sync"
)

// ExecutionContext is the ambient context an engine resolves definitions through.
type ExecutionContext interface {
	Name() string
}

// NamedContext is an ExecutionContext identified by name only.
type NamedContext string

// Name implements ExecutionContext.
func (n NamedContext) Name() string { return string(n) }

// ContextHolder holds the active ExecutionContext for a worker.
// Components that replace the active context restore the previous one before returning.
type ContextHolder interface {
	Current() ExecutionContext
	Set(ec ExecutionContext) error
}

// LocalHolder is a ContextHolder owned by a single worker.
type LocalHolder struct {
	mu      sync.Mutex
	current ExecutionContext
}

// NewLocalHolder creates a holder with the given initial context (may be nil).
func NewLocalHolder(initial ExecutionContext) *LocalHolder {
	return &LocalHolder{current: initial}
}

// Current returns the active context.
func (h *LocalHolder) Current() ExecutionContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Set replaces the active context.
func (h *LocalHolder) Set(ec ExecutionContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = ec
	return nil
}

type holderKey struct{}

// WithHolder attaches a worker's ContextHolder to ctx.
func WithHolder(ctx context.Context, h ContextHolder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

// HolderFrom returns the ContextHolder attached to ctx.
func HolderFrom(ctx context.Context) (ContextHolder, bool) {
	h, ok := ctx.Value(holderKey{}).(ContextHolder)
	return h, ok
}

// ActiveContext returns the ExecutionContext active for ctx's worker, or nil.
func ActiveContext(ctx context.Context) ExecutionContext {
	if h, ok := HolderFrom(ctx); ok {
		return h.Current()
	}
	return nil
}
