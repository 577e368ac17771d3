package resque

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler is a function that processes a job.
// It must respect ctx for cancellation.
type Handler func(ctx context.Context, job *Job) error

// Hook is a named job callback (before handle, on success, on error,
// on complete). Only a before-handle hook's Outcome is honoured.
type Hook func(ctx context.Context, job *Job) (Outcome, error)

// CustomFunc is the body of a custom worker, called once per interval.
type CustomFunc func(ctx context.Context, w *CustomWorker) error

// HandleOption configures handler registration.
type HandleOption func(*handlerConfig)

type handlerConfig struct {
	maxRetry     int
	retrySeconds RetrySeconds
	retrySet     bool
}

// DefaultMaxRetry sets the retry limit used when a job carries neither an
// explicit limit nor a retry delay list.
func DefaultMaxRetry(n int) HandleOption {
	return func(cfg *handlerConfig) { cfg.maxRetry = n }
}

// DefaultRetrySeconds sets the retry delays applied to jobs of this class
// that were enqueued without their own.
func DefaultRetrySeconds(r RetrySeconds) HandleOption {
	return func(cfg *handlerConfig) {
		cfg.retrySeconds = r
		cfg.retrySet = true
	}
}

type registeredHandler struct {
	fn  Handler
	cfg handlerConfig
}

// Registry resolves job classes, hook names and custom worker bodies.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*registeredHandler
	hooks    map[string]Hook
	customs  map[string]CustomFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]*registeredHandler),
		hooks:    make(map[string]Hook),
		customs:  make(map[string]CustomFunc),
	}
}

// Handle registers the handler for a job class.
func (r *Registry) Handle(class string, h Handler, opts ...HandleOption) error {
	if class == "" || h == nil {
		return ErrInvalidClass
	}
	cfg := handlerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[class]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, class)
	}
	r.handlers[class] = &registeredHandler{fn: h, cfg: cfg}
	return nil
}

// HandleHook registers a named hook.
func (r *Registry) HandleHook(name string, h Hook) error {
	if name == "" || h == nil {
		return ErrInvalidClass
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hooks[name]; exists {
		return fmt.Errorf("%w: hook %s", ErrDuplicateHandler, name)
	}
	r.hooks[name] = h
	return nil
}

// HandleCustom registers a custom worker body.
func (r *Registry) HandleCustom(name string, fn CustomFunc) error {
	if name == "" || fn == nil {
		return ErrInvalidClass
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.customs[name]; exists {
		return fmt.Errorf("%w: custom %s", ErrDuplicateHandler, name)
	}
	r.customs[name] = fn
	return nil
}

func (r *Registry) handler(class string) (*registeredHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[class]
	return h, ok
}

// HasHandler reports whether a handler is registered for class.
func (r *Registry) HasHandler(class string) bool {
	_, ok := r.handler(class)
	return ok
}

// Hook returns the named hook.
func (r *Registry) Hook(name string) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[name]
	return h, ok
}

// Custom returns the named custom worker body.
func (r *Registry) Custom(name string) (CustomFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.customs[name]
	return fn, ok
}

// Classes returns the registered job classes in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for c := range r.handlers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
