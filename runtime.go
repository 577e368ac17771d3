package resque

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Worker type names accepted in worker group configuration.
const (
	TypeWorker          = "Worker"
	TypeSchedulerWorker = "SchedulerWorker"
	TypeCrontabWorker   = "CrontabWorker"
	TypeCustomWorker    = "CustomWorker"
)

// Runner is a worker loop of any kind.
type Runner interface {
	ID() string
	Work(ctx context.Context) error
}

// WorkerFactory builds the runner for one slot of a worker group.
type WorkerFactory func(rt *Runtime, slot WorkerSlot) (Runner, error)

// ListenerInit subscribes a named listener to the event bus.
type ListenerInit func(rt *Runtime) error

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	redisOpts []RedisOption
	rc        *RedisClient
	logger    *slog.Logger
	logLevel  string
}

// WithRedis sets the Redis options used to connect.
func WithRedis(opts ...RedisOption) RuntimeOption {
	return func(cfg *runtimeConfig) {
		cfg.redisOpts = append(cfg.redisOpts, opts...)
	}
}

// WithStorage uses an existing RedisClient instead of dialing.
func WithStorage(rc *RedisClient) RuntimeOption {
	return func(cfg *runtimeConfig) { cfg.rc = rc }
}

// WithLogger sets a custom slog.Logger.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(cfg *runtimeConfig) { cfg.logger = l }
}

// WithLogLevel sets the log level for the auto-created logger.
// Only takes effect if no WithLogger() is provided.
// Valid values: "debug", "info", "warn", "error".
func WithLogLevel(level string) RuntimeOption {
	return func(cfg *runtimeConfig) { cfg.logLevel = level }
}

// Runtime ties together everything a process needs: storage, handlers,
// crontabs, the event bus and the worker factories. Supervisors and
// workers receive it explicitly.
type Runtime struct {
	rc       *RedisClient
	client   *Client
	registry *Registry
	crontabs *CrontabManager
	events   *Events
	logger   *slog.Logger
	hostname string

	// processAlive reports whether a local pid is still running.
	processAlive func(pid int) bool

	mu        sync.RWMutex
	factories map[string]WorkerFactory
	listeners map[string]ListenerInit
}

// NewRuntime creates a Runtime with the given options.
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	cfg := &runtimeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = newLoggerFromLevel(os.Stderr, cfg.logLevel)
	}

	rc := cfg.rc
	if rc == nil {
		var err error
		rc, err = NewRedisClient(cfg.redisOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating runtime redis client: %w", err)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	events := NewEvents(cfg.logger)
	client := NewClient(rc, WithEvents(events), WithClientLogger(cfg.logger))
	registry := NewRegistry()
	if err := registerCrontabHooks(registry, client, cfg.logger.With("component", "crontab")); err != nil {
		return nil, err
	}

	rt := &Runtime{
		rc:           rc,
		client:       client,
		registry:     registry,
		crontabs:     NewCrontabManager(registry),
		events:       events,
		logger:       cfg.logger,
		hostname:     hostname,
		processAlive: processAlive,
		factories:    make(map[string]WorkerFactory),
		listeners:    make(map[string]ListenerInit),
	}
	rt.factories[TypeWorker] = newQueueWorker
	rt.factories[TypeSchedulerWorker] = newSchedulerWorker
	rt.factories[TypeCrontabWorker] = newCrontabWorker
	rt.factories[TypeCustomWorker] = newCustomWorker
	rt.listeners["stats"] = func(rt *Runtime) error {
		NewStatsListener(rt.client, rt.logger).Init(rt.events)
		return nil
	}
	return rt, nil
}

// Close releases the storage connection.
func (rt *Runtime) Close() error {
	return rt.rc.Close()
}

// Client returns the queue client.
func (rt *Runtime) Client() *Client { return rt.client }

// Registry returns the handler registry.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// Crontabs returns the crontab manager.
func (rt *Runtime) Crontabs() *CrontabManager { return rt.crontabs }

// Events returns the lifecycle event bus.
func (rt *Runtime) Events() *Events { return rt.events }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Handle registers a handler for a job class.
func (rt *Runtime) Handle(class string, h Handler, opts ...HandleOption) error {
	return rt.registry.Handle(class, h, opts...)
}

// HandleHook registers a named job hook.
func (rt *Runtime) HandleHook(name string, h Hook) error {
	return rt.registry.HandleHook(name, h)
}

// HandleCustom registers the body of a custom worker.
func (rt *Runtime) HandleCustom(name string, fn CustomFunc) error {
	return rt.registry.HandleCustom(name, fn)
}

// Listen subscribes fn to a lifecycle event.
func (rt *Runtime) Listen(event string, fn Listener) int {
	return rt.events.Listen(event, fn)
}

// RegisterWorkerType makes a worker type available to worker groups.
func (rt *Runtime) RegisterWorkerType(name string, f WorkerFactory) {
	rt.mu.Lock()
	rt.factories[name] = f
	rt.mu.Unlock()
}

// RegisterListener makes a named listener available to configuration.
func (rt *Runtime) RegisterListener(name string, init ListenerInit) {
	rt.mu.Lock()
	rt.listeners[name] = init
	rt.mu.Unlock()
}

// InitListeners subscribes the named listeners in order.
func (rt *Runtime) InitListeners(names []string) error {
	for _, name := range names {
		rt.mu.RLock()
		init, ok := rt.listeners[name]
		rt.mu.RUnlock()
		if !ok {
			return fmt.Errorf("resque: unknown listener %q", name)
		}
		if err := init(rt); err != nil {
			return fmt.Errorf("initializing listener %s: %w", name, err)
		}
	}
	return nil
}

// WorkerTypes returns the registered worker type names.
func (rt *Runtime) WorkerTypes() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]string, 0, len(rt.factories))
	for name := range rt.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewRunner builds the runner for a worker slot.
func (rt *Runtime) NewRunner(slot WorkerSlot) (Runner, error) {
	rt.mu.RLock()
	f, ok := rt.factories[slot.Group.Type]
	rt.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkerType, slot.Group.Type)
	}
	return f(rt, slot)
}
