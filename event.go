package resque

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Outcome is the result of a hook or event listener.
type Outcome int

const (
	// Proceed lets the flow continue.
	Proceed Outcome = iota
	// Cancelled vetoes job creation or skips an attempt. It is not an error.
	Cancelled
)

func (o Outcome) String() string {
	if o == Cancelled {
		return "cancelled"
	}
	return "proceed"
}

// Lifecycle event names.
const (
	EventWorkerStart          = "onWorkerStart"
	EventWorkerStop           = "onWorkerStop"
	EventBeforeForkExecutor   = "beforeForkExecutor"
	EventAfterForkExecutor    = "afterForkExecutor"
	EventBeforePerformJob     = "beforePerformJob"
	EventAfterPerformJob      = "afterPerformJob"
	EventJobFailed            = "onJobFailed"
	EventBeforeEnqueue        = "beforeEnqueue"
	EventAfterEnqueue         = "afterEnqueue"
	EventBeforeDelayedEnqueue = "beforeDelayedEnqueue"
)

// eventAliases maps deprecated event names onto the current ones.
var eventAliases = map[string]string{
	"beforePerform": EventBeforePerformJob,
	"afterPerform":  EventAfterPerformJob,
	"onFailure":     EventJobFailed,
	"beforeFork":    EventBeforeForkExecutor,
	"afterFork":     EventAfterForkExecutor,
}

// NormalizeEvent resolves a deprecated event name to its current name.
func NormalizeEvent(name string) string {
	if n, ok := eventAliases[name]; ok {
		return n
	}
	return name
}

// Event carries the data passed to listeners. Fields that do not apply to
// a given event are left zero.
type Event struct {
	Name     string
	Job      *Job
	Queue    string
	Class    string
	WorkerID string
	Err      error
	At       int64
	Time     time.Time
}

// Listener reacts to a lifecycle event. Only beforeEnqueue and
// beforePerformJob honour a Cancelled result.
type Listener func(ctx context.Context, ev *Event) Outcome

type listenerEntry struct {
	id int
	fn Listener
}

// Events is the lifecycle event bus.
type Events struct {
	mu        sync.RWMutex
	listeners map[string][]listenerEntry
	nextID    int
	logger    *slog.Logger
}

// NewEvents creates an empty event bus.
func NewEvents(logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{
		listeners: make(map[string][]listenerEntry),
		logger:    logger.With("component", "events"),
	}
}

// Listen registers fn for the named event and returns an id usable with
// StopListening.
func (e *Events) Listen(name string, fn Listener) int {
	name = NormalizeEvent(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[name] = append(e.listeners[name], listenerEntry{id: e.nextID, fn: fn})
	return e.nextID
}

// StopListening removes a listener. It reports whether it was found.
func (e *Events) StopListening(name string, id int) bool {
	name = NormalizeEvent(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[name]
	for i, l := range entries {
		if l.id == id {
			e.listeners[name] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every listener.
func (e *Events) Clear() {
	e.mu.Lock()
	e.listeners = make(map[string][]listenerEntry)
	e.mu.Unlock()
}

// Trigger runs every listener for ev.Name in registration order. The first
// Cancelled result stops the remaining listeners and is returned. A panicking
// listener is logged and treated as Proceed.
func (e *Events) Trigger(ctx context.Context, ev *Event) Outcome {
	ev.Name = NormalizeEvent(ev.Name)
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.RLock()
	entries := append([]listenerEntry(nil), e.listeners[ev.Name]...)
	e.mu.RUnlock()

	for _, l := range entries {
		if e.call(ctx, l.fn, ev) == Cancelled {
			return Cancelled
		}
	}
	return Proceed
}

func (e *Events) call(ctx context.Context, fn Listener, ev *Event) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("listener panicked", "event", ev.Name, "panic", fmt.Sprint(r))
			out = Proceed
		}
	}()
	return fn(ctx, ev)
}
