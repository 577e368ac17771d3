package resque

import (
	"context"
	"fmt"
)

// CustomWorker calls a registered function once per interval.
type CustomWorker struct {
	*loop
	name string
	fn   CustomFunc
}

func newCustomWorker(rt *Runtime, slot WorkerSlot) (Runner, error) {
	fn, ok := rt.registry.Custom(slot.Group.Handler)
	if !ok {
		return nil, fmt.Errorf("%w: custom %s", ErrHandlerNotFound, slot.Group.Handler)
	}
	return &CustomWorker{
		loop: newLoop(rt, "custom_worker", slot.Group.Queues(), slot),
		name: slot.Group.Handler,
		fn:   fn,
	}, nil
}

// Work runs the custom loop until shutdown. An error from the function
// stops the worker.
func (w *CustomWorker) Work(ctx context.Context) error {
	return w.run(ctx, w)
}

func (w *CustomWorker) tick(ctx context.Context) (bool, error) {
	w.logger.Debug("running custom handler", "handler", w.name)
	w.jobs.Add(1)
	w.busy.Store(true)
	defer w.busy.Store(false)
	if err := w.fn(ctx, w); err != nil {
		return false, fmt.Errorf("custom worker %s: %w", w.name, err)
	}
	return false, nil
}

func (w *CustomWorker) idle(ctx context.Context) {
	w.sleep(ctx, w.interval)
}

// Runtime returns the runtime the worker belongs to.
func (w *CustomWorker) Runtime() *Runtime { return w.rt }

// Queues returns the queues configured for the worker group.
func (w *CustomWorker) Queues() []string { return w.queues }

// GroupIndex returns the position of this process within its group.
func (w *CustomWorker) GroupIndex() int { return w.slot.Index }

// GroupCount returns the number of processes in the group.
func (w *CustomWorker) GroupCount() int { return w.slot.GroupCount }
