package resque

import (
	"context"
	"sync"
	"time"
)

const defaultMaxInlineCrontabs = 20

// CrontabWorker materializes registered crontabs once a minute. Firings
// are handed to its queue, or run in-process on timers in inline mode.
type CrontabWorker struct {
	*loop
	queue    string
	inline   bool
	firstRun bool
	now      func() time.Time

	pending chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	timers  []*time.Timer
}

func newCrontabWorker(rt *Runtime, slot WorkerSlot) (Runner, error) {
	return NewCrontabWorker(rt, slot), nil
}

// NewCrontabWorker creates a crontab worker for slot. Firings go to the
// first queue of the group.
func NewCrontabWorker(rt *Runtime, slot WorkerSlot) *CrontabWorker {
	queues := slot.Group.Queues()
	queue := "default"
	if len(queues) > 0 {
		queue = queues[0]
	}
	max := slot.MaxInlineCrontabs
	if max <= 0 {
		max = defaultMaxInlineCrontabs
	}
	return &CrontabWorker{
		loop:     newLoop(rt, "crontab_worker", []string{queue}, slot),
		queue:    queue,
		inline:   slot.Group.Inline,
		firstRun: true,
		now:      time.Now,
		pending:  make(chan struct{}, max),
	}
}

// Work runs the crontab loop until shutdown. Pending inline firings are
// cancelled and running ones awaited before it returns.
func (w *CrontabWorker) Work(ctx context.Context) error {
	err := w.run(ctx, w)
	w.mu.Lock()
	for _, t := range w.timers {
		if t.Stop() {
			<-w.pending
			w.loop.timers.Add(-1)
			w.wg.Done()
		}
	}
	w.timers = nil
	w.mu.Unlock()
	w.wg.Wait()
	return err
}

// The first tick only aligns the loop to a minute boundary.
func (w *CrontabWorker) tick(ctx context.Context) (bool, error) {
	if w.firstRun {
		w.firstRun = false
		return false, nil
	}
	_, err := w.Dispatch(ctx)
	return false, err
}

// idle sleeps until the end of the current minute.
func (w *CrontabWorker) idle(ctx context.Context) {
	d := time.Duration(60-w.now().Second()) * time.Second
	w.logger.Debug("crontab dispatcher sleep", "duration", d)
	w.sleep(ctx, d)
}

// Dispatch materializes the firings of the current reference minute and
// claims them. It returns how many this process won.
func (w *CrontabWorker) Dispatch(ctx context.Context) (int, error) {
	won := 0
	for _, ct := range w.rt.crontabs.ParseAt(w.now()) {
		var ok bool
		var err error
		if w.inline {
			ok, err = w.runInline(ctx, ct)
		} else {
			ok, err = w.rt.client.RunCrontab(ctx, ct, w.queue)
		}
		if err != nil {
			return won, err
		}
		if ok {
			won++
			w.jobs.Add(1)
		}
	}
	return won, nil
}

// runInline claims a firing and performs it in this process when due.
func (w *CrontabWorker) runInline(ctx context.Context, ct Crontab) (bool, error) {
	select {
	case w.pending <- struct{}{}:
	default:
		w.logger.Warn("inline crontab limit reached, skipping firing",
			"crontab", ct.Name, "execute_time", ct.ExecuteTime, "limit", cap(w.pending))
		return false, nil
	}

	job, diff, ok, err := w.rt.client.claimCrontab(ctx, ct, w.queue)
	if err != nil || !ok {
		<-w.pending
		return false, err
	}

	w.loop.timers.Add(1)
	w.wg.Add(1)
	run := func() {
		defer func() {
			<-w.pending
			w.loop.timers.Add(-1)
			w.wg.Done()
		}()
		if _, err := w.rt.Perform(ctx, job, w.id); err != nil {
			w.logger.Error("inline crontab failed", "crontab", ct.Name, "job_id", job.ID, "error", err)
		}
	}
	if diff <= 0 {
		run()
		return true, nil
	}
	w.mu.Lock()
	w.timers = append(w.timers, time.AfterFunc(diff, run))
	w.mu.Unlock()
	return true, nil
}
