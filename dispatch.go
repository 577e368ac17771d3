package resque

import (
	"context"
	"time"
)

// PendingDispatch collects the settings of one job submission.
type PendingDispatch struct {
	rt    *Runtime
	class string
	queue string
	args  []any
	delay time.Duration
	at    time.Time
	sync  bool
	opts  []EnqueueOption
}

// Dispatch starts a submission of class to the default queue.
func (rt *Runtime) Dispatch(class string) *PendingDispatch {
	return &PendingDispatch{rt: rt, class: class, queue: "default"}
}

// Queue sets the target queue.
func (d *PendingDispatch) Queue(q string) *PendingDispatch {
	d.queue = q
	return d
}

// Params sets the named parameters, stored as the first argument.
func (d *PendingDispatch) Params(p Payload) *PendingDispatch {
	d.args = []any{map[string]any(p)}
	return d
}

// Args sets the positional arguments.
func (d *PendingDispatch) Args(args ...any) *PendingDispatch {
	d.args = args
	return d
}

// Delay schedules the job d from now.
func (d *PendingDispatch) Delay(delay time.Duration) *PendingDispatch {
	d.delay = delay
	return d
}

// At schedules the job for t.
func (d *PendingDispatch) At(t time.Time) *PendingDispatch {
	d.at = t
	return d
}

// Sync runs the job in the calling process instead of queueing it.
func (d *PendingDispatch) Sync(sync bool) *PendingDispatch {
	d.sync = sync
	return d
}

// Track records the job status.
func (d *PendingDispatch) Track() *PendingDispatch {
	d.opts = append(d.opts, Track())
	return d
}

// With applies enqueue options.
func (d *PendingDispatch) With(opts ...EnqueueOption) *PendingDispatch {
	d.opts = append(d.opts, opts...)
	return d
}

// Submit sends the job and returns its ID. A synchronous job reports its
// own failure as the error.
func (d *PendingDispatch) Submit(ctx context.Context) (string, error) {
	c := d.rt.client
	job, err := c.build(d.queue, d.class, d.args, d.opts)
	if err != nil {
		return "", err
	}

	switch {
	case d.sync:
		if job.TrackStatus {
			if err := c.CreateStatus(ctx, job.ID); err != nil {
				return "", err
			}
		}
		att, err := d.rt.Perform(ctx, job, "")
		if err != nil {
			return job.ID, err
		}
		return job.ID, att.Err
	case !d.at.IsZero():
		return c.schedule(ctx, d.at.Unix(), job)
	case d.delay > 0:
		return c.schedule(ctx, time.Now().Add(d.delay).Unix(), job)
	}
	return c.Push(ctx, job)
}
