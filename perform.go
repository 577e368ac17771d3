package resque

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// Attempt describes how one run of a job ended.
type Attempt struct {
	// Skipped is set when a listener or the before-handle hook cancelled the run.
	Skipped bool
	// Retried is set when a retry was queued.
	Retried bool
	// Err is the job error reported as a failure, nil otherwise.
	Err error
}

// Perform runs one attempt of job in the current process, the way a worker
// executor does: listeners, hooks, the handler and the retry policy, then
// the final status. A job error is reported in Attempt.Err and the job is
// already marked failed. The returned error is a storage failure.
func (rt *Runtime) Perform(ctx context.Context, job *Job, workerID string) (Attempt, error) {
	rt.events.Trigger(ctx, &Event{
		Name: EventAfterForkExecutor, Job: job, Queue: job.Queue, Class: job.Class, WorkerID: workerID,
	})

	att, err := rt.performJob(ctx, job, workerID)
	if err != nil {
		return att, err
	}
	if att.Err != nil {
		rt.logger.Error("job failed", "job_id", job.ID, "class", job.Class, "queue", job.Queue, "error", att.Err)
		return att, rt.Fail(ctx, job, workerID, att.Err)
	}
	if att.Retried {
		return att, nil
	}
	return att, rt.client.UpdateStatus(ctx, job.ID, StatusComplete)
}

// performJob wraps the attempt in the beforePerformJob/afterPerformJob events.
func (rt *Runtime) performJob(ctx context.Context, job *Job, workerID string) (Attempt, error) {
	ev := &Event{Name: EventBeforePerformJob, Job: job, Queue: job.Queue, Class: job.Class, WorkerID: workerID}
	if rt.events.Trigger(ctx, ev) == Cancelled {
		rt.logger.Info("job cancelled by listener", "job_id", job.ID, "class", job.Class)
		return Attempt{Skipped: true}, nil
	}

	att, err := rt.attempt(ctx, job)
	if err != nil || att.Skipped || att.Err != nil {
		return att, err
	}

	rt.events.Trigger(ctx, &Event{
		Name: EventAfterPerformJob, Job: job, Queue: job.Queue, Class: job.Class, WorkerID: workerID,
	})
	return att, nil
}

// attempt runs the hooks and the handler and applies the retry policy.
func (rt *Runtime) attempt(ctx context.Context, job *Job) (Attempt, error) {
	log := rt.logger.With("job_id", job.ID, "class", job.Class, "queue", job.Queue)

	h, found := rt.registry.handler(job.Class)

	var lastErr error
	if job.BeforeHandle != "" {
		out, err := rt.callHook(ctx, job.BeforeHandle, job)
		switch {
		case err != nil:
			lastErr = err
		case out == Cancelled:
			log.Info("job skipped by before handle hook")
			return Attempt{Skipped: true}, nil
		}
	}
	if lastErr == nil {
		if !found {
			lastErr = fmt.Errorf("%w: %s", ErrHandlerNotFound, job.Class)
		} else {
			lastErr = callHandler(ctx, h.fn, job)
		}
	}

	if lastErr == nil {
		return Attempt{}, rt.onSuccess(ctx, job)
	}

	log.Error("job attempt failed", "error_times", job.ErrorTimes, "error", lastErr)

	var cfg handlerConfig
	if found {
		cfg = h.cfg
	}
	rs := job.RetrySeconds
	if !rs.IsList() && rs.Delay == 0 && cfg.retrySet {
		rs = cfg.retrySeconds
	}
	maxRetry := cfg.maxRetry
	if job.MaxRetryTimes != nil {
		maxRetry = *job.MaxRetryTimes
	} else if rs.IsList() {
		maxRetry = len(rs.Steps)
	}
	delay := rs.At(job.ErrorTimes)

	job.ErrorTimes++
	att := Attempt{}
	if job.ErrorTimes <= maxRetry {
		retried, err := rt.requeue(ctx, job.Clone(), delay)
		if err != nil {
			return att, err
		}
		att.Retried = retried
	}

	att.Err = rt.onError(ctx, job, lastErr, !att.Retried)
	return att, nil
}

// requeue puts a failed job back, delayed when delay is positive.
func (rt *Runtime) requeue(ctx context.Context, job *Job, delay int) (bool, error) {
	rt.logger.Info("recreate job", "job_id", job.ID, "class", job.Class, "error_times", job.ErrorTimes, "delay", delay)
	if delay > 0 {
		if err := rt.client.DelayedPush(ctx, time.Now().Unix()+int64(delay), job); err != nil {
			return false, err
		}
		if job.TrackStatus {
			return true, rt.client.UpdateStatus(ctx, job.ID, StatusWaiting)
		}
		return true, nil
	}
	if _, err := rt.client.Push(ctx, job); err != nil {
		if errors.Is(err, ErrDontCreate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// onSuccess runs the complete hook, then the success hook.
func (rt *Runtime) onSuccess(ctx context.Context, job *Job) error {
	if job.OnComplete != "" {
		if _, err := rt.callHook(ctx, job.OnComplete, job); err != nil {
			return err
		}
	}
	if job.OnSuccess != "" {
		if _, err := rt.callHook(ctx, job.OnSuccess, job); err != nil {
			return err
		}
	}
	return nil
}

// onError runs the complete hook, then the error hook. A custom error hook
// consumes the error; without one the error is reported when this was the
// last run.
func (rt *Runtime) onError(ctx context.Context, job *Job, lastErr error, lastRun bool) error {
	if job.OnComplete != "" {
		if _, err := rt.callHook(ctx, job.OnComplete, job); err != nil {
			rt.logger.Error("complete hook failed", "job_id", job.ID, "hook", job.OnComplete, "error", err)
		}
	}
	if job.OnError != "" {
		_, err := rt.callHook(ctx, job.OnError, job)
		return err
	}
	if lastRun {
		return lastErr
	}
	return nil
}

func (rt *Runtime) callHook(ctx context.Context, name string, job *Job) (out Outcome, err error) {
	hook, ok := rt.registry.Hook(name)
	if !ok {
		return Proceed, fmt.Errorf("%w: %s", ErrHookNotFound, name)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = Proceed, fmt.Errorf("hook %s panic: %v", name, r)
		}
	}()
	return hook(ctx, job)
}

// callHandler runs the handler, turning a panic into an error.
func callHandler(ctx context.Context, fn Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, job)
}

// Fail marks job as failed and records the failure.
func (rt *Runtime) Fail(ctx context.Context, job *Job, workerID string, cause error) error {
	rt.events.Trigger(ctx, &Event{
		Name: EventJobFailed, Job: job, Queue: job.Queue, Class: job.Class, WorkerID: workerID, Err: cause,
	})
	if err := rt.client.UpdateStatus(ctx, job.ID, StatusFailed); err != nil {
		return err
	}
	if err := rt.client.IncrStat(ctx, "failed", 1); err != nil {
		return err
	}
	if workerID != "" {
		return rt.client.IncrStat(ctx, "failed:"+workerID, 1)
	}
	return nil
}
