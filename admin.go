package resque

import (
	"context"
	"fmt"
	"syscall"
	"time"
)

// maxBulkOps bounds how many entries a single bulk pop removes.
const maxBulkOps = 1000

// EmptyQueue drops every pending job of queue while keeping the queue
// registered. Tracked jobs stop being tracked. It returns the number of
// jobs removed.
func (c *Client) EmptyQueue(ctx context.Context, queue string) (int64, error) {
	if err := validateQueueName(queue); err != nil {
		return 0, err
	}
	var removed int64
	for {
		raws, err := c.rc.LPopCount(ctx, queueKey(queue), maxBulkOps)
		if err != nil {
			return removed, fmt.Errorf("emptying queue %s: %w", queue, err)
		}
		if len(raws) == 0 {
			return removed, nil
		}
		removed += int64(len(raws))

		var tracked []string
		for _, raw := range raws {
			job, err := DecodeJob([]byte(raw))
			if err != nil {
				c.logger.Warn("dropping undecodable job", "queue", queue, "error", err)
				continue
			}
			if job.TrackStatus {
				tracked = append(tracked, statusKey(job.ID))
			}
		}
		if len(tracked) > 0 {
			if _, err := c.rc.Del(ctx, tracked...); err != nil {
				return removed, err
			}
		}
		if len(raws) < maxBulkOps {
			return removed, nil
		}
	}
}

// Crontab returns the registered crontab called name.
func (m *CrontabManager) Crontab(name string) (Crontab, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.crontabs[name]
	return c, ok
}

// TriggerCrontab enqueues a registered crontab on queue right away,
// outside its schedule. The firing takes no per-minute lock but still
// honours the singleton lock.
func (rt *Runtime) TriggerCrontab(ctx context.Context, name, queue string) (string, error) {
	ct, ok := rt.crontabs.Crontab(name)
	if !ok {
		return "", fmt.Errorf("%w: %s is not registered", ErrInvalidCrontab, name)
	}
	now := time.Now()
	meta := Payload{
		metaExecuteTime:     now.Unix(),
		metaExecuteDateTime: now.Format(time.DateTime),
		metaCrontab:         ct.Name,
	}
	if ct.Singleton {
		meta[metaSingletonLockKey] = ct.singletonLockKey()
		meta[metaSingletonExpire] = int(ct.lockExpiry(now) / time.Second)
	}

	job := NewJob(ct.Handler, clonePayload(ct.Params))
	job.Queue = queue
	job.TrackStatus = true
	job.BeforeHandle = HookCrontabLock
	job.OnComplete = HookCrontabUnlock
	job.Meta = meta

	rt.logger.Info("crontab triggered", "crontab", ct.Name, "queue", queue, "job_id", job.ID)
	return rt.client.Push(ctx, job)
}

// WorkerPaused reports whether worker id has recorded itself as paused.
func (rt *Runtime) WorkerPaused(ctx context.Context, id string) (bool, error) {
	return rt.rc.Exists(ctx, workerPausedKey(id))
}

// PauseWorker asks a local worker to stop taking new work.
func (rt *Runtime) PauseWorker(ctx context.Context, id string) error {
	return rt.signalWorker(ctx, id, syscall.SIGUSR1)
}

// ResumeWorker undoes PauseWorker.
func (rt *Runtime) ResumeWorker(ctx context.Context, id string) error {
	return rt.signalWorker(ctx, id, syscall.SIGCONT)
}

// StopWorker asks a local worker to finish its current job and exit.
func (rt *Runtime) StopWorker(ctx context.Context, id string) error {
	return rt.signalWorker(ctx, id, syscall.SIGQUIT)
}

// signalWorker delivers sig to a registered worker running on this host.
func (rt *Runtime) signalWorker(ctx context.Context, id string, sig syscall.Signal) error {
	ok, err := rt.WorkerExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("resque: worker %s is not registered", id)
	}
	host, p, ok := parseWorkerID(id)
	if !ok {
		return fmt.Errorf("resque: malformed worker id %q", id)
	}
	if host != rt.hostname {
		return fmt.Errorf("resque: worker %s runs on %s, not %s", id, host, rt.hostname)
	}
	if !rt.processAlive(p) {
		return fmt.Errorf("resque: worker %s is not running", id)
	}
	if err := syscall.Kill(p, sig); err != nil {
		return fmt.Errorf("signalling worker %s: %w", id, err)
	}
	rt.logger.Info("worker signalled", "worker", id, "signal", sig.String())
	return nil
}
