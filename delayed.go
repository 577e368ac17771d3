package resque

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const delayedScheduleKey = "delayed_queue_schedule"

func delayedKey(ts int64) string {
	return "delayed:" + strconv.FormatInt(ts, 10)
}

// DelayedPush schedules an already-built envelope for unix second ts.
// Several jobs may share a timestamp; the index holds it once.
func (c *Client) DelayedPush(ctx context.Context, ts int64, job *Job) error {
	if ts <= 0 {
		return ErrInvalidTimestamp
	}
	if err := validateQueueName(job.Queue); err != nil {
		return err
	}
	job.stamp()
	data, err := job.Encode()
	if err != nil {
		return err
	}
	err = c.rc.runScript(ctx, "delayed_push",
		[]string{delayedKey(ts), delayedScheduleKey}, ts, data).Err()
	if err != nil {
		return fmt.Errorf("scheduling job %s at %d: %w", job.ID, ts, c.rc.wrap("delayed push", err))
	}
	c.logger.Debug("job scheduled", "job_id", job.ID, "class", job.Class, "queue", job.Queue, "at", ts)
	return nil
}

// EnqueueAt creates a job for class and schedules it on queue at the given time.
func (c *Client) EnqueueAt(ctx context.Context, at time.Time, queue, class string, args []any, opts ...EnqueueOption) (string, error) {
	job, err := c.build(queue, class, args, opts)
	if err != nil {
		return "", err
	}
	return c.schedule(ctx, at.Unix(), job)
}

// schedule delays a freshly built job and starts tracking it as waiting.
func (c *Client) schedule(ctx context.Context, ts int64, job *Job) (string, error) {
	if err := c.DelayedPush(ctx, ts, job); err != nil {
		return "", err
	}
	if job.TrackStatus {
		if err := c.CreateStatus(ctx, job.ID); err != nil {
			return "", err
		}
	}
	return job.ID, nil
}

// EnqueueIn creates a job for class and schedules it on queue after delay.
func (c *Client) EnqueueIn(ctx context.Context, delay time.Duration, queue, class string, args []any, opts ...EnqueueOption) (string, error) {
	return c.EnqueueAt(ctx, time.Now().Add(delay), queue, class, args, opts...)
}

// NextDelayedTimestamp returns the earliest scheduled timestamp at or before
// before. It does not remove it from the index.
func (c *Client) NextDelayedTimestamp(ctx context.Context, before int64) (int64, bool, error) {
	items, err := c.rc.ZRangeByScore(ctx, delayedScheduleKey, "-inf", strconv.FormatInt(before, 10), 1)
	if err != nil {
		return 0, false, err
	}
	if len(items) == 0 {
		return 0, false, nil
	}
	ts, err := strconv.ParseInt(items[0], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parsing delayed timestamp %q: %w", items[0], err)
	}
	return ts, true, nil
}

// NextItemForTimestamp pops one job scheduled at ts. When that empties the
// timestamp, it is removed from the index in the same atomic step.
func (c *Client) NextItemForTimestamp(ctx context.Context, ts int64) (*Job, error) {
	raw, err := c.rc.runScript(ctx, "delayed_pop",
		[]string{delayedKey(ts), delayedScheduleKey}, ts).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("popping delayed item at %d: %w", ts, c.rc.wrap("delayed pop", err))
	}
	job, err := DecodeJob([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("popping delayed item at %d: %w", ts, err)
	}
	return job, nil
}

// DelayedQueueSize returns the number of distinct scheduled timestamps.
func (c *Client) DelayedQueueSize(ctx context.Context) (int64, error) {
	return c.rc.ZCard(ctx, delayedScheduleKey)
}

// DelayedTimestampSize returns the number of jobs scheduled at ts.
func (c *Client) DelayedTimestampSize(ctx context.Context, ts int64) (int64, error) {
	return c.rc.LLen(ctx, delayedKey(ts))
}
