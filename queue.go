package resque

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	queuesKey   = "queues"
	queuePrefix = "queue:"
)

// WildcardQueue stands for every known queue, in alphabetical order.
const WildcardQueue = "*"

func queueKey(name string) string {
	return queuePrefix + name
}

// Enqueue creates a job for class and appends it to queue. It returns the
// job ID, or ErrDontCreate when a beforeEnqueue listener vetoed it.
func (c *Client) Enqueue(ctx context.Context, queue, class string, args []any, opts ...EnqueueOption) (string, error) {
	job, err := c.build(queue, class, args, opts)
	if err != nil {
		return "", err
	}
	return c.Push(ctx, job)
}

// build creates and validates a job envelope.
func (c *Client) build(queue, class string, args []any, opts []EnqueueOption) (*Job, error) {
	if class == "" {
		return nil, ErrInvalidClass
	}
	if err := validateQueueName(queue); err != nil {
		return nil, err
	}
	job := NewJob(class, args...)
	job.Queue = queue
	for _, opt := range opts {
		opt(job)
	}
	return job, nil
}

// Push appends an already-built envelope to its queue, registering the queue
// name and the job status when tracked.
func (c *Client) Push(ctx context.Context, job *Job) (string, error) {
	if err := validateQueueName(job.Queue); err != nil {
		return "", err
	}
	ev := &Event{Name: EventBeforeEnqueue, Job: job, Queue: job.Queue, Class: job.Class}
	if c.events.Trigger(ctx, ev) == Cancelled {
		c.logger.Debug("enqueue vetoed", "job_id", job.ID, "class", job.Class, "queue", job.Queue)
		return "", ErrDontCreate
	}

	job.stamp()
	data, err := job.Encode()
	if err != nil {
		return "", err
	}

	pipe := c.rc.rdb.TxPipeline()
	pipe.SAdd(ctx, c.rc.Key(queuesKey), job.Queue)
	pipe.RPush(ctx, c.rc.Key(queueKey(job.Queue)), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueuing job %s: %w", job.ID, c.rc.wrap("push", err))
	}

	if job.TrackStatus {
		if err := c.CreateStatus(ctx, job.ID); err != nil {
			return "", err
		}
	}

	c.events.Trigger(ctx, &Event{Name: EventAfterEnqueue, Job: job, Queue: job.Queue, Class: job.Class})
	return job.ID, nil
}

// Pop removes and returns the head of queue, or nil when it is empty.
func (c *Client) Pop(ctx context.Context, queue string) (*Job, error) {
	raw, ok, err := c.rc.LPop(ctx, queueKey(queue))
	if err != nil || !ok {
		return nil, err
	}
	return c.decodeReserved(queue, raw)
}

// PopBlocking waits up to timeout for the first non-empty queue in priority
// order and pops its head. It returns nil when the timeout elapses.
func (c *Client) PopBlocking(ctx context.Context, queues []string, timeout time.Duration) (*Job, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}
	key, raw, ok, err := c.rc.BLPop(ctx, timeout, keys...)
	if err != nil || !ok {
		return nil, err
	}
	return c.decodeReserved(strings.TrimPrefix(key, queuePrefix), raw)
}

func (c *Client) decodeReserved(queue, raw string) (*Job, error) {
	job, err := DecodeJob([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("reserving from %s: %w", queue, err)
	}
	job.Queue = queue
	return job, nil
}

// Queues returns every known queue name in alphabetical order.
func (c *Client) Queues(ctx context.Context) ([]string, error) {
	names, err := c.rc.SMembers(ctx, queuesKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Size returns the number of pending jobs in queue.
func (c *Client) Size(ctx context.Context, queue string) (int64, error) {
	return c.rc.LLen(ctx, queueKey(queue))
}

// Peek returns up to count pending jobs from the head of queue without
// removing them.
func (c *Client) Peek(ctx context.Context, queue string, count int64) ([]*Job, error) {
	if count <= 0 {
		return nil, nil
	}
	raws, err := c.rc.LRange(ctx, queueKey(queue), 0, count-1)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(raws))
	for _, raw := range raws {
		job, err := c.decodeReserved(queue, raw)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RemoveQueue deletes a queue and its pending jobs. It returns the number
// of jobs dropped.
func (c *Client) RemoveQueue(ctx context.Context, queue string) (int64, error) {
	n, err := c.rc.LLen(ctx, queueKey(queue))
	if err != nil {
		return 0, err
	}
	pipe := c.rc.rdb.TxPipeline()
	pipe.Del(ctx, c.rc.Key(queueKey(queue)))
	pipe.SRem(ctx, c.rc.Key(queuesKey), queue)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("removing queue %s: %w", queue, c.rc.wrap("remove queue", err))
	}
	return n, nil
}

// ExpandQueues replaces a wildcard entry with every known queue. Lists
// without a wildcard are returned unchanged.
func (c *Client) ExpandQueues(ctx context.Context, queues []string) ([]string, error) {
	for _, q := range queues {
		if q == WildcardQueue {
			return c.Queues(ctx)
		}
	}
	return queues, nil
}
