package resque

import (
	"context"
	"errors"
	"time"
)

// SchedulerWorker moves due delayed jobs into their queues.
type SchedulerWorker struct {
	*loop
	now func() time.Time
}

func newSchedulerWorker(rt *Runtime, slot WorkerSlot) (Runner, error) {
	return NewSchedulerWorker(rt, slot), nil
}

// NewSchedulerWorker creates a scheduler worker for slot.
func NewSchedulerWorker(rt *Runtime, slot WorkerSlot) *SchedulerWorker {
	return &SchedulerWorker{
		loop: newLoop(rt, "scheduler_worker", slot.Group.Queues(), slot),
		now:  time.Now,
	}
}

// Work runs the scheduler loop until shutdown.
func (s *SchedulerWorker) Work(ctx context.Context) error {
	return s.run(ctx, s)
}

func (s *SchedulerWorker) tick(ctx context.Context) (bool, error) {
	_, err := s.HandleDelayedItems(ctx, s.now().Unix())
	return false, err
}

func (s *SchedulerWorker) idle(ctx context.Context) {
	s.sleep(ctx, s.interval)
}

// HandleDelayedItems drains every timestamp due at or before before into
// the live queues and returns how many jobs were moved.
func (s *SchedulerWorker) HandleDelayedItems(ctx context.Context, before int64) (int, error) {
	s.busy.Store(true)
	defer s.busy.Store(false)

	c := s.rt.client
	moved := 0
	for {
		ts, ok, err := c.NextDelayedTimestamp(ctx, before)
		if err != nil || !ok {
			return moved, err
		}
		n, err := s.enqueueDelayedItemsForTimestamp(ctx, ts)
		moved += n
		if err != nil {
			return moved, err
		}
	}
}

func (s *SchedulerWorker) enqueueDelayedItemsForTimestamp(ctx context.Context, ts int64) (int, error) {
	c := s.rt.client
	moved := 0
	for {
		job, err := c.NextItemForTimestamp(ctx, ts)
		if err != nil || job == nil {
			return moved, err
		}
		s.jobs.Add(1)
		s.logger.Info("queueing delayed job", "class", job.Class, "queue", job.Queue, "job_id", job.ID, "at", ts)

		s.rt.events.Trigger(ctx, &Event{
			Name: EventBeforeDelayedEnqueue, Job: job, Queue: job.Queue, Class: job.Class, At: ts, WorkerID: s.id,
		})
		if _, err := c.Push(ctx, job); err != nil {
			if errors.Is(err, ErrDontCreate) {
				continue
			}
			return moved, err
		}
		moved++
	}
}
