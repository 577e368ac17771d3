package resque

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayedPush_SharedTimestamp(t *testing.T) {
	rt, _ := testRuntime(t)
	c := rt.Client()
	ctx := context.Background()
	ts := time.Now().Add(time.Hour).Unix()

	for i := 0; i < 3; i++ {
		job := NewJob("Test_Job", i)
		require.NoError(t, c.DelayedPush(ctx, ts, job))
	}

	n, err := c.DelayedQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.DelayedTimestampSize(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDelayedPush_InvalidTimestamp(t *testing.T) {
	rt, _ := testRuntime(t)
	err := rt.Client().DelayedPush(context.Background(), 0, NewJob("Test_Job"))
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestEnqueueAt_TracksWaiting(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	id, err := rt.Client().EnqueueIn(ctx, time.Hour, "default", "Test_Job", nil, Track())
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, jobStatus(t, rt, id))

	id, err = rt.Dispatch("Test_Job").Delay(time.Hour).Track().Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, jobStatus(t, rt, id))

	id, err = rt.Client().EnqueueIn(ctx, time.Hour, "default", "Test_Job", nil)
	require.NoError(t, err)
	tracking, err := rt.Client().IsTracking(ctx, id)
	require.NoError(t, err)
	assert.False(t, tracking)
}

func TestNextDelayedTimestamp_Visibility(t *testing.T) {
	rt, _ := testRuntime(t)
	c := rt.Client()
	ctx := context.Background()
	now := time.Now().Unix()

	_, err := c.EnqueueAt(ctx, time.Unix(now+60, 0), "default", "Test_Job", nil)
	require.NoError(t, err)
	_, err = c.EnqueueAt(ctx, time.Unix(now+10, 0), "default", "Test_Job", nil)
	require.NoError(t, err)

	_, ok, err := c.NextDelayedTimestamp(ctx, now)
	require.NoError(t, err)
	assert.False(t, ok, "nothing is due yet")

	ts, ok, err := c.NextDelayedTimestamp(ctx, now+120)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now+10, ts, "earliest timestamp first")
}

func TestNextItemForTimestamp_DropsEmptyTimestamp(t *testing.T) {
	rt, _ := testRuntime(t)
	c := rt.Client()
	ctx := context.Background()
	ts := time.Now().Add(-time.Minute).Unix()

	first := NewJob("Test_Job", 1)
	second := NewJob("Test_Job", 2)
	require.NoError(t, c.DelayedPush(ctx, ts, first))
	require.NoError(t, c.DelayedPush(ctx, ts, second))

	job, err := c.NextItemForTimestamp(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, first.ID, job.ID)

	n, err := c.DelayedQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "timestamp still indexed while jobs remain")

	job, err = c.NextItemForTimestamp(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, second.ID, job.ID)

	n, err = c.DelayedQueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	job, err = c.NextItemForTimestamp(ctx, ts)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSchedulerWorker_HandleDelayedItems(t *testing.T) {
	rt, _ := testRuntime(t)
	c := rt.Client()
	ctx := context.Background()
	now := time.Now().Unix()

	_, err := c.EnqueueAt(ctx, time.Unix(now-30, 0), "mail", "Test_Job", nil)
	require.NoError(t, err)
	_, err = c.EnqueueAt(ctx, time.Unix(now-5, 0), "billing", "Test_Job", nil)
	require.NoError(t, err)
	_, err = c.EnqueueAt(ctx, time.Unix(now+300, 0), "mail", "Test_Job", nil)
	require.NoError(t, err)

	var delayed []int64
	rt.Listen(EventBeforeDelayedEnqueue, func(_ context.Context, ev *Event) Outcome {
		delayed = append(delayed, ev.At)
		return Proceed
	})

	s := NewSchedulerWorker(rt, WorkerSlot{Group: WorkerGroup{Type: TypeSchedulerWorker}})
	moved, err := s.HandleDelayedItems(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)
	assert.Equal(t, []int64{now - 30, now - 5}, delayed)

	for _, q := range []string{"mail", "billing"} {
		size, err := c.Size(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, int64(1), size, q)
	}
	n, err := c.DelayedQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "future job stays scheduled")
}

func TestSchedulerWorker_WorkSinglePass(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	_, err := rt.Client().EnqueueIn(ctx, -time.Minute, "default", "Test_Job", nil)
	require.NoError(t, err)

	s := NewSchedulerWorker(rt, WorkerSlot{Group: WorkerGroup{Type: TypeSchedulerWorker}})
	require.NoError(t, s.Work(ctx))

	size, err := rt.Client().Size(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	workers, err := rt.Workers(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers, "worker unregisters on exit")
}
