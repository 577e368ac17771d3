package resque

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workerSlot(queue string) WorkerSlot {
	return WorkerSlot{Group: WorkerGroup{Type: TypeWorker, Queue: queue, Nums: 1}, GroupCount: 1}
}

func jobStatus(t *testing.T, rt *Runtime, id string) JobStatus {
	t.Helper()
	st, ok, err := rt.Client().Status(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "job %s is not tracked", id)
	return st
}

func TestWorker_CompletesJob(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var got Payload
	require.NoError(t, rt.Handle("Test_Job", func(_ context.Context, job *Job) error {
		got = job.Params()
		return nil
	}))

	id, err := rt.Client().Enqueue(ctx, "default", "Test_Job", []any{Payload{"name": "resque"}}, Track())
	require.NoError(t, err)

	w := NewWorker(rt, workerSlot("default"))
	require.NoError(t, w.Work(ctx))

	assert.Equal(t, "resque", got["name"])
	assert.Equal(t, StatusComplete, jobStatus(t, rt, id))

	processed, err := rt.Client().Stat(ctx, "processed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(1), w.jobs.Load())
}

func TestWorker_RetriesThenFails(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var attempts atomic.Int32
	require.NoError(t, rt.Handle("Failing_Job", func(context.Context, *Job) error {
		attempts.Add(1)
		return errors.New("boom")
	}, DefaultMaxRetry(2)))

	var failures []error
	rt.Listen(EventJobFailed, func(_ context.Context, ev *Event) Outcome {
		failures = append(failures, ev.Err)
		return Proceed
	})

	id, err := rt.Client().Enqueue(ctx, "default", "Failing_Job", nil, Track())
	require.NoError(t, err)

	require.NoError(t, NewWorker(rt, workerSlot("default")).Work(ctx))

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, StatusFailed, jobStatus(t, rt, id))
	require.Len(t, failures, 1)
	assert.EqualError(t, failures[0], "boom")

	failed, err := rt.Client().Stat(ctx, "failed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)
}

func TestWorker_RetryDelayedBySchedule(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.Handle("Failing_Job", func(context.Context, *Job) error {
		return errors.New("boom")
	}))

	id, err := rt.Client().Enqueue(ctx, "default", "Failing_Job", nil,
		Track(), WithRetrySeconds(RetrySchedule(30, 60)))
	require.NoError(t, err)

	require.NoError(t, NewWorker(rt, workerSlot("default")).Work(ctx))

	assert.Equal(t, StatusWaiting, jobStatus(t, rt, id), "waiting for its delayed retry")
	n, err := rt.Client().DelayedQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ts, ok, err := rt.Client().NextDelayedTimestamp(ctx, time.Now().Unix()+60)
	require.NoError(t, err)
	require.True(t, ok)
	job, err := rt.Client().NextItemForTimestamp(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, 1, job.ErrorTimes)
	assert.Equal(t, id, job.ID)
}

func TestWorker_MaxRetryTimesOverridesHandler(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var attempts atomic.Int32
	require.NoError(t, rt.Handle("Failing_Job", func(context.Context, *Job) error {
		attempts.Add(1)
		return errors.New("boom")
	}, DefaultMaxRetry(5)))

	_, err := rt.Client().Enqueue(ctx, "default", "Failing_Job", nil, MaxRetryTimes(0))
	require.NoError(t, err)
	require.NoError(t, NewWorker(rt, workerSlot("default")).Work(ctx))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestWorker_HandlerNotFound(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	id, err := rt.Client().Enqueue(ctx, "default", "Missing_Job", nil, Track())
	require.NoError(t, err)
	require.NoError(t, NewWorker(rt, workerSlot("default")).Work(ctx))
	assert.Equal(t, StatusFailed, jobStatus(t, rt, id))
}

func TestWorker_PanicIsFailure(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.Handle("Panic_Job", func(context.Context, *Job) error {
		panic("kaboom")
	}))
	id, err := rt.Client().Enqueue(ctx, "default", "Panic_Job", nil, Track())
	require.NoError(t, err)
	require.NoError(t, NewWorker(rt, workerSlot("default")).Work(ctx))
	assert.Equal(t, StatusFailed, jobStatus(t, rt, id))
}

func TestWorker_QueuePriority(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var order []string
	require.NoError(t, rt.Handle("Test_Job", func(_ context.Context, job *Job) error {
		order = append(order, job.Queue)
		return nil
	}))
	for _, q := range []string{"low", "high", "low", "high"} {
		_, err := rt.Client().Enqueue(ctx, q, "Test_Job", nil)
		require.NoError(t, err)
	}

	require.NoError(t, NewWorker(rt, workerSlot("high,low")).Work(ctx))
	assert.Equal(t, []string{"high", "high", "low", "low"}, order)
}

func TestWorker_Wildcard(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var order []string
	require.NoError(t, rt.Handle("Test_Job", func(_ context.Context, job *Job) error {
		order = append(order, job.Queue)
		return nil
	}))
	for _, q := range []string{"b", "a"} {
		_, err := rt.Client().Enqueue(ctx, q, "Test_Job", nil)
		require.NoError(t, err)
	}

	require.NoError(t, NewWorker(rt, workerSlot(WildcardQueue)).Work(ctx))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestWorker_BlockingWildcardWaitsWithoutQueues(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	slot := workerSlot(WildcardQueue)
	slot.Group.Blocking = true
	slot.Interval = time.Second
	w := NewWorker(rt, slot)

	require.NoError(t, w.Work(ctx))
	assert.LessOrEqual(t, w.loops.Load(), int64(2), "an empty queue set waits out the interval")
}

func TestWorker_Hooks(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var calls []string
	hook := func(name string, out Outcome) Hook {
		return func(context.Context, *Job) (Outcome, error) {
			calls = append(calls, name)
			return out, nil
		}
	}
	require.NoError(t, rt.HandleHook("before", hook("before", Proceed)))
	require.NoError(t, rt.HandleHook("skip", hook("skip", Cancelled)))
	require.NoError(t, rt.HandleHook("complete", hook("complete", Proceed)))
	require.NoError(t, rt.HandleHook("success", hook("success", Proceed)))
	require.NoError(t, rt.Handle("Test_Job", func(context.Context, *Job) error {
		calls = append(calls, "handler")
		return nil
	}))

	_, err := rt.Client().Enqueue(ctx, "default", "Test_Job", nil,
		BeforeHandle("before"), OnComplete("complete"), OnSuccess("success"))
	require.NoError(t, err)
	skipped, err := rt.Client().Enqueue(ctx, "default", "Test_Job", nil, BeforeHandle("skip"), Track())
	require.NoError(t, err)

	require.NoError(t, NewWorker(rt, workerSlot("default")).Work(ctx))
	assert.Equal(t, []string{"before", "handler", "complete", "success", "skip"}, calls)
	assert.Equal(t, StatusComplete, jobStatus(t, rt, skipped))
}

func TestWorker_ErrorHookConsumesError(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var handled atomic.Bool
	require.NoError(t, rt.HandleHook("recover", func(context.Context, *Job) (Outcome, error) {
		handled.Store(true)
		return Proceed, nil
	}))
	require.NoError(t, rt.Handle("Failing_Job", func(context.Context, *Job) error {
		return errors.New("boom")
	}))

	id, err := rt.Client().Enqueue(ctx, "default", "Failing_Job", nil, Track(), OnError("recover"))
	require.NoError(t, err)
	require.NoError(t, NewWorker(rt, workerSlot("default")).Work(ctx))

	assert.True(t, handled.Load())
	assert.Equal(t, StatusComplete, jobStatus(t, rt, id))
}

func TestWorker_BeforePerformVeto(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var ran atomic.Bool
	require.NoError(t, rt.Handle("Test_Job", func(context.Context, *Job) error {
		ran.Store(true)
		return nil
	}))
	rt.Listen("beforePerform", func(context.Context, *Event) Outcome { return Cancelled })

	_, err := rt.Client().Enqueue(ctx, "default", "Test_Job", nil)
	require.NoError(t, err)
	require.NoError(t, NewWorker(rt, workerSlot("default")).Work(ctx))
	assert.False(t, ran.Load())
}

func TestRunJobProcess(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var workerID string
	rt.Listen(EventAfterForkExecutor, func(_ context.Context, ev *Event) Outcome {
		workerID = ev.WorkerID
		return Proceed
	})
	require.NoError(t, rt.Handle("Test_Job", func(context.Context, *Job) error { return nil }))

	job := NewJob("Test_Job")
	job.TrackStatus = true
	require.NoError(t, rt.Client().CreateStatus(ctx, job.ID))
	data, err := job.Encode()
	require.NoError(t, err)

	require.NoError(t, rt.RunJobProcess(ctx, bytes.NewReader(data), "host:1:worker:default"))
	assert.Equal(t, "host:1:worker:default", workerID)
	assert.Equal(t, StatusComplete, jobStatus(t, rt, job.ID))

	assert.Error(t, rt.RunJobProcess(ctx, bytes.NewReader([]byte("not json")), ""))
}

func TestLoop_PauseRecorded(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	w := NewWorker(rt, workerSlot("default"))
	w.Pause()
	require.NoError(t, w.syncPaused(ctx))
	paused, err := rt.WorkerPaused(ctx, w.ID())
	require.NoError(t, err)
	assert.True(t, paused)

	w.Resume()
	require.NoError(t, w.syncPaused(ctx))
	paused, err = rt.WorkerPaused(ctx, w.ID())
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestLoop_PausedWorkerTakesNoJobs(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.Handle("Test_Job", func(context.Context, *Job) error { return nil }))
	_, err := rt.Client().Enqueue(ctx, "default", "Test_Job", nil)
	require.NoError(t, err)

	w := NewWorker(rt, workerSlot("default"))
	w.Pause()
	require.NoError(t, w.Work(ctx))

	size, err := rt.Client().Size(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestLoop_ShutdownStopsIntervalLoop(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	slot := workerSlot("default")
	slot.Interval = time.Hour
	w := NewWorker(rt, slot)

	done := make(chan error, 1)
	go func() { done <- w.Work(ctx) }()

	require.Eventually(t, func() bool {
		ok, _ := rt.WorkerExists(ctx, w.ID())
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	w.Shutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestPruneDeadWorkers(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()
	rt.processAlive = func(int) bool { return false }

	job := NewJob("Test_Job")
	job.TrackStatus = true
	require.NoError(t, rt.Client().CreateStatus(ctx, job.ID))

	dead := rt.hostname + ":999999:worker:default"
	remote := "elsewhere:999999:worker:default"
	require.NoError(t, rt.rc.SAdd(ctx, workersKey, dead, remote))
	data, err := json.Marshal(currentJob{Queue: "default", RunAt: time.Now().Format(time.RFC1123), Payload: job})
	require.NoError(t, err)
	require.NoError(t, rt.rc.Set(ctx, workerKey(dead), data, 0))

	require.NoError(t, rt.PruneDeadWorkers(ctx))

	workers, err := rt.Workers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{remote}, workers)
	assert.Equal(t, StatusFailed, jobStatus(t, rt, job.ID))
}

func TestParseWorkerID(t *testing.T) {
	host, p, ok := parseWorkerID("web1:4242:worker:high,low")
	require.True(t, ok)
	assert.Equal(t, "web1", host)
	assert.Equal(t, 4242, p)

	_, _, ok = parseWorkerID("web1")
	assert.False(t, ok)
	_, _, ok = parseWorkerID("web1:abc:worker")
	assert.False(t, ok)
}

func TestWorkerID(t *testing.T) {
	rt, _ := testRuntime(t)
	w := NewWorker(rt, workerSlot("high, low"))
	assert.Equal(t, rt.hostname+":"+strconv.Itoa(pid())+":worker:high,low", w.ID())
}

func TestStatsListener(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()
	require.NoError(t, rt.InitListeners([]string{"stats"}))
	assert.Error(t, rt.InitListeners([]string{"nope"}))

	require.NoError(t, rt.Handle("Test_Job", func(context.Context, *Job) error { return nil }))
	require.NoError(t, rt.Handle("Failing_Job", func(context.Context, *Job) error { return errors.New("x") }))
	_, err := rt.Client().Enqueue(ctx, "mail", "Test_Job", nil)
	require.NoError(t, err)
	_, err = rt.Client().Enqueue(ctx, "mail", "Failing_Job", nil)
	require.NoError(t, err)

	w := NewWorker(rt, workerSlot("mail"))
	require.NoError(t, w.Work(ctx))

	for name, want := range map[string]int64{
		"processed:mail": 1,
		"failed:mail":    1,
		"forked:worker":  1,
		"stopped:worker": 1,
	} {
		got, err := rt.Client().Stat(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	history, err := rt.Client().WorkerHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, w.ID(), history[0].Name)
	assert.Equal(t, int64(2), history[0].Processed)
	assert.Equal(t, int64(1), history[0].Failed)
	assert.NotEmpty(t, history[0].Started)

	// per-worker counters go away with the worker record
	processed, err := rt.Client().Stat(ctx, "processed:"+w.ID())
	require.NoError(t, err)
	assert.Zero(t, processed)
}
