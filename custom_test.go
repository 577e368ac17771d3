package resque

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func customSlot(handler string, interval time.Duration) WorkerSlot {
	return WorkerSlot{
		Group:      WorkerGroup{Type: TypeCustomWorker, Queue: "jobs", Handler: handler, Nums: 2},
		Index:      1,
		GroupCount: 2,
		Interval:   interval,
	}
}

func TestCustomWorker_Runs(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, rt.HandleCustom("heartbeat", func(_ context.Context, w *CustomWorker) error {
		calls.Add(1)
		assert.Equal(t, []string{"jobs"}, w.Queues())
		assert.Equal(t, 1, w.GroupIndex())
		assert.Equal(t, 2, w.GroupCount())
		assert.Same(t, rt, w.Runtime())
		return nil
	}))

	r, err := rt.NewRunner(customSlot("heartbeat", 0))
	require.NoError(t, err)
	assert.Contains(t, r.ID(), ":custom_worker:jobs")
	require.NoError(t, r.Work(ctx))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCustomWorker_StopsItself(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, rt.HandleCustom("three", func(_ context.Context, w *CustomWorker) error {
		if calls.Add(1) == 3 {
			w.Shutdown()
		}
		return nil
	}))

	r, err := rt.NewRunner(customSlot("three", time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, r.Work(ctx))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCustomWorker_ErrorStops(t *testing.T) {
	rt, _ := testRuntime(t)
	require.NoError(t, rt.HandleCustom("broken", func(context.Context, *CustomWorker) error {
		return errors.New("lost connection")
	}))

	r, err := rt.NewRunner(customSlot("broken", time.Hour))
	require.NoError(t, err)
	err = r.Work(context.Background())
	assert.ErrorContains(t, err, "lost connection")
}

func TestCustomWorker_UnknownHandler(t *testing.T) {
	rt, _ := testRuntime(t)
	_, err := rt.NewRunner(customSlot("missing", 0))
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}
