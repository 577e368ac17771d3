package resque

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const workersHistoryKey = "workers:history"

func statKey(name string) string {
	return "stat:" + name
}

// IncrStat increments the named counter by by.
func (c *Client) IncrStat(ctx context.Context, name string, by int64) error {
	_, err := c.rc.IncrBy(ctx, statKey(name), by)
	return err
}

// Stat returns the named counter, zero when it was never set.
func (c *Client) Stat(ctx context.Context, name string) (int64, error) {
	v, ok, err := c.rc.Get(ctx, statKey(name))
	if err != nil || !ok {
		return 0, err
	}
	return parseInt64(v), nil
}

// ClearStat deletes the named counter.
func (c *Client) ClearStat(ctx context.Context, name string) error {
	_, err := c.rc.Del(ctx, statKey(name))
	return err
}

// WorkerHistoryEntry is appended to the history list when a worker stops.
type WorkerHistoryEntry struct {
	Name      string `json:"name"`
	Started   string `json:"started"`
	Failed    int64  `json:"failed"`
	Processed int64  `json:"processed"`
	Stopped   string `json:"stopped"`
}

// WorkerHistory returns up to count of the most recent history entries.
func (c *Client) WorkerHistory(ctx context.Context, count int64) ([]WorkerHistoryEntry, error) {
	raws, err := c.rc.LRange(ctx, workersHistoryKey, -count, -1)
	if err != nil {
		return nil, err
	}
	out := make([]WorkerHistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e WorkerHistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decoding worker history: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// StatsListener keeps per-queue counters and the worker history list.
// It is registered by the listener name "stats".
type StatsListener struct {
	client *Client
	logger *slog.Logger
}

// NewStatsListener creates a stats listener writing through c.
func NewStatsListener(c *Client, logger *slog.Logger) *StatsListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsListener{client: c, logger: logger.With("component", "stats")}
}

// Init subscribes the listener to the event bus.
func (l *StatsListener) Init(ev *Events) {
	ev.Listen(EventWorkerStart, l.onWorkerStart)
	ev.Listen(EventAfterPerformJob, l.afterPerformJob)
	ev.Listen(EventJobFailed, l.onJobFailed)
	ev.Listen(EventWorkerStop, l.onWorkerStop)
}

func (l *StatsListener) incr(ctx context.Context, name string) {
	if err := l.client.IncrStat(ctx, name, 1); err != nil {
		l.logger.Error("updating stat failed", "stat", name, "error", err)
	}
}

func (l *StatsListener) onWorkerStart(ctx context.Context, _ *Event) Outcome {
	l.incr(ctx, "forked:worker")
	return Proceed
}

func (l *StatsListener) afterPerformJob(ctx context.Context, ev *Event) Outcome {
	l.incr(ctx, "processed:"+ev.Queue)
	return Proceed
}

func (l *StatsListener) onJobFailed(ctx context.Context, ev *Event) Outcome {
	l.incr(ctx, "failed:"+ev.Queue)
	return Proceed
}

func (l *StatsListener) onWorkerStop(ctx context.Context, ev *Event) Outcome {
	l.incr(ctx, "stopped:worker")
	if ev.WorkerID == "" {
		return Proceed
	}
	c := l.client
	started, _, err := c.rc.Get(ctx, workerStartedKey(ev.WorkerID))
	if err != nil {
		l.logger.Error("reading worker start failed", "worker", ev.WorkerID, "error", err)
		return Proceed
	}
	failed, _ := c.Stat(ctx, "failed:"+ev.WorkerID)
	processed, _ := c.Stat(ctx, "processed:"+ev.WorkerID)
	data, err := json.Marshal(WorkerHistoryEntry{
		Name:      ev.WorkerID,
		Started:   started,
		Failed:    failed,
		Processed: processed,
		Stopped:   time.Now().Format(time.RFC1123),
	})
	if err != nil {
		return Proceed
	}
	if _, err := c.rc.RPush(ctx, workersHistoryKey, data); err != nil {
		l.logger.Error("writing worker history failed", "worker", ev.WorkerID, "error", err)
	}
	return Proceed
}

