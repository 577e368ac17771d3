package resque

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

const workersKey = "workers"

func workerKey(id string) string        { return "worker:" + id }
func workerStartedKey(id string) string { return "worker:" + id + ":started" }
func workerPausedKey(id string) string  { return "worker:" + id + ":paused" }

// WorkerSlot is one process of a worker group.
type WorkerSlot struct {
	Group      WorkerGroup
	GroupID    int
	Index      int
	GroupCount int

	// Interval overrides the group interval. Zero means a single pass.
	Interval time.Duration

	// StatusFile receives a status row on SIGUSR2.
	StatusFile string

	// Signals installs the worker signal handlers.
	Signals bool

	// MaxInlineCrontabs bounds inline crontab firings pending at once.
	MaxInlineCrontabs int
}

// kind is the per-type behaviour plugged into the shared loop.
type kind interface {
	// tick does one unit of work and reports whether it found any.
	tick(ctx context.Context) (bool, error)
	// idle waits after a tick that found no work.
	idle(ctx context.Context)
}

// loop is the state machine shared by every worker type: signal handling,
// pause and resume, registration, pruning and the sleep between ticks.
type loop struct {
	rt       *Runtime
	id       string
	typ      string
	queues   []string
	slot     WorkerSlot
	interval time.Duration
	logger   *slog.Logger

	shutdown atomic.Bool
	paused   atomic.Bool
	busy     atomic.Bool
	loops    atomic.Int64
	jobs     atomic.Int64
	timers   atomic.Int64
	wake     chan struct{}

	// killChild terminates an in-flight executor process, if any.
	killChild atomic.Pointer[func()]

	pausedSynced bool
}

func newLoop(rt *Runtime, typ string, queues []string, slot WorkerSlot) *loop {
	id := strings.Join([]string{rt.hostname, strconv.Itoa(pid()), typ, strings.Join(queues, ",")}, ":")
	return &loop{
		rt:       rt,
		id:       id,
		typ:      typ,
		queues:   queues,
		slot:     slot,
		interval: slot.Interval,
		logger:   rt.logger.With("component", typ, "worker", id),
		wake:     make(chan struct{}, 1),
	}
}

// ID returns the worker record id: hostname:pid:type:queues.
func (l *loop) ID() string { return l.id }

// Shutdown asks the loop to exit before its next iteration.
func (l *loop) Shutdown() {
	l.shutdown.Store(true)
	l.interrupt()
}

// Pause stops the loop from taking new work.
func (l *loop) Pause() { l.paused.Store(true) }

// Resume undoes Pause.
func (l *loop) Resume() { l.paused.Store(false) }

func (l *loop) interrupt() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run drives k until shutdown. An interval of zero makes it return after
// the first tick that finds no work.
func (l *loop) run(ctx context.Context, k kind) (err error) {
	if l.slot.Signals {
		stop := l.watchSignals()
		defer stop()
	}

	l.rt.events.Trigger(ctx, &Event{Name: EventWorkerStart, WorkerID: l.id})
	if err := l.rt.PruneDeadWorkers(ctx); err != nil {
		return err
	}
	if err := l.register(ctx); err != nil {
		return err
	}
	l.logger.Info("worker started", "interval", l.interval)

	defer func() {
		stopCtx := context.WithoutCancel(ctx)
		l.rt.events.Trigger(stopCtx, &Event{Name: EventWorkerStop, WorkerID: l.id})
		if uerr := l.rt.unregisterWorker(stopCtx, l.id); uerr != nil && err == nil {
			err = uerr
		}
		l.logger.Info("worker stopped", "loops", l.loops.Load(), "jobs", l.jobs.Load())
	}()

	for {
		if l.shutdown.Load() || ctx.Err() != nil {
			return nil
		}
		l.loops.Add(1)
		if err := l.syncPaused(ctx); err != nil {
			return err
		}

		if l.paused.Load() {
			if l.interval == 0 {
				return nil
			}
			l.sleep(ctx, l.interval)
			continue
		}

		worked, err := k.tick(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !worked {
			if l.interval == 0 {
				return nil
			}
			k.idle(ctx)
		}
	}
}

// sleep waits for d, returning early on shutdown or cancellation.
func (l *loop) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-l.wake:
	case <-ctx.Done():
	}
}

// watchSignals maps process signals onto the loop flags.
// TERM and INT also kill an in-flight executor; QUIT lets it finish.
func (l *loop) watchSignals() func() {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT,
		syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCONT)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				l.logger.Debug("signal received", "signal", sig)
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					if kill := l.killChild.Load(); kill != nil {
						(*kill)()
					}
					l.Shutdown()
				case syscall.SIGQUIT:
					l.Shutdown()
				case syscall.SIGUSR1:
					l.Pause()
					l.interrupt()
				case syscall.SIGCONT:
					l.Resume()
					l.interrupt()
				case syscall.SIGUSR2:
					if err := appendStatusRow(l.slot.StatusFile, l.statusRow()); err != nil {
						l.logger.Error("writing status row failed", "error", err)
					}
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func (l *loop) statusRow() StatusRow {
	return StatusRow{
		PID:    pid(),
		Memory: memoryUsage(),
		Type:   l.typ,
		Queue:  strings.Join(l.queues, ","),
		Timers: l.timers.Load(),
		Loops:  l.loops.Load(),
		Jobs:   l.jobs.Load(),
		Busy:   l.busy.Load(),
	}
}

func (l *loop) syncPaused(ctx context.Context) error {
	p := l.paused.Load()
	if p == l.pausedSynced {
		return nil
	}
	l.pausedSynced = p
	if p {
		l.logger.Info("worker paused")
		return l.rt.rc.Set(ctx, workerPausedKey(l.id), time.Now().Format(time.RFC1123), 0)
	}
	l.logger.Info("worker resumed")
	_, err := l.rt.rc.Del(ctx, workerPausedKey(l.id))
	return err
}

func (l *loop) register(ctx context.Context) error {
	if err := l.rt.rc.SAdd(ctx, workersKey, l.id); err != nil {
		return fmt.Errorf("registering worker %s: %w", l.id, err)
	}
	return l.rt.rc.Set(ctx, workerStartedKey(l.id), time.Now().Format(time.RFC1123), 0)
}

// currentJob is the snapshot stored while a worker runs a job.
type currentJob struct {
	Queue   string `json:"queue"`
	RunAt   string `json:"run_at"`
	Payload *Job   `json:"payload"`
}

// workingOn records job as in flight on this worker.
func (l *loop) workingOn(ctx context.Context, job *Job) error {
	l.busy.Store(true)
	if err := l.rt.client.UpdateStatus(ctx, job.ID, StatusRunning); err != nil {
		return err
	}
	data, err := json.Marshal(currentJob{Queue: job.Queue, RunAt: time.Now().Format(time.RFC1123), Payload: job})
	if err != nil {
		return fmt.Errorf("encoding current job: %w", err)
	}
	return l.rt.rc.Set(ctx, workerKey(l.id), data, 0)
}

// doneWorking clears the in-flight record and counts the job processed.
func (l *loop) doneWorking(ctx context.Context) error {
	l.busy.Store(false)
	l.jobs.Add(1)
	if err := l.rt.client.IncrStat(ctx, "processed", 1); err != nil {
		return err
	}
	if err := l.rt.client.IncrStat(ctx, "processed:"+l.id, 1); err != nil {
		return err
	}
	_, err := l.rt.rc.Del(ctx, workerKey(l.id))
	return err
}

// WorkerJob returns the job a worker is currently running, if any.
func (rt *Runtime) WorkerJob(ctx context.Context, id string) (*Job, bool, error) {
	raw, ok, err := rt.rc.Get(ctx, workerKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var cj currentJob
	if err := json.Unmarshal([]byte(raw), &cj); err != nil {
		return nil, false, fmt.Errorf("decoding current job of %s: %w", id, err)
	}
	if cj.Payload == nil {
		return nil, false, nil
	}
	return cj.Payload, true, nil
}

// Workers returns the registered worker ids.
func (rt *Runtime) Workers(ctx context.Context) ([]string, error) {
	return rt.rc.SMembers(ctx, workersKey)
}

// WorkerExists reports whether id is registered.
func (rt *Runtime) WorkerExists(ctx context.Context, id string) (bool, error) {
	return rt.rc.SIsMember(ctx, workersKey, id)
}

// unregisterWorker drops a worker record. A job still recorded as in flight
// is failed with ErrDirtyExit.
func (rt *Runtime) unregisterWorker(ctx context.Context, id string) error {
	job, ok, err := rt.WorkerJob(ctx, id)
	if err != nil {
		rt.logger.Warn("reading in-flight job failed", "worker", id, "error", err)
	} else if ok {
		rt.logger.Warn("failing in-flight job of stopped worker", "worker", id, "job_id", job.ID)
		if err := rt.Fail(ctx, job, id, ErrDirtyExit); err != nil {
			return err
		}
	}
	err = rt.rc.runScript(ctx, "unregister_worker", []string{
		workersKey,
		workerKey(id),
		workerStartedKey(id),
		workerPausedKey(id),
		statKey("processed:" + id),
		statKey("failed:" + id),
	}, id).Err()
	if err != nil {
		return fmt.Errorf("unregistering worker %s: %w", id, rt.rc.wrap("unregister", err))
	}
	return nil
}

// PruneDeadWorkers removes records of workers on this host whose process
// is gone. Records of other hosts are left alone.
func (rt *Runtime) PruneDeadWorkers(ctx context.Context) error {
	ids, err := rt.Workers(ctx)
	if err != nil {
		return err
	}
	self := pid()
	for _, id := range ids {
		host, p, ok := parseWorkerID(id)
		if !ok || host != rt.hostname || p == self {
			continue
		}
		if rt.processAlive(p) {
			continue
		}
		rt.logger.Info("pruning dead worker", "worker", id)
		if err := rt.unregisterWorker(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// parseWorkerID splits hostname:pid:... into its host and pid.
func parseWorkerID(id string) (string, int, bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) < 2 {
		return "", 0, false
	}
	p := parseInt(parts[1])
	if p <= 0 {
		return "", 0, false
	}
	return parts[0], p, true
}
