package resque

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Exit codes returned by Manager.Run.
const (
	ExitOK    = 0
	ExitFatal = 1
	ExitUsage = 2
)

const usage = "Usage: resque {start|stop|restart|kill|status} [-d]"

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStatusRenderer sets how the status verb prints the report.
func WithStatusRenderer(fn func(*StatusReport) string) ManagerOption {
	return func(m *Manager) { m.render = fn }
}

// WithOutput sets where command output is written. Defaults to stdout.
func WithOutput(w io.Writer) ManagerOption {
	return func(m *Manager) { m.out = w }
}

// Manager supervises one OS process per worker slot and answers the
// start, stop, restart, kill and status commands.
type Manager struct {
	rt     *Runtime
	cfg    *Config
	logger *slog.Logger
	out    io.Writer
	render func(*StatusReport) string

	started time.Time
	loops   atomic.Int64
	jobs    atomic.Int64
	timers  atomic.Int64

	mu       sync.Mutex
	children map[int]WorkerSlot
	exits    map[int]map[int]int // group -> exit status -> count
	stopping bool
}

// NewManager creates a manager for cfg on top of rt.
func NewManager(rt *Runtime, cfg *Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		rt:       rt,
		cfg:      cfg,
		logger:   rt.logger.With("component", "manager"),
		out:      os.Stdout,
		render:   RenderStatus,
		children: make(map[int]WorkerSlot),
		exits:    make(map[int]map[int]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run dispatches on the process role. Re-executed children carry their
// role in the environment; the manager itself reads a verb from args.
func (m *Manager) Run(ctx context.Context, args []string) int {
	var err error
	switch os.Getenv(EnvRole) {
	case RoleWorker:
		err = m.runWorker(ctx)
	case RoleJob:
		err = m.runJob(ctx)
	default:
		return m.runCommand(ctx, args)
	}
	if err != nil {
		m.fatal(err)
		return ExitFatal
	}
	return ExitOK
}

func (m *Manager) runCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(m.out, usage)
		return ExitUsage
	}
	verb := args[0]
	detach := len(args) > 1 && args[1] == "-d"
	switch verb {
	case "start", "stop", "restart", "kill", "status":
	default:
		fmt.Fprintln(m.out, usage)
		return ExitUsage
	}

	master, alive := readMaster(m.cfg.PIDFile)
	if alive && verb == "start" {
		fmt.Fprintf(m.out, "resque already running (pid %d)\n", master)
		return ExitOK
	}
	if !alive && verb != "start" && verb != "restart" {
		fmt.Fprintln(m.out, "resque not running")
		return ExitOK
	}

	switch verb {
	case "kill":
		killMaster(master)
		return ExitOK
	case "status":
		if err := m.status(ctx, master); err != nil {
			fmt.Fprintln(m.out, err)
			return ExitFatal
		}
		return ExitOK
	case "stop", "restart":
		if alive {
			fmt.Fprintf(m.out, "resque is stopping (pid %d) ...\n", master)
			stopMaster(ctx, master)
			fmt.Fprintln(m.out, "resque stopped")
		}
		if verb == "stop" {
			return ExitOK
		}
	}

	if detach {
		m.cfg.Daemonize = true
	}
	if m.cfg.Daemonize && os.Getenv(EnvDaemonized) == "" {
		if err := daemonize(); err != nil {
			m.fatal(err)
			return ExitFatal
		}
		return ExitOK
	}
	if err := m.Start(ctx); err != nil {
		m.fatal(err)
		return ExitFatal
	}
	return ExitOK
}

// Start runs the supervisor until a stop signal arrives or ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	if len(m.cfg.WorkerGroup) == 0 {
		return ErrNoWorkerGroup
	}
	m.started = time.Now()
	if !m.cfg.NoFork {
		if err := writePIDFile(m.cfg.PIDFile); err != nil {
			return err
		}
	}
	defer m.cleanup()

	if err := m.rt.InitListeners(m.cfg.Listener); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := m.startTimers(ctx); err != nil {
		return err
	}
	if err := m.registerCrontabs(); err != nil {
		return err
	}

	if m.cfg.NoFork {
		return m.runInProcess(ctx)
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGUSR2)
	signal.Ignore(syscall.SIGPIPE)
	defer signal.Stop(sigCh)

	exitCh := make(chan childExit, 8)
	for gid, g := range m.cfg.WorkerGroup {
		m.logger.Info("starting worker group", "group", gid, "type", g.Type, "queue", g.Queue, "nums", g.Nums)
	}
	for _, slot := range m.cfg.Slots() {
		if err := m.spawn(slot, exitCh); err != nil {
			m.stopAll()
			return err
		}
	}
	m.logger.Info("manager started", "pid", pid(), "processes", m.childCount())

	return m.monitor(ctx, sigCh, exitCh)
}

type childExit struct {
	pid    int
	status int
}

// monitor waits for child exits and signals. Children exiting while the
// manager runs are respawned into the same slot.
func (m *Manager) monitor(ctx context.Context, sigCh <-chan os.Signal, exitCh chan childExit) error {
	done := ctx.Done()
	for {
		m.loops.Add(1)
		select {
		case <-done:
			done = nil
			m.stopAll()
		case sig := <-sigCh:
			m.logger.Info("signal received", "signal", sig)
			switch sig {
			case syscall.SIGUSR2:
				m.writeStatus()
			default:
				m.stopAll()
			}
		case ex := <-exitCh:
			m.mu.Lock()
			slot, known := m.children[ex.pid]
			delete(m.children, ex.pid)
			stopping := m.stopping
			m.mu.Unlock()

			if !known {
				m.logger.Warn("unknown child exited", "pid", ex.pid, "status", ex.status)
				continue
			}
			if !stopping {
				m.jobs.Add(1)
				m.recordExit(slot.GroupID, ex.status)
				m.logger.Warn("worker exited, restarting",
					"pid", ex.pid, "status", ex.status, "type", slot.Group.Type, "queue", slot.Group.Queue)
				if err := m.spawn(slot, exitCh); err != nil {
					m.stopAll()
					return err
				}
				continue
			}
			m.logger.Info("worker stopped", "pid", ex.pid)
		}

		m.mu.Lock()
		finished := m.stopping && len(m.children) == 0
		m.mu.Unlock()
		if finished {
			m.logger.Info("all workers stopped, manager exiting")
			return nil
		}
	}
}

// spawn re-executes this binary as the worker for slot.
func (m *Manager) spawn(slot WorkerSlot, exitCh chan<- childExit) error {
	cmd := exec.Command(executable(), os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		EnvRole+"="+RoleWorker,
		EnvWorkerGroup+"="+strconv.Itoa(slot.GroupID),
		EnvWorkerIndex+"="+strconv.Itoa(slot.Index),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker process: %w", err)
	}
	p := cmd.Process.Pid
	m.mu.Lock()
	m.children[p] = slot
	m.mu.Unlock()
	m.logger.Debug("worker process started", "pid", p, "group", slot.GroupID, "index", slot.Index)

	go func() {
		err := cmd.Wait()
		exitCh <- childExit{pid: p, status: exitStatus(err)}
	}()
	return nil
}

// exitStatus maps a Wait error to a shell-style exit status.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

func (m *Manager) recordExit(group, status int) {
	if status == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exits[group] == nil {
		m.exits[group] = make(map[int]int)
	}
	m.exits[group][status]++
}

// stopAll asks every child to finish its current job and exit.
func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopping {
		m.logger.Info("stopping workers", "processes", len(m.children))
	}
	m.stopping = true
	for p := range m.children {
		if err := syscall.Kill(p, syscall.SIGQUIT); err != nil {
			m.logger.Warn("signalling worker failed", "pid", p, "error", err)
		}
	}
}

func (m *Manager) childCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.children)
}

// writeStatus writes the global block and asks every child for its row.
func (m *Manager) writeStatus() {
	m.mu.Lock()
	h := statusHeader{
		Started:   m.started,
		Now:       time.Now(),
		Groups:    len(m.cfg.WorkerGroup),
		Processes: len(m.children),
		Manager: StatusRow{
			PID:    pid(),
			Memory: memoryUsage(),
			Type:   statusManagerType,
			Timers: m.timers.Load(),
			Loops:  m.loops.Load(),
			Jobs:   m.jobs.Load(),
		},
	}
	for gid, g := range m.cfg.WorkerGroup {
		if len(m.exits[gid]) == 0 {
			h.Exits = append(h.Exits, ExitInfo{GroupID: gid, Type: g.Type})
			continue
		}
		for status, count := range m.exits[gid] {
			h.Exits = append(h.Exits, ExitInfo{GroupID: gid, Type: g.Type, Status: status, Count: count})
		}
	}
	children := make([]int, 0, len(m.children))
	for p := range m.children {
		children = append(children, p)
	}
	m.mu.Unlock()

	if err := writeStatusHeader(m.cfg.StatisticsFile, h); err != nil {
		m.logger.Error("writing status file failed", "error", err)
		return
	}
	for _, p := range children {
		_ = syscall.Kill(p, syscall.SIGUSR2)
	}
}

// status asks the running master for a report and prints it.
func (m *Manager) status(ctx context.Context, master int) error {
	path := m.cfg.StatisticsFile
	_ = os.Remove(path)
	if err := syscall.Kill(master, syscall.SIGUSR2); err != nil {
		return fmt.Errorf("signalling manager %d: %w", master, err)
	}

	timeout := time.Duration(m.cfg.StatusTimeout) * time.Second
	deadline := time.Now().Add(timeout)
	var rep *StatusReport
	for {
		var err error
		rep, err = ReadStatusFile(path)
		if err == nil && rep.Complete() {
			break
		}
		if time.Now().After(deadline) {
			if rep == nil {
				return fmt.Errorf("no status report after %s", timeout)
			}
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	_ = os.Remove(path)
	fmt.Fprint(m.out, m.render(rep))
	return nil
}

// runInProcess runs the single configured group in the manager process.
func (m *Manager) runInProcess(ctx context.Context) error {
	slot := m.cfg.slot(0, 0)
	runner, err := m.rt.NewRunner(slot)
	if err != nil {
		return err
	}
	m.logger.Info("running worker in-process", "worker", runner.ID())
	return runner.Work(ctx)
}

// runWorker is the body of a worker process.
func (m *Manager) runWorker(ctx context.Context) error {
	gid, err := strconv.Atoi(os.Getenv(EnvWorkerGroup))
	if err != nil || gid < 0 || gid >= len(m.cfg.WorkerGroup) {
		return fmt.Errorf("%w: %q", ErrNoWorkerGroup, os.Getenv(EnvWorkerGroup))
	}
	index := parseInt(os.Getenv(EnvWorkerIndex))
	if err := m.rt.InitListeners(m.cfg.Listener); err != nil {
		return err
	}
	if err := m.registerCrontabs(); err != nil {
		return err
	}
	runner, err := m.rt.NewRunner(m.cfg.slot(gid, index))
	if err != nil {
		return err
	}
	return runner.Work(ctx)
}

// runJob is the body of a per-job executor process.
func (m *Manager) runJob(ctx context.Context) error {
	if err := m.rt.InitListeners(m.cfg.Listener); err != nil {
		return err
	}
	return m.rt.RunJobProcess(ctx, os.Stdin, os.Getenv(EnvWorkerID))
}

// registerCrontabs loads the configured crontabs. Any invalid entry is fatal.
func (m *Manager) registerCrontabs() error {
	for _, ct := range m.cfg.WorkerCrontab {
		if !m.rt.crontabs.Register(ct) {
			return fmt.Errorf("%w: %q rule %q handler %q", ErrInvalidCrontab, ct.Name, ct.Rule, ct.Handler)
		}
	}
	return nil
}

// startTimers runs every manager timer on its own ticker until ctx is done.
func (m *Manager) startTimers(ctx context.Context) error {
	for i, t := range m.cfg.ManagerTimer {
		h, ok := m.rt.registry.handler(t.Handler)
		if !ok {
			return fmt.Errorf("manager_timer[%d]: %w: %s", i, ErrHandlerNotFound, t.Handler)
		}
		m.timers.Add(1)
		go m.runTimer(ctx, t, h.fn)
	}
	return nil
}

func (m *Manager) runTimer(ctx context.Context, t ManagerTimer, fn Handler) {
	defer m.timers.Add(-1)
	ticker := time.NewTicker(time.Duration(t.Interval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		job := &Job{
			ID:    newJobID(),
			Class: t.Handler,
			Args:  []any{map[string]any(t.Params)},
			Queue: "timer",
		}
		if err := callHandler(ctx, fn, job); err != nil {
			m.logger.Error("manager timer failed", "handler", t.Handler, "error", err)
		}
		if !t.IsPersistent() {
			return
		}
	}
}

func (m *Manager) cleanup() {
	if !m.cfg.NoFork {
		_ = os.Remove(m.cfg.PIDFile)
	}
	_ = os.Remove(m.cfg.StatisticsFile)
}

// fatal logs err and appends it to the fatal error log.
func (m *Manager) fatal(err error) {
	m.logger.Error("fatal error", "error", err)
	appendFatalLog(m.cfg.FatalLog, err)
}

func roleName() string {
	if r := os.Getenv(EnvRole); r != "" {
		return r
	}
	return "manager"
}
