package resque

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Main is the entry point shared by the manager and the processes it
// re-executes. It loads the configuration at configPath, builds the
// runtime, lets setup register handlers and listeners, then runs the
// manager with args. It returns the process exit code.
func Main(ctx context.Context, configPath string, args []string, setup func(*Runtime) error, opts ...ManagerOption) int {
	cfg, err := LoadConfigFile(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		appendFatalLog(DefaultConfig().FatalLog, err)
		return ExitFatal
	}
	if os.Getenv(EnvDaemonized) != "" {
		cfg.Daemonize = true
	}

	logger, closer := cfg.NewLogger()
	defer closer.Close()

	rt, err := NewRuntime(WithRedis(cfg.RedisOptions()...), WithLogger(logger))
	if err != nil {
		logger.Error("creating runtime failed", "error", err)
		appendFatalLog(cfg.FatalLog, err)
		return ExitFatal
	}
	defer rt.Close()

	if setup != nil {
		if err := setup(rt); err != nil {
			logger.Error("setup failed", "error", err)
			appendFatalLog(cfg.FatalLog, err)
			return ExitFatal
		}
	}
	return NewManager(rt, cfg, opts...).Run(ctx, args)
}

// appendFatalLog appends err to the fatal error log at path.
func appendFatalLog(path string, err error) {
	if path == "" {
		return
	}
	f, ferr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if ferr != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] pid %d %s: %v\n", time.Now().Format(time.RFC3339), pid(), roleName(), err)
}
