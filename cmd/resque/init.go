package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

const configTemplate = `# resque supervisor configuration
# Every key can be overridden by an environment variable of the same name
# in upper case, e.g. REDIS_BACKEND=redis://localhost:6379/0

daemonize: false
redis_backend: "localhost:6379"   # host:port or redis:// URL
redis_password: ""
redis_database: 0
prefix: "resque"                  # key namespace

interval: 5                       # seconds between polls
blocking: false                   # use blocking pops with interval as timeout

pidfile: "./resque.pid"
log_file: "./resque.log"          # used when daemonized, rotated
statistics_file: "./resque.status"
fatal_log: "./resque-error.log"
status_timeout: 10                # seconds the status command waits

no_fork: false                    # run a single worker group in-process
verbose: false                    # info logging
vverbose: false                   # debug logging
# log_level: "warn"               # debug, info, warn, error

listener:
  - stats

worker_group:
  - type: Worker
    queue: "default"              # comma separated, highest priority first
    nums: 2
    # fork: true                  # run each job in a child process
  - type: SchedulerWorker
    nums: 1
  # - type: CrontabWorker
  #   queue: "default"
  #   nums: 1
  #   inline: false
  # - type: CustomWorker
  #   handler: "heartbeat"
  #   interval: 60

# max_inline_crontabs: 20

# manager_timer:
#   - interval: 60
#     handler: "echo"
#     params: {from: "timer"}
#     persistent: true

# worker_crontab:
#   - name: "echo-every-minute"
#     rule: "0 * * * * *"         # 6-field: sec min hour day month weekday
#     handler: "echo"
#     params: {hello: "world"}
#     singleton: false
#     mutex_expires: 3600
`

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "Path for the new config file")
	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: resque init [--config <file>]

Generate a resque config file with documented defaults.

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if err := initConfig(*configPath); err != nil {
		fmt.Fprintf(stderr, "resque: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Config file created: %s\n\n", *configPath)
	fmt.Fprintln(stdout, "Next steps:")
	fmt.Fprintln(stdout, "  1. Edit the config file to match your environment")
	fmt.Fprintln(stdout, "  2. Start the supervisor: resque --config "+*configPath+" start -d")
	fmt.Fprintln(stdout, "  3. Check on it:          resque --config "+*configPath+" status")
	return 0
}

func initConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists (will not overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
