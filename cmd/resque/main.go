// Binary resque runs and controls a Redis-backed worker supervisor.
//
// Usage:
//
//	resque [--config <file>] <command> [-d]
//
// Commands:
//
//	start [-d]     Start the manager, detached with -d
//	stop           Stop a running manager gracefully
//	restart [-d]   Stop then start
//	kill           Interrupt then kill the manager
//	status         Print the status of every worker process
//	init           Generate a config file
//	version        Print the version
//	help           Show this help message
//
// The config path defaults to resque.yaml and may also be set with
// RESQUE_CONFIG. Every config key can be overridden by an environment
// variable of the same name in upper case.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	resque "github.com/hectorqin/go-resque"
)

const defaultConfigPath = "resque.yaml"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	configPath, args, err := splitConfigFlag(args)
	if err != nil {
		fmt.Fprintf(stderr, "resque: %v\n", err)
		return resque.ExitUsage
	}

	// Re-executed workers and job executors carry their role in the
	// environment and need no command.
	if os.Getenv(resque.EnvRole) != "" {
		return resque.Main(context.Background(), configPath, args, registerJobs)
	}

	if len(args) == 0 {
		printUsage(stdout)
		return resque.ExitUsage
	}

	switch args[0] {
	case "start", "stop", "restart", "kill", "status":
		return resque.Main(context.Background(), configPath, args, registerJobs,
			resque.WithOutput(stdout),
			resque.WithStatusRenderer(statusRenderer(os.Stdout)),
		)
	case "init":
		return runInit(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "resque %s\n", version)
		return resque.ExitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return resque.ExitOK
	default:
		fmt.Fprintf(stderr, "resque: unknown command %q\n\n", args[0])
		printUsage(stderr)
		return resque.ExitUsage
	}
}

// splitConfigFlag strips a leading --config/-c flag. Without one the path
// comes from RESQUE_CONFIG or the default.
func splitConfigFlag(args []string) (string, []string, error) {
	path := os.Getenv("RESQUE_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	if len(args) > 0 && (args[0] == "--config" || args[0] == "-c") {
		if len(args) < 2 {
			return "", nil, fmt.Errorf("%s requires a file", args[0])
		}
		return args[1], args[2:], nil
	}
	return path, args, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `resque - Redis job queue supervisor

Usage:
  resque [--config <file>] <command> [-d]

Lifecycle:
  start [-d]     Start the manager (-d: run as daemon)
  stop           Stop the running manager gracefully
  restart [-d]   Stop then start
  kill           Interrupt then kill the manager
  status         Print worker process status

Other:
  init [--config <file>]   Generate a config file (default: resque.yaml)
  version                  Print the version
  help                     Show this help message
`)
}
