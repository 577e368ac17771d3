package resque

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
)

// Environment variables used to hand a role to a re-executed process.
const (
	EnvRole        = "RESQUE_ROLE"
	EnvWorkerGroup = "RESQUE_WORKER_GROUP"
	EnvWorkerIndex = "RESQUE_WORKER_INDEX"
	EnvWorkerID    = "RESQUE_WORKER_ID"
	EnvDaemonized  = "RESQUE_DAEMONIZED"

	RoleWorker = "worker"
	RoleJob    = "job"
)

func pid() int {
	return os.Getpid()
}

// processAlive reports whether pid names a live process. A process owned
// by another user counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// memoryUsage returns the resident set size of this process in bytes.
// Without procfs it falls back to the memory the Go runtime obtained.
func memoryUsage() uint64 {
	if rss, ok := readRSS("/proc/self/status"); ok {
		return rss
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

// readRSS parses the VmRSS line of a procfs status file.
func readRSS(path string) (uint64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		rest, ok := strings.CutPrefix(line, "VmRSS:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}

// executable returns the path used to re-execute this binary.
func executable() string {
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}
