package resque

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const pidFileMode = 0o777

// daemonize re-executes this binary detached from the terminal in a new
// session with stdio on /dev/null. The caller exits after it returns.
func daemonize() error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(executable(), os.Args[1:]...)
	cmd.Env = append(os.Environ(), EnvDaemonized+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	return cmd.Process.Release()
}

// writePIDFile records this process as the master.
func writePIDFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid())), pidFileMode); err != nil {
		return fmt.Errorf("writing pidfile %s: %w", path, err)
	}
	return os.Chmod(path, pidFileMode)
}

// readMaster returns the pid recorded in path and whether it is alive.
func readMaster(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	p := parseInt(strings.TrimSpace(string(data)))
	return p, p > 0 && processAlive(p)
}

// stopMaster interrupts the master and waits for it to go away.
func stopMaster(ctx context.Context, master int) {
	_ = syscall.Kill(master, syscall.SIGINT)
	for processAlive(master) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// killMaster interrupts then kills the master, and its whole process group
// when it leads one.
func killMaster(master int) {
	target := master
	if pgid, err := syscall.Getpgid(master); err == nil && pgid == master {
		target = -master
	}
	_ = syscall.Kill(target, syscall.SIGINT)
	_ = syscall.Kill(target, syscall.SIGKILL)
}
