package resque

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Version is reported in the status file.
const Version = "1.0.0"

const (
	statusFileMode     = 0o722
	statusGlobalLine   = "----------------------------------------------GLOBAL STATUS----------------------------------------------------"
	statusProcessLine  = "----------------------------------------------PROCESS STATUS---------------------------------------------------"
	statusManagerType  = "Manager"
	statusTypeColWidth = 18
	statusQueueWidth   = 24
)

var workerProcessesRe = regexp.MustCompile(`(\d+) worker processes`)

// StatusRow is the line one process contributes to the status file.
type StatusRow struct {
	PID    int
	Memory uint64
	Type   string
	Queue  string
	Timers int64
	Loops  int64
	Jobs   int64
	Busy   bool
}

// MemoryMB returns Memory in megabytes.
func (r StatusRow) MemoryMB() float64 {
	return float64(r.Memory) / (1024 * 1024)
}

// State returns "busy" or "idle".
func (r StatusRow) State() string {
	if r.Busy {
		return "busy"
	}
	return "idle"
}

func (r StatusRow) line() string {
	queue := r.Queue
	if queue == "" {
		queue = "-"
	}
	return fmt.Sprintf("%-10d%-8s%-*s %-*s %-8d%-13d%-13d[%s]\n",
		r.PID, fmt.Sprintf("%.2fM", r.MemoryMB()),
		statusTypeColWidth, r.Type, statusQueueWidth, queue,
		r.Timers, r.Loops, r.Jobs, r.State())
}

// appendStatusRow appends row to the status file at path.
func appendStatusRow(path string, row StatusRow) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, statusFileMode)
	if err != nil {
		return fmt.Errorf("opening status file: %w", err)
	}
	defer f.Close()
	if _, err := io.WriteString(f, row.line()); err != nil {
		return fmt.Errorf("writing status row: %w", err)
	}
	return nil
}

// ExitInfo counts how often processes of a group exited with a status.
type ExitInfo struct {
	GroupID int
	Type    string
	Status  int
	Count   int
}

// statusHeader is the block the manager writes before its workers append.
type statusHeader struct {
	Started   time.Time
	Now       time.Time
	Groups    int
	Processes int
	Exits     []ExitInfo
	Manager   StatusRow
}

// writeStatusHeader appends the global block and the manager row.
func writeStatusHeader(path string, h statusHeader) error {
	var b strings.Builder
	up := h.Now.Sub(h.Started)
	days := int(up.Hours()) / 24
	hours := int(up.Hours()) % 24
	minutes := int(up.Minutes()) % 60

	b.WriteString(statusGlobalLine + "\n")
	fmt.Fprintf(&b, "%-20s%s             Go version: %s\n", "Resque version: ", Version, runtime.Version())
	fmt.Fprintf(&b, "%-20s%s   up %d days %d hours %d minutes\n", "Started at: ",
		h.Started.Format("2006-01-02 15:04:05"), days, hours, minutes)
	fmt.Fprintf(&b, "%-20s%s\n", "Load averages: ", loadAverages())
	fmt.Fprintf(&b, "%-20s1 manager(pid: %d)   %d worker groups   %d worker processes\n",
		"Processes stats: ", h.Manager.PID, h.Groups, h.Processes)
	fmt.Fprintf(&b, "%-*s exit_status      exit_count\n", statusTypeColWidth, "worker_type")
	for _, e := range h.Exits {
		fmt.Fprintf(&b, "%-*s %-16d %d\n", statusTypeColWidth, e.Type, e.Status, e.Count)
	}
	b.WriteString(statusProcessLine + "\n")
	b.WriteString(statusColumns())
	b.WriteString(h.Manager.line())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, statusFileMode)
	if err != nil {
		return fmt.Errorf("opening status file: %w", err)
	}
	defer f.Close()
	if _, err := io.WriteString(f, b.String()); err != nil {
		return fmt.Errorf("writing status header: %w", err)
	}
	return os.Chmod(path, statusFileMode)
}

func statusColumns() string {
	return fmt.Sprintf("%-10s%-8s%-*s %-*s %-8s%-13s%-13s%s\n",
		"pid", "memory", statusTypeColWidth, "worker_type", statusQueueWidth, "queue",
		"timers", "total_loops", "total_jobs", "status")
}

// loadAverages reads /proc/loadavg, or returns dashes where it is missing.
func loadAverages() string {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return "-, -, -"
	}
	f := strings.Fields(string(data))
	if len(f) < 3 {
		return "-, -, -"
	}
	return strings.Join(f[:3], ", ")
}

// StatusReport is a parsed status file.
type StatusReport struct {
	// Global holds the lines of the global block, separator excluded.
	Global []string
	// Rows holds process rows grouped by worker type, manager first.
	Rows []StatusRow
	// Expected is the number of worker processes the manager announced.
	Expected int
}

// Complete reports whether every announced process has written its row.
func (r *StatusReport) Complete() bool {
	return len(r.Rows) >= r.Expected+1
}

// Summary totals the process rows.
func (r *StatusReport) Summary() StatusRow {
	var s StatusRow
	for _, row := range r.Rows {
		s.Memory += row.Memory
		s.Timers += row.Timers
		s.Loops += row.Loops
		s.Jobs += row.Jobs
	}
	return s
}

// ParseStatus reads a status file body.
func ParseStatus(r io.Reader) (*StatusReport, error) {
	rep := &StatusReport{}
	var order []string
	byType := make(map[string][]StatusRow)
	inGlobal := true

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.TrimSpace(line) == "", line == statusGlobalLine:
			continue
		case line == statusProcessLine:
			inGlobal = false
			continue
		}
		if row, ok := parseStatusRow(line); ok {
			if _, seen := byType[row.Type]; !seen {
				order = append(order, row.Type)
			}
			byType[row.Type] = append(byType[row.Type], row)
			continue
		}
		if inGlobal {
			rep.Global = append(rep.Global, line)
			if m := workerProcessesRe.FindStringSubmatch(line); m != nil {
				rep.Expected, _ = strconv.Atoi(m[1])
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading status file: %w", err)
	}
	if rows, ok := byType[statusManagerType]; ok {
		rep.Rows = append(rep.Rows, rows...)
	}
	for _, typ := range order {
		if typ != statusManagerType {
			rep.Rows = append(rep.Rows, byType[typ]...)
		}
	}
	return rep, nil
}

// ReadStatusFile parses the status file at path.
func ReadStatusFile(path string) (*StatusReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseStatus(f)
}

func parseStatusRow(line string) (StatusRow, bool) {
	f := strings.Fields(line)
	if len(f) < 8 {
		return StatusRow{}, false
	}
	p, err := strconv.Atoi(f[0])
	if err != nil {
		return StatusRow{}, false
	}
	mem, err := strconv.ParseFloat(strings.TrimSuffix(f[1], "M"), 64)
	if err != nil {
		return StatusRow{}, false
	}
	queue := f[3]
	if queue == "-" {
		queue = ""
	}
	return StatusRow{
		PID:    p,
		Memory: uint64(mem * 1024 * 1024),
		Type:   f[2],
		Queue:  queue,
		Timers: parseInt64(f[4]),
		Loops:  parseInt64(f[5]),
		Jobs:   parseInt64(f[6]),
		Busy:   f[7] == "[busy]",
	}, true
}

// RenderStatus formats a report as plain text.
func RenderStatus(rep *StatusReport) string {
	var b strings.Builder
	b.WriteString(statusGlobalLine + "\n")
	for _, line := range rep.Global {
		b.WriteString(line + "\n")
	}
	b.WriteString(statusProcessLine + "\n")
	b.WriteString(statusColumns())
	for _, row := range rep.Rows {
		b.WriteString(row.line())
	}
	b.WriteString(statusProcessLine + "\n")
	s := rep.Summary()
	fmt.Fprintf(&b, "%-10s%-8s%-*s %-*s %-8d%-13d%-13d[Summary]\n",
		"Summary", fmt.Sprintf("%.2fM", s.MemoryMB()),
		statusTypeColWidth, "-", statusQueueWidth, "-", s.Timers, s.Loops, s.Jobs)
	return b.String()
}
