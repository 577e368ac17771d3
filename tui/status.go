// Package tui renders supervisor status reports for a terminal.
package tui

import (
	"strconv"
	"strings"

	resque "github.com/hectorqin/go-resque"
)

// RenderStatus formats rep for a terminal width columns wide. A width of
// zero disables fitting.
func RenderStatus(rep *resque.StatusReport, width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("GLOBAL STATUS"))
	b.WriteString("\n")
	for _, line := range rep.Global {
		if width > 0 {
			line = truncate(line, width)
		}
		if isFailedExitLine(line) {
			b.WriteString(exitBad.Render(line))
		} else {
			b.WriteString(globalStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(titleStyle.Render("PROCESS STATUS"))
	b.WriteString("\n")

	t := newTable(width,
		column{header: "pid"},
		column{header: "memory"},
		column{header: "worker_type", flex: true, min: 8},
		column{header: "queue", flex: true, min: 5},
		column{header: "timers"},
		column{header: "total_loops"},
		column{header: "total_jobs"},
		column{header: "status"},
	)
	for _, row := range rep.Rows {
		style := plainRow
		if row.Type == "Manager" {
			style = managerRow
		}
		queue := row.Queue
		if queue == "" {
			queue = "-"
		}
		t.addRow(style,
			strconv.Itoa(row.PID),
			formatMemory(row.MemoryMB()),
			row.Type,
			queue,
			strconv.FormatInt(row.Timers, 10),
			strconv.FormatInt(row.Loops, 10),
			strconv.FormatInt(row.Jobs, 10),
			styleState(row.State()),
		)
	}
	s := rep.Summary()
	t.addRow(summaryRow,
		"Summary",
		formatMemory(s.MemoryMB()),
		"-",
		"-",
		strconv.FormatInt(s.Timers, 10),
		strconv.FormatInt(s.Loops, 10),
		strconv.FormatInt(s.Jobs, 10),
		"",
	)
	b.WriteString(t.render())
	if !rep.Complete() {
		b.WriteString(globalStyle.Render(strconv.Itoa(len(rep.Rows)-1) + " of " +
			strconv.Itoa(rep.Expected) + " workers reported"))
		b.WriteString("\n")
	}
	return b.String()
}

// isFailedExitLine matches "<type> <status> <count>" rows of the exit table
// with a non-zero status.
func isFailedExitLine(line string) bool {
	f := strings.Fields(line)
	if len(f) != 3 {
		return false
	}
	status, err := strconv.Atoi(f[1])
	if err != nil {
		return false
	}
	count, err := strconv.Atoi(f[2])
	return err == nil && status != 0 && count > 0
}
