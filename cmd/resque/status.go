package main

import (
	"os"

	"golang.org/x/term"

	resque "github.com/hectorqin/go-resque"
	"github.com/hectorqin/go-resque/tui"
)

// statusRenderer styles the report when f is a terminal and falls back to
// the plain layout otherwise.
func statusRenderer(f *os.File) func(*resque.StatusReport) string {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return resque.RenderStatus
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		width = 0
	}
	return func(rep *resque.StatusReport) string {
		return tui.RenderStatus(rep, width)
	}
}
