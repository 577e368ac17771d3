package resque

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// safeNameRe matches strings containing only safe characters for Redis key components.
var safeNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateQueueName checks a queue name for safe characters.
func validateQueueName(queue string) error {
	if queue == "" || len(queue) > 128 || !safeNameRe.MatchString(queue) {
		return ErrInvalidQueueName
	}
	return nil
}

// newLoggerFromLevel creates a slog.Logger at the given level writing to w.
// Falls back to slog.Default() if level is empty or unrecognized.
func newLoggerFromLevel(w io.Writer, level string) *slog.Logger {
	lvl, ok := parseLevel(level)
	if !ok {
		return slog.Default()
	}
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning", "notice":
		return slog.LevelWarn, true
	case "error", "critical", "alert", "emergency":
		return slog.LevelError, true
	}
	return 0, false
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
