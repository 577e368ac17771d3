package tui

import "strconv"

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// formatMemory prints megabytes with two decimals.
func formatMemory(mb float64) string {
	return strconv.FormatFloat(mb, 'f', 2, 64) + "M"
}
