package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// column describes one table column. Flex columns shrink first when the
// terminal is too narrow.
type column struct {
	header string
	flex   bool
	min    int // 0 = header length
}

// table lays out rows in columns fitted to a terminal width.
type table struct {
	cols     []column
	rows     [][]string
	styles   []lipgloss.Style
	widths   []int
	maxWidth int // 0 = unlimited
}

const colGap = "  "

func newTable(maxWidth int, cols ...column) *table {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c.header)
		if c.min <= 0 {
			cols[i].min = len(c.header)
		}
	}
	return &table{cols: cols, widths: widths, maxWidth: maxWidth}
}

// addRow appends a row rendered with style. Missing cells are blank.
func (t *table) addRow(style lipgloss.Style, cells ...string) {
	row := make([]string, len(t.cols))
	copy(row, cells)
	for i, c := range row {
		if w := visibleLen(c); w > t.widths[i] {
			t.widths[i] = w
		}
	}
	t.rows = append(t.rows, row)
	t.styles = append(t.styles, style)
}

// allocWidths returns the natural widths when they fit, otherwise shrinks
// flex columns in proportion to their slack.
func (t *table) allocWidths() []int {
	alloc := append([]int(nil), t.widths...)
	if t.maxWidth <= 0 {
		return alloc
	}
	total := (len(t.cols) - 1) * len(colGap)
	for _, w := range alloc {
		total += w
	}
	if total <= t.maxWidth {
		return alloc
	}

	excess := total - t.maxWidth
	slack := 0
	for i, c := range t.cols {
		if c.flex && alloc[i] > c.min {
			slack += alloc[i] - c.min
		}
	}
	if slack == 0 {
		return alloc
	}
	if excess > slack {
		excess = slack
	}

	remaining := excess
	for i, c := range t.cols {
		if !c.flex || alloc[i] <= c.min {
			continue
		}
		share := (alloc[i] - c.min) * excess / slack
		if share > remaining {
			share = remaining
		}
		alloc[i] -= share
		remaining -= share
	}
	for remaining > 0 {
		shrunk := false
		for i, c := range t.cols {
			if remaining > 0 && c.flex && alloc[i] > c.min {
				alloc[i]--
				remaining--
				shrunk = true
			}
		}
		if !shrunk {
			break
		}
	}
	return alloc
}

func (t *table) render() string {
	alloc := t.allocWidths()
	var b strings.Builder

	for i, c := range t.cols {
		b.WriteString(headerText.Render(fmt.Sprintf("%-*s", alloc[i], c.header)))
		if i < len(t.cols)-1 {
			b.WriteString(colGap)
		}
	}
	b.WriteString("\n")
	for i, w := range alloc {
		b.WriteString(separatorStyle.Render(strings.Repeat("─", w)))
		if i < len(alloc)-1 {
			b.WriteString(colGap)
		}
	}
	b.WriteString("\n")

	for ri, row := range t.rows {
		var line strings.Builder
		for i, c := range row {
			if visibleLen(c) > alloc[i] {
				c = truncateAnsi(c, alloc[i])
			}
			line.WriteString(c)
			if i < len(row)-1 {
				line.WriteString(strings.Repeat(" ", max(alloc[i]-visibleLen(c), 0)))
				line.WriteString(colGap)
			}
		}
		b.WriteString(t.styles[ri].Render(line.String()))
		b.WriteString("\n")
	}
	return b.String()
}

// visibleLen returns the visible length of s, ignoring ANSI escape sequences.
func visibleLen(s string) int {
	return len([]rune(stripAnsi(s)))
}

// stripAnsi removes ANSI escape sequences.
func stripAnsi(s string) string {
	var b strings.Builder
	inEsc := false
	for _, r := range s {
		if r == '\x1b' {
			inEsc = true
			continue
		}
		if inEsc {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEsc = false
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// truncateAnsi cuts s to maxVisible visible characters, keeping escapes.
func truncateAnsi(s string, maxVisible int) string {
	if maxVisible <= 0 {
		return ""
	}
	if visibleLen(s) <= maxVisible {
		return s
	}
	ellipsis := maxVisible > 3
	target := maxVisible
	if ellipsis {
		target -= 3
	}

	var b strings.Builder
	visible := 0
	inEsc := false
	for _, r := range s {
		if r == '\x1b' {
			inEsc = true
			b.WriteRune(r)
			continue
		}
		if inEsc {
			b.WriteRune(r)
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEsc = false
			}
			continue
		}
		if visible >= target {
			break
		}
		b.WriteRune(r)
		visible++
	}
	if ellipsis {
		b.WriteString("...")
	}
	b.WriteString("\x1b[0m")
	return b.String()
}
