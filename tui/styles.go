package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("39")  // blue
	colorSuccess = lipgloss.Color("42")  // green
	colorDanger  = lipgloss.Color("196") // red
	colorWarning = lipgloss.Color("214") // orange
	colorMuted   = lipgloss.Color("240") // dark gray

	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	headerText     = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	separatorStyle = lipgloss.NewStyle().Foreground(colorMuted)
	globalStyle    = lipgloss.NewStyle().Foreground(colorMuted)

	managerRow = lipgloss.NewStyle().Foreground(colorWarning)
	plainRow   = lipgloss.NewStyle()
	summaryRow = lipgloss.NewStyle().Bold(true)

	stateBusy = lipgloss.NewStyle().Foreground(colorSuccess)
	stateIdle = lipgloss.NewStyle().Foreground(colorMuted)
	exitBad   = lipgloss.NewStyle().Foreground(colorDanger)
)

func styleState(state string) string {
	switch state {
	case "busy":
		return stateBusy.Render(state)
	case "idle":
		return stateIdle.Render(state)
	default:
		return state
	}
}
