package cli

import (
	"github.com/charmbracelet/lipgloss"

	"organ_report/internal/domain"
)

var (
	primaryColor   = lipgloss.Color("#5FAFAF")
	secondaryColor = lipgloss.Color("#666666")
	successColor   = lipgloss.Color("#87AF87")
	errorColor     = lipgloss.Color("#AF5F5F")
	warnColor      = lipgloss.Color("#D7AF5F")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	subtleStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor)

	agentColors = map[string]lipgloss.Color{
		"Planner":      lipgloss.Color("#87AFD7"),
		"Researcher":   lipgloss.Color("#AF87D7"),
		"Writer":       lipgloss.Color("#D7AF87"),
		"Reviewer":     lipgloss.Color("#87D7AF"),
		"Orchestrator": primaryColor,
	}
)

func agentLabel(agent string) string {
	color, ok := agentColors[agent]
	if !ok {
		color = secondaryColor
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Width(13).Render(agent)
}

func statusBadge(status domain.TaskStatus) string {
	style := lipgloss.NewStyle().Bold(true)
	switch {
	case status == domain.TaskStatusDone:
		style = style.Foreground(successColor)
	case status == domain.TaskStatusError:
		style = style.Foreground(errorColor)
	case status.IsWorking():
		style = style.Foreground(warnColor)
	default:
		style = style.Foreground(secondaryColor)
	}
	return style.Render(string(status))
}
