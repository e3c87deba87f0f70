package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/runnerd/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.RunnerFinished:
		typeStyle = theme.StatusOK
	case events.RunnerError, events.RunnerAbandoned:
		typeStyle = theme.StatusFailed
	case events.RunnerStarted:
		typeStyle = theme.StatusRunning
	case events.RunnerUpdate:
		typeStyle = theme.Progress
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-17s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, eventDesc(e))
}

func eventDesc(e events.Event) string {
	var parts []string
	if e.RunnerID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(e.RunnerID)))
	}
	raw := string(e.Data)
	if raw != "" && raw != "{}" && raw != "null" {
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		parts = append(parts, raw)
	}
	return strings.Join(parts, " ")
}
