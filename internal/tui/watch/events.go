package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/relaygw/internal/events"
)

const eventRows = 10

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
		if i >= eventRows {
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
	case events.TypeChildExit:
		typeStyle = theme.StatusFailed
	case events.TypeChildState:
		typeStyle = theme.Highlight
	case events.TypeRequestDone:
		typeStyle = theme.StatusOK
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-14s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	switch e.Type {
	case events.TypeChildState:
		var st events.ChildState
		if json.Unmarshal(e.Data, &st) == nil {
			if st.PID != 0 {
				return fmt.Sprintf("%s pid=%d", st.State, st.PID)
			}
			return st.State
		}
	case events.TypeChildExit:
		var ex events.ChildExit
		if json.Unmarshal(e.Data, &ex) == nil {
			desc := fmt.Sprintf("pid=%d failed=%d", ex.PID, ex.Failed)
			if ex.Error != "" {
				desc += " " + ex.Error
			}
			return desc
		}
	case events.TypeRequestDone:
		var rd events.RequestDone
		if json.Unmarshal(e.Data, &rd) == nil {
			return fmt.Sprintf("[%s] %s %s %dms", rd.Gateway, rd.Method, rd.Outcome, rd.DurationMS)
		}
	case events.TypeChildOutput:
		var out events.ChildOutput
		if json.Unmarshal(e.Data, &out) == nil {
			return truncate(out.Stream+": "+out.Line, 60)
		}
	}
	return truncate(string(e.Data), 60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
