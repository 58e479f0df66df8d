package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks bridge health from /health polling.
type HealthState struct {
	Status        string
	Ready         bool
	UptimeSeconds int64
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(target string, health HealthState, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	var statusText string
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("● CONNECTING")
	case health.Ready:
		statusText = theme.StatusOK.Render("● READY")
	default:
		statusText = theme.StatusRunning.Render("● NOT READY")
	}

	lastEventStr := "never"
	if !activity.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", time.Since(activity.LastEvent()).Round(time.Second))
	}

	titleText := " RELAYGW WATCH " + theme.Dim.Render(target)
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  ⏱ %s", statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second))
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
