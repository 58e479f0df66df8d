package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/relaygw/internal/events"
)

// MethodStats aggregates request.done events for one gateway and method.
type MethodStats struct {
	Gateway     string
	Method      string
	Count       int
	Failures    int
	LastOutcome string
	LastLatency time.Duration
	LastAt      time.Time
}

func methodKey(gateway, method string) string {
	return gateway + " " + method
}

func updateRequestStats(stats map[string]*MethodStats, e events.Event) {
	if e.Type != events.TypeRequestDone {
		return
	}
	var rd events.RequestDone
	if json.Unmarshal(e.Data, &rd) != nil {
		return
	}
	method := rd.Method
	if method == "" {
		method = "(none)"
	}

	key := methodKey(rd.Gateway, method)
	s, ok := stats[key]
	if !ok {
		s = &MethodStats{Gateway: rd.Gateway, Method: method}
		stats[key] = s
	}
	s.Count++
	if rd.Outcome != "ok" {
		s.Failures++
	}
	s.LastOutcome = rd.Outcome
	s.LastLatency = time.Duration(rd.DurationMS) * time.Millisecond
	s.LastAt = e.At
}

// sortedMethodKeys orders by most recent activity.
func sortedMethodKeys(stats map[string]*MethodStats) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := stats[keys[i]], stats[keys[j]]
		if !a.LastAt.Equal(b.LastAt) {
			return a.LastAt.After(b.LastAt)
		}
		return keys[i] < keys[j]
	})
	return keys
}

func renderRequests(stats map[string]*MethodStats, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(stats) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("REQUESTS"),
			theme.Dim.Render("  No requests yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := []string{theme.Title.Render("REQUESTS")}
	for i, key := range sortedMethodKeys(stats) {
		lines = append(lines, renderMethodRow(stats[key], i == selected, theme))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderMethodRow(s *MethodStats, selected bool, theme Theme) string {
	var line strings.Builder
	if selected {
		line.WriteString(theme.Highlight.Render(" ▸ "))
	} else {
		line.WriteString("   ")
	}
	fmt.Fprintf(&line, "%-5s %-28s %5d", s.Gateway, s.Method, s.Count)
	if s.Failures > 0 {
		line.WriteString(theme.StatusFailed.Render(fmt.Sprintf("  %d failed", s.Failures)))
	}
	line.WriteString("  ")
	line.WriteString(outcomeStyle(s.LastOutcome, theme).Render(s.LastOutcome))
	line.WriteString(theme.Dim.Render(fmt.Sprintf("  %s  %s", s.LastLatency, formatAgo(time.Since(s.LastAt)))))
	return line.String()
}

func outcomeStyle(outcome string, theme Theme) lipgloss.Style {
	switch outcome {
	case "ok":
		return theme.StatusOK
	case "not_ready", "canceled":
		return theme.StatusRunning
	default:
		return theme.StatusFailed
	}
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
