package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/relaygw/internal/events"
)

const maxExits = 5

// ChildState is what the TUI knows about the supervised child.
type ChildState struct {
	State      string
	PID        int
	Restarts   int64
	Pending    int
	RSSBytes   uint64
	CPUPercent float64
	Since      time.Time
	Exits      []ExitRecord
}

// ExitRecord is one observed child exit, newest first in ChildState.Exits.
type ExitRecord struct {
	At     time.Time
	PID    int
	Error  string
	Failed int
}

// applyEvent folds a child.* event into c.
func (c *ChildState) applyEvent(e events.Event) {
	switch e.Type {
	case events.TypeChildState:
		var st events.ChildState
		if json.Unmarshal(e.Data, &st) != nil {
			return
		}
		if st.State != c.State {
			c.Since = e.At
		}
		c.State = st.State
		c.Restarts = st.Restarts
		c.PID = st.PID

	case events.TypeChildExit:
		var ex events.ChildExit
		if json.Unmarshal(e.Data, &ex) != nil {
			return
		}
		c.Exits = append([]ExitRecord{{At: e.At, PID: ex.PID, Error: ex.Error, Failed: ex.Failed}}, c.Exits...)
		if len(c.Exits) > maxExits {
			c.Exits = c.Exits[:maxExits]
		}
	}
}

// applyHealth refreshes counters polled from /health.
func (c *ChildState) applyHealth(h healthMsg) {
	if h.Child == nil {
		return
	}
	if h.Child.State != c.State {
		c.Since = time.Now()
	}
	c.State = h.Child.State
	c.PID = h.Child.PID
	c.Restarts = h.Child.Restarts
	c.Pending = h.Child.Pending
	c.RSSBytes = h.Child.RSSBytes
	c.CPUPercent = h.Child.CPUPercent
}

func renderChild(c ChildState, spin string, theme Theme, width int) string {
	innerWidth := width - 4

	state := c.State
	if state == "" {
		state = "unknown"
	}
	stateText := theme.stateStyle(state).Render(state)
	if state == "starting" || state == "restarting" {
		stateText = spin + " " + stateText
	}

	since := ""
	if !c.Since.IsZero() {
		since = theme.Dim.Render(fmt.Sprintf(" for %s", formatDuration(time.Since(c.Since))))
	}

	lines := []string{
		theme.Title.Render("CHILD"),
		fmt.Sprintf(" State: %s%s   PID: %d   Restarts: %d   Pending: %d",
			stateText, since, c.PID, c.Restarts, c.Pending),
		fmt.Sprintf(" RSS: %s   CPU: %.1f%%", formatBytes(c.RSSBytes), c.CPUPercent),
	}

	for _, ex := range c.Exits {
		reason := ex.Error
		if reason == "" {
			reason = "exit 0"
		}
		lines = append(lines, theme.StatusFailed.Render(fmt.Sprintf(
			"  ✗ %s pid %d %s (%d failed)", ex.At.Format("15:04:05"), ex.PID, reason, ex.Failed)))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
