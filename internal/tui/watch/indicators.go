package watch

import (
	"strings"
	"time"
)

// Activity shows request traffic with a decaying dot pattern.
// Lights up on events, fades over time.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent() {
	a.dots = 5
	a.lastEvent = time.Now()
}

// Decay fades one dot for every two seconds without events.
func (a *Activity) Decay() {
	if a.dots == 0 {
		return
	}
	lit := 5 - int(time.Since(a.lastEvent)/(2*time.Second))
	if lit < 0 {
		lit = 0
	}
	if lit < a.dots {
		a.dots = lit
	}
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}
