package watch

import (
	"strings"
	"time"
)

// Heartbeat alternates frames on every UI tick so a frozen screen is visible.
type Heartbeat struct {
	frames []string
	index  int
}

func NewHeartbeat() Heartbeat {
	return Heartbeat{frames: []string{"⟲", "⟳"}}
}

func (h *Heartbeat) Tick() {
	h.index = (h.index + 1) % len(h.frames)
}

func (h Heartbeat) Current() string {
	return h.frames[h.index]
}

// Activity lights up on events and fades over ten seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent(at time.Time) {
	a.dots = 5
	a.lastEvent = at
}

// Decay fades one dot per two seconds since the last event.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	left := 5 - int(now.Sub(a.lastEvent)/(2*time.Second))
	if left < 0 {
		left = 0
	}
	if left < a.dots {
		a.dots = left
	}
}

func (a Activity) Render(theme Theme) string {
	var result strings.Builder
	for i := range 5 {
		if i < a.dots {
			result.WriteString(theme.TickerActive.Render("●"))
		} else {
			result.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return result.String()
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}
