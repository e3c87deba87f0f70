package scheduler

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock delivers one-shot messages to targets at an absolute time.
type Clock struct {
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewClock wraps c. A nil c uses the real clock.
func NewClock(c clockwork.Clock, logger *slog.Logger) *Clock {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Clock{clock: c, logger: logger.With("component", "clock")}
}

// Now returns the current time of the underlying clock.
func (c *Clock) Now() time.Time {
	return c.clock.Now()
}

// Ping tells msg to target at the given time. A time in the past fires
// immediately. The returned timer cancels the delivery if it has not fired.
func (c *Clock) Ping(target Target, at time.Time, msg any) Timer {
	delay := at.Sub(c.clock.Now())
	if delay < 0 {
		delay = 0
	}
	return c.clock.AfterFunc(delay, func() {
		if !target.Tell(msg) {
			c.logger.Debug("Dropped clock message for stopped target", "message", messageName(msg))
		}
	})
}
