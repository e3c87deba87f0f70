package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the refresh cadence used when none is configured.
const DefaultInterval = time.Second

type tickKey struct {
	target Target
	msg    any
}

// Ticker delivers a message to a target once, one interval after it was
// requested. Targets re-request after each delivery to get periodic ticks.
// A (target, msg) pair has at most one pending delivery; msg must be
// comparable.
type Ticker struct {
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[tickKey]clockwork.Timer
	stopped bool
}

// NewTicker creates a ticker. A non-positive interval uses DefaultInterval.
func NewTicker(c clockwork.Clock, interval time.Duration, logger *slog.Logger) *Ticker {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{
		clock:    c,
		interval: interval,
		logger:   logger.With("component", "ticker"),
		pending:  make(map[tickKey]clockwork.Timer),
	}
}

// Interval returns the delay between a request and its delivery.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// AddEvent schedules msg for target. It returns false if the same event is
// already pending or the ticker has been stopped.
func (t *Ticker) AddEvent(target Target, msg any) bool {
	key := tickKey{target: target, msg: msg}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	if _, ok := t.pending[key]; ok {
		return false
	}
	t.pending[key] = t.clock.AfterFunc(t.interval, func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()

		if !target.Tell(msg) {
			// Runners that finished between request and delivery.
			t.logger.Debug("Dropped tick for stopped target", "message", messageName(msg))
		}
	})
	return true
}

// Pending returns the number of scheduled deliveries.
func (t *Ticker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels all pending deliveries. Later AddEvent calls are rejected.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for key, timer := range t.pending {
		timer.Stop()
		delete(t.pending, key)
	}
}

func messageName(msg any) string {
	return fmt.Sprintf("%T", msg)
}
