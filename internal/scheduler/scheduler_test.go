package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/runnerd/internal/events"
	"github.com/mattjoyce/runnerd/internal/journal"
	"github.com/mattjoyce/runnerd/internal/scheduler/mocks"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.String()
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

type tick struct{ name string }

type recordingTarget struct {
	mu       sync.Mutex
	msgs     []any
	rejected bool
}

func (r *recordingTarget) Tell(msg any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejected {
		return false
	}
	r.msgs = append(r.msgs, msg)
	return true
}

func (r *recordingTarget) received() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

func (r *recordingTarget) reject() {
	r.mu.Lock()
	r.rejected = true
	r.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestClockPingDeliversAtTime(t *testing.T) {
	fc := clockwork.NewFakeClock()
	logger, _ := NewTestSlogger()
	clock := NewClock(fc, logger)
	target := &recordingTarget{}

	clock.Ping(target, clock.Now().Add(3*time.Second), tick{"timeout"})
	fc.BlockUntil(1)

	fc.Advance(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, target.received())

	fc.Advance(time.Second)
	waitFor(t, func() bool { return len(target.received()) == 1 }, "ping delivered")
	assert.Equal(t, tick{"timeout"}, target.received()[0])
}

func TestClockPingInPastFiresImmediately(t *testing.T) {
	fc := clockwork.NewFakeClock()
	clock := NewClock(fc, nil)
	target := &recordingTarget{}

	clock.Ping(target, clock.Now().Add(-time.Minute), tick{"late"})
	waitFor(t, func() bool { return len(target.received()) == 1 }, "past ping delivered")
}

func TestClockPingStop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	clock := NewClock(fc, nil)
	target := &recordingTarget{}

	timer := clock.Ping(target, clock.Now().Add(time.Second), tick{"cancelled"})
	assert.True(t, timer.Stop())

	fc.Advance(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, target.received())
}

func TestClockPingDeadLetterIsLogged(t *testing.T) {
	fc := clockwork.NewFakeClock()
	logger, buf := NewTestSlogger()
	clock := NewClock(fc, logger)
	target := &recordingTarget{}
	target.reject()

	clock.Ping(target, clock.Now(), tick{"dead"})
	waitFor(t, func() bool {
		return bytes.Contains([]byte(buf.String()), []byte("Dropped clock message"))
	}, "dead letter logged")
}

func TestTickerDeliversOncePerRequest(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ticker := NewTicker(fc, time.Second, nil)
	defer ticker.Stop()
	target := &recordingTarget{}

	assert.True(t, ticker.AddEvent(target, tick{"refresh"}))
	assert.False(t, ticker.AddEvent(target, tick{"refresh"}), "duplicate pending event rejected")
	assert.True(t, ticker.AddEvent(target, tick{"other"}))
	assert.Equal(t, 2, ticker.Pending())

	fc.Advance(time.Second)
	waitFor(t, func() bool { return len(target.received()) == 2 }, "both events delivered")
	waitFor(t, func() bool { return ticker.Pending() == 0 }, "pending cleared")

	fc.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, target.received(), 2, "fire-once: no delivery without a new request")

	assert.True(t, ticker.AddEvent(target, tick{"refresh"}), "re-request after delivery")
}

func TestTickerKeysByTarget(t *testing.T) {
	ticker := NewTicker(clockwork.NewFakeClock(), time.Second, nil)
	defer ticker.Stop()

	a := &recordingTarget{}
	b := &recordingTarget{}
	assert.True(t, ticker.AddEvent(a, tick{"refresh"}))
	assert.True(t, ticker.AddEvent(b, tick{"refresh"}))
	assert.Equal(t, 2, ticker.Pending())
}

func TestTickerStop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ticker := NewTicker(fc, 0, nil)
	assert.Equal(t, DefaultInterval, ticker.Interval())

	target := &recordingTarget{}
	ticker.AddEvent(target, tick{"refresh"})
	ticker.Stop()

	assert.Equal(t, 0, ticker.Pending())
	assert.False(t, ticker.AddEvent(target, tick{"refresh"}))

	fc.Advance(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, target.received())
}

func TestMaintenanceAbandonsOrphans(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockJournal := mocks.NewMockJournalService(ctrl)
	logger, _ := NewTestSlogger()
	hub := events.NewHub(16)

	orphans := []*journal.Entry{
		{ID: "r-1", Definition: "sleep", Status: journal.StatusRunning},
		{ID: "r-2", Definition: "sleep", Status: journal.StatusRunning},
	}
	mockJournal.EXPECT().FindByStatus(gomock.Any(), journal.StatusRunning).Return(orphans, nil)
	mockJournal.EXPECT().MarkAbandoned(gomock.Any(), "r-1", "dispatcher restarted").Return(nil)
	mockJournal.EXPECT().MarkAbandoned(gomock.Any(), "r-2", "dispatcher restarted").Return(errors.New("db locked"))

	m := NewMaintenance(mockJournal, clockwork.NewFakeClock(), time.Hour, 0, hub, logger)
	require.NoError(t, m.abandonOrphans(context.Background()))

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 1)
	assert.Equal(t, "runner.abandoned", snap[0].Type)
}

func TestMaintenanceStartFailsWhenJournalFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockJournal := mocks.NewMockJournalService(ctrl)
	mockJournal.EXPECT().FindByStatus(gomock.Any(), journal.StatusRunning).Return(nil, errors.New("no such table"))

	m := NewMaintenance(mockJournal, clockwork.NewFakeClock(), time.Hour, time.Hour, nil, nil)
	err := m.Start(context.Background())
	assert.ErrorContains(t, err, "orphan recovery failed")
}

func TestMaintenancePrunesOnTick(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockJournal := mocks.NewMockJournalService(ctrl)
	fc := clockwork.NewFakeClock()

	var mu sync.Mutex
	prunes := 0
	mockJournal.EXPECT().FindByStatus(gomock.Any(), journal.StatusRunning).Return(nil, nil)
	mockJournal.EXPECT().Prune(gomock.Any(), 24*time.Hour).DoAndReturn(func(context.Context, time.Duration) (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		prunes++
		return 1, nil
	}).MinTimes(2)

	m := NewMaintenance(mockJournal, fc, time.Minute, 24*time.Hour, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return prunes
	}
	waitFor(t, func() bool { return count() == 1 }, "initial prune")

	fc.BlockUntil(1)
	fc.Advance(time.Minute)
	waitFor(t, func() bool { return count() == 2 }, "prune on tick")
}

func TestMaintenanceStopIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockJournal := mocks.NewMockJournalService(ctrl)
	mockJournal.EXPECT().FindByStatus(gomock.Any(), gomock.Any()).Return(nil, nil)

	m := NewMaintenance(mockJournal, clockwork.NewFakeClock(), time.Minute, 0, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()
}
