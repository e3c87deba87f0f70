package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/runnerd/internal/runner"
	"github.com/mattjoyce/runnerd/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, clockwork.FakeClock, *scheduler.Ticker) {
	t.Helper()

	fc := clockwork.NewFakeClock()
	logger := discardLogger()
	ticker := scheduler.NewTicker(fc, time.Second, logger)
	d := New(scheduler.NewClock(fc, logger), ticker, append([]Option{WithLogger(logger)}, opts...)...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
		ticker.Stop()
	})
	return d, fc, ticker
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func probeActor(t *testing.T, d *Dispatcher, id string) actorState {
	t.Helper()

	d.mu.Lock()
	a := d.actors[id]
	d.mu.Unlock()
	require.NotNil(t, a, "runner %s not registered", id)

	reply := make(chan actorState, 1)
	require.True(t, a.Tell(probe{reply: reply}))
	select {
	case s := <-reply:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("probe timed out")
	}
	return actorState{}
}

// orderLog records the order in which receivers got updates.
type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (o *orderLog) add(name string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.names = append(o.names, name)
	o.mu.Unlock()
}

func (o *orderLog) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.names...)
}

// recordingStep is a SuspendedStep that finishes on its first terminal update.
type recordingStep struct {
	name  string
	order *orderLog

	mu       sync.Mutex
	updates  []runner.Update
	finished bool
}

func (s *recordingStep) Append(u runner.Update) {
	s.order.add(s.name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	if u.Terminal() {
		s.finished = true
	}
}

func (s *recordingStep) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *recordingStep) markFinished() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func (s *recordingStep) all() []runner.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runner.Update(nil), s.updates...)
}

func (s *recordingStep) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *recordingStep) exceptions() []*runner.Exception {
	var out []*runner.Exception
	for _, u := range s.all() {
		if u.Exception != nil {
			out = append(out, u.Exception)
		}
	}
	return out
}

// lockingStep reads the registry on every Append, so it deadlocks if a
// delivery happens under the dispatcher lock.
type lockingStep struct {
	*recordingStep
	d *Dispatcher
}

func (s lockingStep) Append(u runner.Update) {
	_ = s.d.Len()
	s.recordingStep.Append(u)
}

// fakeRunner counts calls and returns buffered Base output on refresh.
type fakeRunner struct {
	*runner.Base

	mu         sync.Mutex
	calls      map[string]int
	events     []runner.Event
	startErr   error
	refreshErr error
	timeoutErr error
	killErr    error
	eventErr   error
	refreshFn  func() (runner.Updates, error)
	outputFn   func() (runner.Updates, error)
}

func newFakeRunner(id string, timeout time.Duration) *fakeRunner {
	return &fakeRunner{
		Base:  runner.NewBase(id, timeout),
		calls: make(map[string]int),
	}
}

func (f *fakeRunner) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeRunner) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRunner) setRefresh(fn func() (runner.Updates, error)) {
	f.mu.Lock()
	f.refreshFn = fn
	f.mu.Unlock()
}

func (f *fakeRunner) Start(context.Context) error {
	f.record("start")
	return f.startErr
}

func (f *fakeRunner) RunRefresh(context.Context) (runner.Updates, error) {
	f.record("refresh")
	f.mu.Lock()
	fn := f.refreshFn
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.GenerateUpdates(), nil
}

func (f *fakeRunner) RunRefreshOutput(ctx context.Context) (runner.Updates, error) {
	f.record("refresh_output")
	f.mu.Lock()
	fn := f.outputFn
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return f.Base.RunRefreshOutput(ctx)
}

func (f *fakeRunner) Timeout(context.Context) error {
	f.record("timeout")
	return f.timeoutErr
}

func (f *fakeRunner) Kill(context.Context) error {
	f.record("kill")
	return f.killErr
}

func (f *fakeRunner) Close(context.Context) error {
	f.record("close")
	return nil
}

func (f *fakeRunner) ExternalEvent(_ context.Context, ev runner.Event) (runner.Updates, error) {
	f.record("event")
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	f.PublishData("stdout", "got "+ev.Name)
	return f.GenerateUpdates(), nil
}
