package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/runnerd/internal/events"
	"github.com/mattjoyce/runnerd/internal/metrics"
	"github.com/mattjoyce/runnerd/internal/runner"
)

// exceptionMessage prefixes every exception the dispatcher reports to a step.
const exceptionMessage = "Runner error"

// Dispatcher is the registry of active runners. It is safe for concurrent use.
type Dispatcher struct {
	clock   Clock
	ticker  Ticker
	logger  *slog.Logger
	events  *events.Hub
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	actors   map[string]*runnerActor
	steps    map[string]SuspendedStep
	draining bool
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithEvents publishes runner lifecycle events to hub.
func WithEvents(hub *events.Hub) Option {
	return func(d *Dispatcher) { d.events = hub }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithContext sets the parent context passed to runner operations.
func WithContext(ctx context.Context) Option {
	return func(d *Dispatcher) {
		if ctx != nil {
			d.ctx = ctx
		}
	}
}

// New creates a dispatcher driven by clock and ticker.
func New(clock Clock, ticker Ticker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clock:  clock,
		ticker: ticker,
		logger: slog.Default(),
		ctx:    context.Background(),
		actors: make(map[string]*runnerActor),
		steps:  make(map[string]SuspendedStep),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	d.ctx, d.cancel = context.WithCancel(d.ctx)
	return d
}

// Start registers r on behalf of step and starts it asynchronously. Failures
// are reported to step as a fatal exception; the returned error is the same
// failure, for callers that want it synchronously. A rejected start returns
// no id.
func (d *Dispatcher) Start(step SuspendedStep, r runner.Runner) (string, error) {
	if step == nil {
		d.logger.Error("Refusing to start runner without a step")
		return "", ErrNilStep
	}
	if r == nil {
		d.rejectStart(step, "", ErrNilRunner)()
		return "", ErrNilRunner
	}
	id := r.ID()
	if id == "" {
		d.rejectStart(step, id, ErrEmptyRunnerID)()
		return "", ErrEmptyRunnerID
	}

	report, err := d.register(step, r, id)
	if err != nil {
		report()
		return "", err
	}
	return id, nil
}

// register records step and spawns its actor under the registry lock. On
// failure the returned report delivers the exception to step and must be
// called after the lock is released.
func (d *Dispatcher) register(step SuspendedStep, r runner.Runner, id string) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.draining {
		err := fmt.Errorf("start runner %s: %w", id, ErrShuttingDown)
		return d.rejectStart(step, id, err), err
	}
	if _, exists := d.steps[id]; exists {
		// The existing registration is left untouched.
		err := fmt.Errorf("start runner %s: %w", id, ErrAlreadyRegistered)
		return d.rejectStart(step, id, err), err
	}

	// Register the step first so a failure below has someone to notify.
	d.steps[id] = step
	if err := d.spawnLocked(step, r); err != nil {
		return d.handleCommandExceptionLocked(id, err, true), err
	}
	return nil, nil
}

func (d *Dispatcher) spawnLocked(step SuspendedStep, r runner.Runner) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while spawning runner: %v", rec)
		}
	}()

	r.SetLogger(d.logger)
	a := newRunnerActor(d, r, step)
	d.actors[a.id] = a
	d.metrics.RunnerStarted()

	d.publish(events.RunnerStarted, a.id, nil)
	d.logger.Info("Runner registered", "runner_id", a.id)

	d.wg.Add(1)
	go a.run()

	if !a.Tell(startRunner{}) {
		return errors.New("runner actor rejected start")
	}
	return nil
}

// rejectStart records a start failure for a step that was never registered.
// The returned func delivers it to step.
func (d *Dispatcher) rejectStart(step SuspendedStep, id string, err error) func() {
	d.logger.Error("Rejected runner start", "runner_id", id, "error", err)
	d.metrics.ExceptionHandled(true)
	u := runner.EncodeException(exceptionMessage, err, true)
	return func() { d.appendSafely(id, step, u) }
}

// Kill asks the runner to terminate. Unknown ids are ignored.
func (d *Dispatcher) Kill(id string) {
	d.tell(id, killRunner{})
}

// ExternalEvent forwards event to the runner. Unknown ids are ignored.
func (d *Dispatcher) ExternalEvent(id string, event runner.Event) {
	d.tell(id, externalEvent{event: &event})
}

// RefreshOutput asks the runner for buffered output. Unknown ids are ignored.
func (d *Dispatcher) RefreshOutput(id string) {
	d.tell(id, refreshOutput{})
}

func (d *Dispatcher) tell(id string, msg any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.actors[id]
	if !ok {
		d.logger.Debug("Ignoring message for unknown runner", "runner_id", id, "message", messageName(msg))
		return
	}
	a.Tell(msg)
}

// Finish unregisters the runner and starts its termination. The returned
// channel closes once the runner has been closed. Finishing an unknown or
// already finished id returns a closed channel.
func (d *Dispatcher) Finish(id string) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finishLocked(id)
}

func (d *Dispatcher) finishLocked(id string) <-chan struct{} {
	done := make(chan struct{})
	a, ok := d.actors[id]
	delete(d.actors, id)
	delete(d.steps, id)
	if !ok {
		close(done)
		return done
	}

	d.metrics.RunnerFinished()
	d.publish(events.RunnerFinished, id, nil)
	d.logger.Info("Runner finished", "runner_id", id)
	if !a.Tell(startTermination{done: done}) {
		close(done)
	}
	return done
}

// HandleCommandException reports err to the runner's step. A fatal error
// also finishes the runner.
func (d *Dispatcher) HandleCommandException(id string, err error, fatal bool) {
	d.mu.Lock()
	report := d.handleCommandExceptionLocked(id, err, fatal)
	d.mu.Unlock()
	report()
}

// handleCommandExceptionLocked updates the registry and returns the delivery
// to the step. Steps may block on their sinks, so callers run it unlocked.
func (d *Dispatcher) handleCommandExceptionLocked(id string, err error, fatal bool) func() {
	d.logger.Error("Runner command failed", "runner_id", id, "error", err, "fatal", fatal)
	d.metrics.ExceptionHandled(fatal)
	d.publish(events.RunnerError, id, map[string]any{
		"error": errString(err),
		"fatal": fatal,
	})

	report := func() {}
	if step, ok := d.steps[id]; ok {
		u := runner.EncodeException(exceptionMessage, err, fatal)
		report = func() { d.appendSafely(id, step, u) }
	} else {
		d.logger.Warn("No step registered for runner exception", "runner_id", id)
	}
	if fatal {
		d.finishLocked(id)
	}
	return report
}

func (d *Dispatcher) appendSafely(id string, step SuspendedStep, u runner.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("Step panicked while receiving exception", "runner_id", id, "panic", rec)
		}
	}()
	step.Append(u)
}

// Step returns the step registered for id.
func (d *Dispatcher) Step(id string) (SuspendedStep, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	step, ok := d.steps[id]
	return step, ok
}

// Running reports whether id is registered.
func (d *Dispatcher) Running(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.actors[id]
	return ok
}

// Active returns the registered runner ids, sorted.
func (d *Dispatcher) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.actors))
	for id := range d.actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered runners.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.actors)
}

// Shutdown finishes every runner, rejects new starts and waits for all actors
// to terminate or ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.draining = true
	var pending []<-chan struct{}
	for id := range d.steps {
		pending = append(pending, d.finishLocked(id))
	}
	for id := range d.actors {
		pending = append(pending, d.finishLocked(id))
	}
	d.mu.Unlock()

	d.logger.Info("Shutting down dispatcher", "runners", len(pending))
	defer d.cancel()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for runners to close: %w", ctx.Err())
		}
	}

	stopped := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runner actors: %w", ctx.Err())
	}
}

func (d *Dispatcher) publish(eventType, id string, data any) {
	if d.events == nil {
		return
	}
	d.events.PublishRunner(eventType, id, data)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
