package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mattjoyce/runnerd/internal/events"
	"github.com/mattjoyce/runnerd/internal/runner"
	"github.com/mattjoyce/runnerd/internal/scheduler"
)

// runnerActor owns one runner. Everything below mbox is touched only by the
// actor goroutine.
type runnerActor struct {
	id         string
	dispatcher *Dispatcher
	clock      Clock
	ticker     Ticker
	runner     runner.Runner
	step       SuspendedStep
	logger     *slog.Logger
	ctx        context.Context
	mbox       *mailbox

	finishing      bool
	refreshPlanned bool
	timeoutTimer   scheduler.Timer
}

func newRunnerActor(d *Dispatcher, r runner.Runner, step SuspendedStep) *runnerActor {
	return &runnerActor{
		id:         r.ID(),
		dispatcher: d,
		clock:      d.clock,
		ticker:     d.ticker,
		runner:     r,
		step:       step,
		logger:     d.logger.With("runner_id", r.ID()),
		ctx:        d.ctx,
		mbox:       newMailbox(),
	}
}

// Tell enqueues msg. Returns false once the actor has terminated.
func (a *runnerActor) Tell(msg any) bool {
	if a.mbox.push(msg) {
		return true
	}
	a.logger.Debug("Dropped message for terminated runner", "message", messageName(msg))
	return false
}

func (a *runnerActor) run() {
	defer a.dispatcher.wg.Done()
	for range a.mbox.signal {
		for {
			msg, ok := a.mbox.pop()
			if !ok {
				break
			}
			if a.handle(msg) {
				for _, dropped := range a.mbox.close() {
					a.logger.Debug("Dropped message for terminated runner", "message", messageName(dropped))
				}
				return
			}
		}
	}
}

// handle processes one message and reports whether the actor has terminated.
func (a *runnerActor) handle(msg any) (terminated bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during %s: %v", messageName(msg), r)
			a.logger.Error("Recovered panic in runner actor", "error", err, "stack", string(debug.Stack()))
			a.reportException(err, fatalFailure(msg))
		}
	}()

	a.logger.Debug("Handling runner message", "message", messageName(msg))

	switch m := msg.(type) {
	case startRunner:
		a.startRunner()
	case refreshRunner:
		a.refreshRunner()
	case refreshOutput:
		a.refreshOutput()
	case timeoutRunner:
		a.timeoutRunner()
	case killRunner:
		a.kill()
	case externalEvent:
		a.externalEvent(m.event)
	case finishRunner:
		a.finish()
	case startTermination:
		a.startTermination(m.done)
		return true
	case probe:
		m.reply <- actorState{finishing: a.finishing, refreshPlanned: a.refreshPlanned}
	default:
		a.logger.Warn("Ignoring unknown runner message", "message", messageName(msg))
	}
	return false
}

// startRunner arms the timeout, starts the runner and runs the first refresh,
// which plans the next one.
func (a *runnerActor) startRunner() {
	if interval := a.runner.TimeoutInterval(); interval > 0 {
		a.timeoutTimer = a.clock.Ping(a, a.clock.Now().Add(interval), timeoutRunner{})
	}
	if err := a.runner.Start(a.ctx); err != nil {
		a.reportException(fmt.Errorf("start runner: %w", err), true)
		return
	}
	a.logger.Info("Runner started", "timeout", a.runner.TimeoutInterval().String())
	a.refreshRunner()
}

// refreshRunner plans the next tick only after a clean refresh. A failure or a
// panic (recovered in handle) marks the actor finishing first, so nothing is
// queued for a runner being torn down.
func (a *runnerActor) refreshRunner() {
	a.refreshPlanned = false
	if a.finishing {
		return
	}

	started := time.Now()
	updates, err := a.runner.RunRefresh(a.ctx)
	a.dispatcher.metrics.ObserveRefresh(time.Since(started))
	if err != nil {
		a.reportException(fmt.Errorf("refresh runner: %w", err), true)
		return
	}
	a.dispatchUpdates(updates)
	a.planNextRefresh()
}

// refreshOutput collects output on demand. It never touches refresh
// scheduling and never finishes the runner; the next refresh does that.
func (a *runnerActor) refreshOutput() {
	updates, err := a.runner.RunRefreshOutput(a.ctx)
	if err != nil {
		a.reportException(fmt.Errorf("refresh runner output: %w", err), true)
		return
	}
	a.deliverUpdates(updates)
}

func (a *runnerActor) timeoutRunner() {
	a.timeoutTimer = nil
	a.logger.Warn("Runner timed out", "timeout", a.runner.TimeoutInterval().String())
	if err := a.runner.Timeout(a.ctx); err != nil {
		a.reportException(fmt.Errorf("timeout runner: %w", err), false)
	}
}

func (a *runnerActor) kill() {
	a.logger.Info("Killing runner")
	if err := a.runner.Kill(a.ctx); err != nil {
		a.reportException(fmt.Errorf("kill runner: %w", err), false)
	}
}

func (a *runnerActor) externalEvent(event *runner.Event) {
	ev := runner.Event{}
	if event != nil {
		ev = *event
	}
	updates, err := a.runner.ExternalEvent(a.ctx, ev)
	if err != nil {
		a.reportException(fmt.Errorf("external event %q: %w", ev.Name, err), true)
		return
	}
	a.dispatchUpdates(updates)
}

func (a *runnerActor) finish() {
	a.finishing = true
	a.dispatcher.Finish(a.id)
}

func (a *runnerActor) startTermination(done chan struct{}) {
	defer close(done)

	a.finishing = true
	if a.timeoutTimer != nil {
		a.timeoutTimer.Stop()
		a.timeoutTimer = nil
	}
	if err := a.closeRunner(); err != nil {
		a.logger.Warn("Failed to close runner", "error", err)
	}
	a.logger.Info("Runner terminated")
}

func (a *runnerActor) closeRunner() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during close: %v", r)
		}
	}()
	return a.runner.Close(a.ctx)
}

func (a *runnerActor) planNextRefresh() {
	if a.finishing || a.refreshPlanned {
		return
	}
	a.ticker.AddEvent(a, refreshRunner{})
	a.refreshPlanned = true
}

func (a *runnerActor) reportException(err error, fatal bool) {
	if fatal {
		a.finishing = true
	}
	a.dispatcher.HandleCommandException(a.id, err, fatal)
}

func (a *runnerActor) defaultStep() SuspendedStep {
	if a.step != nil {
		return a.step
	}
	step, _ := a.dispatcher.Step(a.id)
	return step
}

// dispatchUpdates delivers updates and finishes the runner when the main
// update is terminal or the step reports finished.
func (a *runnerActor) dispatchUpdates(updates runner.Updates) {
	if len(updates) == 0 {
		return
	}
	terminal, step := a.deliverUpdates(updates)
	if terminal || (step != nil && step.IsFinished()) {
		a.finish()
	}
}

// deliverUpdates delivers every entry, the main update last, and reports
// whether the main update was terminal. The main update is the one keyed by
// the default step, else the Unspecified one.
func (a *runnerActor) deliverUpdates(updates runner.Updates) (bool, SuspendedStep) {
	if len(updates) == 0 {
		return false, nil
	}

	step := a.defaultStep()
	var (
		mainKey runner.Receiver
		main    runner.Update
		hasMain bool
	)
	if step != nil {
		main, hasMain = updates[step]
		if hasMain {
			mainKey = step
		}
	}
	if !hasMain {
		main, hasMain = updates[runner.Unspecified]
		if hasMain {
			mainKey = runner.Unspecified
		}
	}

	for recv, u := range updates {
		if recv == nil {
			a.logger.Warn("Dropping update with nil receiver", "kind", string(u.Kind))
			continue
		}
		if hasMain && recv == mainKey {
			continue
		}
		a.deliver(recv, u, step)
	}
	if hasMain {
		a.deliver(mainKey, main, step)
		a.dispatcher.publish(events.RunnerUpdate, a.id, map[string]any{
			"kind":        main.Kind,
			"terminal":    main.Terminal(),
			"exit_status": main.ExitStatus,
			"progress":    main.Progress,
		})
	}

	return hasMain && main.Terminal(), step
}

func (a *runnerActor) deliver(recv runner.Receiver, u runner.Update, step SuspendedStep) {
	target := recv
	if recv == runner.Unspecified {
		if step == nil {
			a.logger.Warn("Dropping update for unregistered step", "kind", string(u.Kind))
			return
		}
		target = step
	}
	target.Append(u)
	a.dispatcher.metrics.UpdateDelivered(string(u.Kind))
}
