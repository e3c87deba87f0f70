package dispatch

import (
	"errors"
	"time"

	"github.com/mattjoyce/runnerd/internal/runner"
	"github.com/mattjoyce/runnerd/internal/scheduler"
)

// Clock delivers one-shot messages at an absolute time.
type Clock interface {
	Now() time.Time
	Ping(target scheduler.Target, at time.Time, msg any) scheduler.Timer
}

// Ticker delivers a message once after the refresh interval. A pending
// (target, msg) pair is not scheduled twice.
type Ticker interface {
	AddEvent(target scheduler.Target, msg any) bool
}

// SuspendedStep is the workflow step waiting on a runner.
type SuspendedStep interface {
	runner.Receiver
	IsFinished() bool
}

var (
	ErrNilStep           = errors.New("suspended step is nil")
	ErrNilRunner         = errors.New("runner is nil")
	ErrEmptyRunnerID     = errors.New("runner id is empty")
	ErrAlreadyRegistered = errors.New("runner already registered")
	ErrShuttingDown      = errors.New("dispatcher is shutting down")
)
