// Package runner defines the contract between the dispatcher and a single
// long-running remote execution, plus the Update values a runner emits.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/runnerd/internal/runner Runner,Receiver

// Runner is one asynchronous remote execution driven by the dispatcher.
//
// All methods are invoked from a single goroutine (the runner's actor), so
// implementations need no locking for state touched only by these calls.
type Runner interface {
	// ID is the unique key of this runner in the dispatcher registry.
	ID() string
	// TimeoutInterval is how long after Start the runner is timed out.
	// Zero means no timeout.
	TimeoutInterval() time.Duration
	SetLogger(logger *slog.Logger)

	Start(ctx context.Context) error
	// RunRefresh polls the execution and returns whatever changed since the
	// last refresh.
	RunRefresh(ctx context.Context) (Updates, error)
	// RunRefreshOutput collects buffered output without polling for status.
	RunRefreshOutput(ctx context.Context) (Updates, error)
	Timeout(ctx context.Context) error
	Kill(ctx context.Context) error
	// Close releases resources. Called exactly once during termination.
	Close(ctx context.Context) error
	ExternalEvent(ctx context.Context, event Event) (Updates, error)
}

// Receiver consumes updates. Suspended steps and update mirrors implement it.
type Receiver interface {
	Append(update Update)
}

type unspecified struct{}

func (unspecified) Append(Update) {}

// Unspecified is the Updates key meaning "the step that started this runner".
// It is distinct from a nil key, which is invalid.
var Unspecified Receiver = unspecified{}

// Updates maps each receiver to the update it should get.
type Updates map[Receiver]Update

// Event is an external signal delivered to a running runner.
type Event struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}
