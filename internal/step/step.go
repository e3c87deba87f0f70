// Package step provides the in-memory suspended step that waits on a runner.
package step

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/runnerd/internal/journal"
	"github.com/mattjoyce/runnerd/internal/runner"
)

// Sink persists step history. *journal.Journal implements it.
type Sink interface {
	AppendUpdate(ctx context.Context, runnerID string, u runner.Update) error
	Complete(ctx context.Context, runnerID string, status journal.Status, exitStatus *int, lastError *string) error
}

// Step collects the updates of one runner and finishes on the first terminal
// update. It is safe for concurrent use.
type Step struct {
	runnerID   string
	definition string
	createdAt  time.Time
	sink       Sink
	logger     *slog.Logger

	mu          sync.Mutex
	updates     []runner.Update
	progress    *runner.Progress
	status      journal.Status
	exitStatus  *int
	lastError   *string
	completedAt *time.Time
	done        chan struct{}
}

type Option func(*Step)

// WithSink journals every update and the final outcome.
func WithSink(sink Sink) Option {
	return func(s *Step) { s.sink = sink }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Step) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(runnerID, definition string, opts ...Option) *Step {
	s := &Step{
		runnerID:   runnerID,
		definition: definition,
		createdAt:  time.Now().UTC(),
		logger:     slog.Default(),
		status:     journal.StatusRunning,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Step) RunnerID() string { return s.runnerID }

// Append records u. Updates after the step finished are kept but do not change
// the outcome.
func (s *Step) Append(u runner.Update) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	if u.Progress != nil {
		s.progress = u.Progress
	}
	completed := false
	if s.status == journal.StatusRunning && u.Terminal() {
		s.complete(u)
		completed = true
	}
	status, exitStatus, lastError := s.status, s.exitStatus, s.lastError
	s.mu.Unlock()

	if s.sink == nil {
		return
	}
	ctx := context.Background()
	if err := s.sink.AppendUpdate(ctx, s.runnerID, u); err != nil {
		s.logger.Warn("Failed to journal runner update", "runner_id", s.runnerID, "error", err)
	}
	if completed {
		if err := s.sink.Complete(ctx, s.runnerID, status, exitStatus, lastError); err != nil {
			s.logger.Warn("Failed to journal runner completion", "runner_id", s.runnerID, "error", err)
		}
	}
}

// complete must be called with s.mu held.
func (s *Step) complete(u runner.Update) {
	now := time.Now().UTC()
	s.completedAt = &now
	switch {
	case u.ExitStatus != nil:
		code := *u.ExitStatus
		s.exitStatus = &code
		if code == 0 {
			s.status = journal.StatusSucceeded
		} else {
			s.status = journal.StatusFailed
		}
	default:
		s.status = journal.StatusFailed
	}
	if u.Exception != nil {
		msg := u.Exception.Message
		if u.Exception.Error != "" {
			msg += ": " + u.Exception.Error
		}
		s.lastError = &msg
	}
	close(s.done)
}

func (s *Step) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status != journal.StatusRunning
}

// Done is closed once the step has finished.
func (s *Step) Done() <-chan struct{} {
	return s.done
}

// Snapshot is a point-in-time copy of a step.
type Snapshot struct {
	RunnerID    string           `json:"runner_id"`
	Definition  string           `json:"definition"`
	Status      journal.Status   `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	ExitStatus  *int             `json:"exit_status,omitempty"`
	LastError   *string          `json:"last_error,omitempty"`
	Progress    *runner.Progress `json:"progress,omitempty"`
	Updates     int              `json:"updates"`
	Output      string           `json:"output,omitempty"`
}

func (s *Step) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out strings.Builder
	for _, u := range s.updates {
		for _, c := range u.Output {
			if c.Stream == "stdout" || c.Stream == "stderr" {
				out.WriteString(c.Data)
			}
		}
	}
	return Snapshot{
		RunnerID:    s.runnerID,
		Definition:  s.definition,
		Status:      s.status,
		CreatedAt:   s.createdAt,
		CompletedAt: s.completedAt,
		ExitStatus:  s.exitStatus,
		LastError:   s.lastError,
		Progress:    s.progress,
		Updates:     len(s.updates),
		Output:      out.String(),
	}
}

// Updates returns a copy of everything appended so far.
func (s *Step) Updates() []runner.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runner.Update(nil), s.updates...)
}
