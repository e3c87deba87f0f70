// Package launch turns a definition name and an input into a running command
// runner: it allocates the id, opens the journal entry, registers the step and
// hands both to the dispatcher.
package launch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mattjoyce/runnerd/internal/catalog"
	"github.com/mattjoyce/runnerd/internal/dispatch"
	"github.com/mattjoyce/runnerd/internal/journal"
	"github.com/mattjoyce/runnerd/internal/runner"
	"github.com/mattjoyce/runnerd/internal/runner/command"
	"github.com/mattjoyce/runnerd/internal/step"
)

var (
	ErrUnknownDefinition = errors.New("unknown runner definition")
	ErrInvalidInput      = errors.New("input must be valid JSON")
)

// Dispatcher is the part of *dispatch.Dispatcher the launcher needs.
type Dispatcher interface {
	Start(step dispatch.SuspendedStep, r runner.Runner) (string, error)
}

type Catalog interface {
	Get(name string) (*catalog.Definition, bool)
}

// Journal records runner history. *journal.Journal implements it.
type Journal interface {
	step.Sink
	Open(ctx context.Context, req journal.OpenRequest) error
}

// Mirror supplies an extra receiver per runner. *redisbus.Forwarder
// implements it.
type Mirror interface {
	For(runnerID string) runner.Receiver
}

// Config holds the execution limits applied to every launched runner.
type Config struct {
	// DefaultTimeout applies when neither the request nor the definition
	// sets one.
	DefaultTimeout time.Duration
	KillGrace      time.Duration
	MaxOutputBytes int
	Clock          clockwork.Clock
}

// Request asks for one execution of a definition.
type Request struct {
	Definition string
	Input      json.RawMessage
	Timeout    time.Duration
	RequestID  string
}

type Launcher struct {
	cfg        Config
	catalog    Catalog
	dispatcher Dispatcher
	steps      *step.Registry
	journal    Journal
	mirror     Mirror
	logger     *slog.Logger
}

type Option func(*Launcher)

func WithJournal(j Journal) Option {
	return func(l *Launcher) { l.journal = j }
}

func WithMirror(m Mirror) Option {
	return func(l *Launcher) { l.mirror = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(cfg Config, cat Catalog, d Dispatcher, steps *step.Registry, opts ...Option) *Launcher {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if steps == nil {
		steps = step.NewRegistry(0)
	}
	l := &Launcher{
		cfg:        cfg,
		catalog:    cat,
		dispatcher: d,
		steps:      steps,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "launch")
	return l
}

// Steps returns the registry launched steps are recorded in.
func (l *Launcher) Steps() *step.Registry { return l.steps }

// Launch starts req and returns its step. When the dispatcher rejects the
// runner the step is still returned; it has already received the fatal
// exception.
func (l *Launcher) Launch(ctx context.Context, req Request) (*step.Step, error) {
	def, ok := l.catalog.Get(req.Definition)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, req.Definition)
	}
	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if !json.Valid(input) {
		return nil, ErrInvalidInput
	}

	timeout := req.Timeout
	if timeout <= 0 && def.Timeout <= 0 {
		timeout = l.cfg.DefaultTimeout
	}

	id := uuid.NewString()
	r, err := command.New(command.Config{
		ID:             id,
		Definition:     def,
		Input:          input,
		Timeout:        timeout,
		KillGrace:      l.cfg.KillGrace,
		MaxOutputBytes: l.cfg.MaxOutputBytes,
		Clock:          l.cfg.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("create runner: %w", err)
	}

	opts := []step.Option{step.WithLogger(l.logger)}
	if l.journal != nil {
		err := l.journal.Open(ctx, journal.OpenRequest{
			ID:         id,
			Definition: def.Name,
			Input:      input,
			RequestID:  req.RequestID,
		})
		if err != nil {
			return nil, fmt.Errorf("journal runner: %w", err)
		}
		opts = append(opts, step.WithSink(l.journal))
	}
	if l.mirror != nil {
		r.AddMirror(l.mirror.For(id))
	}

	st := step.New(id, def.Name, opts...)
	l.steps.Put(st)

	l.logger.Info("Launching runner", "runner_id", id, "definition", def.Name, "request_id", req.RequestID)
	if _, err := l.dispatcher.Start(st, r); err != nil {
		return st, err
	}
	return st, nil
}
