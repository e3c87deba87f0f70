package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Base carries the bookkeeping shared by concrete runners: identity, logger,
// and buffered output flushed by GenerateUpdates. Embed it by pointer.
//
// Publish methods are safe to call from helper goroutines (pipe readers,
// process waiters) while the actor goroutine calls GenerateUpdates.
type Base struct {
	id      string
	timeout time.Duration
	mirrors []Receiver

	mu           sync.Mutex
	logger       *slog.Logger
	output       []Chunk
	progress     *Progress
	exitStatus   *int
	exception    *Exception
	exitReported bool
}

// NewBase returns a Base. An empty id is replaced with a random UUID.
func NewBase(id string, timeout time.Duration) *Base {
	if id == "" {
		id = uuid.NewString()
	}
	return &Base{
		id:      id,
		timeout: timeout,
		logger:  slog.Default(),
	}
}

func (b *Base) ID() string { return b.id }

func (b *Base) TimeoutInterval() time.Duration { return b.timeout }

func (b *Base) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	b.mu.Lock()
	b.logger = logger.With("runner_id", b.id)
	b.mu.Unlock()
}

// Logger returns the logger assigned by the dispatcher.
func (b *Base) Logger() *slog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}

// AddMirror makes every generated update also go to r.
func (b *Base) AddMirror(r Receiver) {
	if r == nil {
		return
	}
	b.mu.Lock()
	b.mirrors = append(b.mirrors, r)
	b.mu.Unlock()
}

// PublishData buffers a chunk of output.
func (b *Base) PublishData(stream, data string) {
	if data == "" {
		return
	}
	b.mu.Lock()
	b.output = append(b.output, Chunk{Stream: stream, Data: data, At: time.Now().UTC()})
	b.mu.Unlock()
}

// PublishProgress replaces the pending progress value.
func (b *Base) PublishProgress(done float64, message string) {
	b.mu.Lock()
	b.progress = &Progress{Done: done, Message: message}
	b.mu.Unlock()
}

// PublishExitStatus records the final exit status. Only the first call counts.
func (b *Base) PublishExitStatus(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exitStatus != nil {
		return
	}
	b.exitStatus = &code
}

// PublishException records a failure. A fatal exception ends the runner on the
// next GenerateUpdates.
func (b *Base) PublishException(message string, err error, fatal bool) {
	enc := EncodeException(message, err, fatal)
	b.mu.Lock()
	b.output = append(b.output, enc.Output...)
	if b.exception == nil || fatal {
		b.exception = enc.Exception
	}
	b.mu.Unlock()
	b.Logger().Error(message, "error", err, "fatal", fatal)
}

// ExitStatus returns the recorded exit status, if any.
func (b *Base) ExitStatus() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exitStatus == nil {
		return 0, false
	}
	return *b.exitStatus, true
}

// GenerateUpdates flushes buffered state into one update addressed to
// Unspecified and to every mirror. Returns nil when nothing is pending.
func (b *Base) GenerateUpdates() Updates {
	b.mu.Lock()
	defer b.mu.Unlock()

	pendingExit := b.exitStatus != nil && !b.exitReported
	if len(b.output) == 0 && b.progress == nil && b.exception == nil && !pendingExit {
		return nil
	}

	u := Update{
		Kind:      KindOutput,
		Output:    b.output,
		Progress:  b.progress,
		Exception: b.exception,
		At:        time.Now().UTC(),
	}
	switch {
	case pendingExit:
		code := *b.exitStatus
		u.ExitStatus = &code
		u.Kind = KindExitStatus
		b.exitReported = true
	case b.exception != nil:
		u.Kind = KindException
	case b.progress != nil && len(b.output) == 0:
		u.Kind = KindProgress
	}

	b.output = nil
	b.progress = nil
	b.exception = nil

	return b.fanOut(u)
}

func (b *Base) fanOut(u Update) Updates {
	updates := Updates{Unspecified: u}
	for _, m := range b.mirrors {
		updates[m] = u
	}
	return updates
}

// RunRefreshOutput flushes output and progress only. A pending exit status or
// exception stays buffered for the next GenerateUpdates, so this path never
// ends the runner.
func (b *Base) RunRefreshOutput(context.Context) (Updates, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.output) == 0 && b.progress == nil {
		return nil, nil
	}
	u := Update{
		Kind:     KindOutput,
		Output:   b.output,
		Progress: b.progress,
		At:       time.Now().UTC(),
	}
	if len(b.output) == 0 {
		u.Kind = KindProgress
	}
	b.output = nil
	b.progress = nil
	return b.fanOut(u), nil
}

// Close is a no-op by default.
func (b *Base) Close(context.Context) error { return nil }
