// Package command runs a catalog definition as a local child process.
//
// The process receives a protocol request frame on stdin and may receive
// further event frames there. Its stdout and stderr are captured line by line;
// stdout lines that decode as protocol messages become progress updates or log
// records instead of output.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/mattjoyce/runnerd/internal/catalog"
	"github.com/mattjoyce/runnerd/internal/protocol"
	"github.com/mattjoyce/runnerd/internal/runner"
)

const (
	// DefaultMaxOutputBytes caps the output captured across both streams.
	DefaultMaxOutputBytes = 64 * 1024

	// DefaultKillGrace is the time we wait after SIGTERM before sending SIGKILL.
	DefaultKillGrace = 5 * time.Second

	// maxLineBytes forces a partial line out once it grows this large.
	maxLineBytes = 16 * 1024
)

var (
	ErrNotStarted     = errors.New("runner not started")
	ErrAlreadyStarted = errors.New("runner already started")
	ErrExited         = errors.New("process already exited")
)

// Config describes one execution of a definition.
type Config struct {
	ID         string
	Definition *catalog.Definition
	Input      json.RawMessage
	// Timeout overrides Definition.Timeout when positive.
	Timeout time.Duration
	// KillGrace applies when the definition sets none.
	KillGrace      time.Duration
	MaxOutputBytes int
	Clock          clockwork.Clock
}

var _ runner.Runner = (*Runner)(nil)

// Runner is a runner.Runner backed by an exec.Cmd.
type Runner struct {
	*runner.Base

	def       *catalog.Definition
	input     json.RawMessage
	clock     clockwork.Clock
	killGrace time.Duration
	maxOutput int

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	killTimer clockwork.Timer

	outMu       sync.Mutex
	outputBytes int
	truncated   bool

	exited chan struct{}
}

// New returns an unstarted Runner for cfg.
func New(cfg Config) (*Runner, error) {
	if cfg.Definition == nil {
		return nil, fmt.Errorf("definition is required")
	}
	timeout := cfg.Definition.Timeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	grace := cfg.Definition.KillGrace
	if grace <= 0 {
		grace = cfg.KillGrace
	}
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Runner{
		Base:      runner.NewBase(cfg.ID, timeout),
		def:       cfg.Definition,
		input:     cfg.Input,
		clock:     clock,
		killGrace: grace,
		maxOutput: maxOutput,
		exited:    make(chan struct{}),
	}, nil
}

// Definition returns the definition this runner executes.
func (r *Runner) Definition() *catalog.Definition { return r.def }

// Exited is closed once the process has been reaped.
func (r *Runner) Exited() <-chan struct{} { return r.exited }

// Start spawns the process and writes the request frame.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return ErrAlreadyStarted
	}

	// Don't use CommandContext: termination goes through Timeout/Kill/Close.
	cmd := exec.Command(r.def.Entrypoint, r.def.Args...)
	cmd.Dir = r.def.Path
	cmd.Env = r.environ()
	cmd.WaitDelay = r.killGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout := &lineWriter{emit: r.handleStdout}
	stderr := &lineWriter{emit: func(line []byte) { r.publishOutput("stderr", line) }}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.Logger().Debug("spawning runner process", "entrypoint", r.def.Entrypoint, "timeout", r.TimeoutInterval())

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	r.cmd = cmd
	r.stdin = stdin

	go r.wait(stdout, stderr)

	req := &protocol.Request{
		Protocol:   protocol.Version,
		RunnerID:   r.ID(),
		Definition: r.def.Name,
		Input:      r.input,
	}
	if t := r.TimeoutInterval(); t > 0 {
		deadline := r.clock.Now().Add(t).UTC()
		req.DeadlineAt = &deadline
	}
	if err := protocol.EncodeRequest(stdin, req); err != nil {
		if errors.Is(err, syscall.EPIPE) {
			r.Logger().Warn("runner process closed stdin before reading the request")
			return nil
		}
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (r *Runner) wait(stdout, stderr *lineWriter) {
	err := r.cmd.Wait()
	stdout.flush()
	stderr.flush()

	r.mu.Lock()
	if r.killTimer != nil {
		r.killTimer.Stop()
	}
	r.mu.Unlock()

	state := r.cmd.ProcessState
	switch {
	case state == nil:
		r.PublishException("wait for process", err, true)
	default:
		if err != nil && !isExitError(err) {
			r.Logger().Warn("process wait reported an error", "error", err)
		}
		code := exitCode(state)
		r.Logger().Info("runner process exited", "exit_code", code)
		r.PublishExitStatus(code)
	}
	close(r.exited)
}

// RunRefresh returns whatever the process produced since the last refresh.
func (r *Runner) RunRefresh(ctx context.Context) (runner.Updates, error) {
	r.mu.Lock()
	started := r.cmd != nil
	r.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	return r.GenerateUpdates(), nil
}

// Timeout asks the process to stop because its timeout interval elapsed.
func (r *Runner) Timeout(ctx context.Context) error {
	r.PublishData("debug", fmt.Sprintf("timed out after %s\n", r.TimeoutInterval()))
	return r.terminate()
}

// Kill asks the process to stop on request.
func (r *Runner) Kill(ctx context.Context) error {
	r.PublishData("debug", "kill requested\n")
	return r.terminate()
}

// terminate sends SIGTERM and arms a SIGKILL after the kill grace.
func (r *Runner) terminate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return nil
	}
	select {
	case <-r.exited:
		return nil
	default:
	}

	if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("send SIGTERM: %w", err)
	}
	if r.killTimer == nil {
		r.killTimer = r.clock.AfterFunc(r.killGrace, r.forceKill)
	}
	return nil
}

func (r *Runner) forceKill() {
	select {
	case <-r.exited:
		return
	default:
	}
	r.Logger().Warn("runner did not exit after SIGTERM, sending SIGKILL", "grace", r.killGrace)
	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.Logger().Error("failed to send SIGKILL", "error", err)
	}
}

// ExternalEvent writes an event frame to the process. Events the definition
// does not declare are ignored.
func (r *Runner) ExternalEvent(ctx context.Context, event runner.Event) (runner.Updates, error) {
	if !r.def.AcceptsEvent(event.Name) {
		r.Logger().Warn("ignoring undeclared event", "event", event.Name)
		return r.GenerateUpdates(), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return nil, ErrNotStarted
	}
	select {
	case <-r.exited:
		return nil, ErrExited
	default:
	}
	if r.stdin == nil {
		return nil, fmt.Errorf("stdin closed")
	}

	at := event.At
	if at.IsZero() {
		at = r.clock.Now().UTC()
	}
	frame := &protocol.EventFrame{Name: event.Name, Payload: event.Payload, At: at}
	if err := protocol.EncodeEvent(r.stdin, frame); err != nil {
		return nil, fmt.Errorf("write event: %w", err)
	}
	return r.GenerateUpdates(), nil
}

// Close releases stdin and kills the process if it is still running, waiting
// up to the kill grace for it to be reaped.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.killTimer != nil {
		r.killTimer.Stop()
	}
	if r.stdin != nil {
		_ = r.stdin.Close()
		r.stdin = nil
	}
	cmd := r.cmd
	r.mu.Unlock()

	if cmd == nil {
		return nil
	}
	select {
	case <-r.exited:
		return nil
	default:
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process: %w", err)
	}
	select {
	case <-r.exited:
		return nil
	case <-r.clock.After(r.killGrace):
		return fmt.Errorf("process %d not reaped after %s", cmd.Process.Pid, r.killGrace)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) handleStdout(line []byte) {
	msg, ok := protocol.DecodeMessage(line)
	if !ok {
		r.publishOutput("stdout", line)
		return
	}
	switch msg.Type {
	case "progress":
		r.PublishProgress(msg.Done, msg.Message)
	case "log":
		logger := r.Logger()
		switch msg.Level {
		case "error":
			logger.Error(msg.Message, "source", "runner")
		case "warn":
			logger.Warn(msg.Message, "source", "runner")
		case "debug":
			logger.Debug(msg.Message, "source", "runner")
		default:
			logger.Info(msg.Message, "source", "runner")
		}
	}
}

func (r *Runner) publishOutput(stream string, data []byte) {
	r.outMu.Lock()
	if r.truncated {
		r.outMu.Unlock()
		return
	}
	remaining := r.maxOutput - r.outputBytes
	cut := false
	if len(data) > remaining {
		// Cut on a rune boundary so the kept prefix stays valid UTF-8.
		for remaining > 0 && !utf8.RuneStart(data[remaining]) {
			remaining--
		}
		data = data[:remaining]
		r.truncated = true
		cut = true
	}
	r.outputBytes += len(data)
	r.outMu.Unlock()

	r.PublishData(stream, string(data))
	if cut {
		r.PublishData("debug", fmt.Sprintf("output truncated at %d bytes\n", r.maxOutput))
	}
}

func (r *Runner) environ() []string {
	env := append(os.Environ(),
		"RUNNERD_RUNNER_ID="+r.ID(),
		"RUNNERD_DEFINITION="+r.def.Name,
	)
	keys := make([]string, 0, len(r.def.Env))
	for k := range r.def.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+os.ExpandEnv(r.def.Env[k]))
	}
	return env
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// exitCode maps a signal death to 128+signal, like a shell.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// lineWriter splits a stream into lines. exec.Cmd copies each stream from a
// single goroutine, so Write is never called concurrently.
type lineWriter struct {
	buf  []byte
	emit func(line []byte)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i+1])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxLineBytes {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}
