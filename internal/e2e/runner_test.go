package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/runnerd/internal/api"
	"github.com/mattjoyce/runnerd/internal/catalog"
	"github.com/mattjoyce/runnerd/internal/dispatch"
	"github.com/mattjoyce/runnerd/internal/events"
	"github.com/mattjoyce/runnerd/internal/journal"
	"github.com/mattjoyce/runnerd/internal/launch"
	"github.com/mattjoyce/runnerd/internal/runner"
	"github.com/mattjoyce/runnerd/internal/scheduler"
	"github.com/mattjoyce/runnerd/internal/step"
	"github.com/mattjoyce/runnerd/internal/storage"
)

const (
	refreshInterval = 20 * time.Millisecond
	waitFor         = 10 * time.Second
	apiKey          = "e2e-key"
)

// definitions maps a definition name to its manifest extras and script body.
var definitions = map[string]struct{ extra, script string }{
	"hello": {
		script: `read -r req
echo "hello from runner"
echo '{"type":"progress","done":0.5,"message":"half way"}'
echo "oops" >&2
exit 0
`,
	},
	"broken": {
		script: `read -r req
echo "about to fail"
exit 3
`,
	},
	"approval": {
		extra: "events: [approve]\n",
		script: `read -r req
echo "waiting"
read -r ev
echo "received $ev"
exit 0
`,
	},
	"trapper": {
		extra: "kill_grace: 5s\n",
		script: `read -r req
trap 'echo "terminating"; exit 7' TERM
echo "ready"
while true; do sleep 0.05; done
`,
	},
	"sleeper": {
		extra: "timeout: 300ms\nkill_grace: 5s\n",
		script: `read -r req
while true; do sleep 0.05; done
`,
	},
}

type stack struct {
	dispatcher *dispatch.Dispatcher
	launcher   *launch.Launcher
	journal    *journal.Journal
	catalog    *catalog.Registry
	steps      *step.Registry
	hub        *events.Hub
	logger     *slog.Logger
}

func writeDefinitions(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, def := range definitions {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		manifest := "name: " + name + "\nversion: 1.0.0\nprotocol: 1\nentrypoint: run.sh\n" + def.extra
		require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\n"+def.script), 0o755))
	}
	return root
}

func newStack(t *testing.T) *stack {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat, err := catalog.Discover([]string{writeDefinitions(t)}, logger)
	require.NoError(t, err)
	require.Equal(t, len(definitions), cat.Len())

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	j := journal.New(db)

	clock := clockwork.NewRealClock()
	hub := events.NewHub(256)
	ticker := scheduler.NewTicker(clock, refreshInterval, logger)
	d := dispatch.New(scheduler.NewClock(clock, logger), ticker,
		dispatch.WithLogger(logger),
		dispatch.WithEvents(hub),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
		ticker.Stop()
	})

	steps := step.NewRegistry(0)
	l := launch.New(launch.Config{
		DefaultTimeout: time.Minute,
		KillGrace:      5 * time.Second,
		MaxOutputBytes: 1 << 20,
		Clock:          clock,
	}, cat, d, steps, launch.WithJournal(j), launch.WithLogger(logger))

	return &stack{
		dispatcher: d,
		launcher:   l,
		journal:    j,
		catalog:    cat,
		steps:      steps,
		hub:        hub,
		logger:     logger,
	}
}

func (s *stack) launch(t *testing.T, definition string) *step.Step {
	t.Helper()
	st, err := s.launcher.Launch(context.Background(), launch.Request{
		Definition: definition,
		Input:      json.RawMessage(`{"who":"e2e"}`),
		RequestID:  "req-" + definition,
	})
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func waitDone(t *testing.T, st *step.Step) step.Snapshot {
	t.Helper()
	select {
	case <-st.Done():
	case <-time.After(waitFor):
		t.Fatalf("runner %s did not finish: %+v", st.RunnerID(), st.Snapshot())
	}
	return st.Snapshot()
}

// waitJournaled waits for the journal to record the terminal status, which is
// written just after the step finishes.
func (s *stack) waitJournaled(t *testing.T, id string) *journal.Entry {
	t.Helper()
	var entry *journal.Entry
	require.Eventually(t, func() bool {
		e, err := s.journal.Get(context.Background(), id)
		if err != nil || !e.Status.Terminal() {
			return false
		}
		entry = e
		return true
	}, waitFor, refreshInterval)
	return entry
}

func (s *stack) waitUnregistered(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := s.dispatcher.Step(id)
		return !ok
	}, waitFor, refreshInterval)
}

func eventTypes(hub *events.Hub, runnerID string) []string {
	var out []string
	for _, e := range hub.SnapshotSince(0) {
		if e.RunnerID == runnerID {
			out = append(out, e.Type)
		}
	}
	return out
}

func TestRunnerSucceedsAndIsJournaled(t *testing.T) {
	s := newStack(t)
	st := s.launch(t, "hello")

	snap := waitDone(t, st)
	assert.Equal(t, journal.StatusSucceeded, snap.Status)
	require.NotNil(t, snap.ExitStatus)
	assert.Equal(t, 0, *snap.ExitStatus)
	assert.Contains(t, snap.Output, "hello from runner")
	assert.Contains(t, snap.Output, "oops")
	require.NotNil(t, snap.Progress)
	assert.InDelta(t, 0.5, snap.Progress.Done, 0.0001)
	assert.Equal(t, "half way", snap.Progress.Message)

	entry := s.waitJournaled(t, st.RunnerID())
	assert.Equal(t, "hello", entry.Definition)
	assert.Equal(t, journal.StatusSucceeded, entry.Status)
	require.NotNil(t, entry.ExitStatus)
	assert.Equal(t, 0, *entry.ExitStatus)
	assert.JSONEq(t, `{"who":"e2e"}`, string(entry.Input))
	require.NotNil(t, entry.RequestID)
	assert.Equal(t, "req-hello", *entry.RequestID)

	updates, err := s.journal.Updates(context.Background(), st.RunnerID())
	require.NoError(t, err)
	require.NotEmpty(t, updates)
	assert.Equal(t, string(runner.KindExitStatus), updates[len(updates)-1].Kind)

	s.waitUnregistered(t, st.RunnerID())
	assert.False(t, s.dispatcher.Running(st.RunnerID()))

	types := eventTypes(s.hub, st.RunnerID())
	require.NotEmpty(t, types)
	assert.Equal(t, events.RunnerStarted, types[0])
	assert.Contains(t, types, events.RunnerUpdate)
	assert.Equal(t, events.RunnerFinished, types[len(types)-1])
}

func TestRunnerNonZeroExitFails(t *testing.T) {
	s := newStack(t)
	st := s.launch(t, "broken")

	snap := waitDone(t, st)
	assert.Equal(t, journal.StatusFailed, snap.Status)
	require.NotNil(t, snap.ExitStatus)
	assert.Equal(t, 3, *snap.ExitStatus)
	assert.Contains(t, snap.Output, "about to fail")

	entry := s.waitJournaled(t, st.RunnerID())
	assert.Equal(t, journal.StatusFailed, entry.Status)
	require.NotNil(t, entry.ExitStatus)
	assert.Equal(t, 3, *entry.ExitStatus)
}

func TestExternalEventReachesProcess(t *testing.T) {
	s := newStack(t)
	st := s.launch(t, "approval")

	require.Eventually(t, func() bool {
		return s.dispatcher.Running(st.RunnerID())
	}, waitFor, refreshInterval)

	s.dispatcher.ExternalEvent(st.RunnerID(), runner.Event{
		Name:    "approve",
		Payload: json.RawMessage(`{"by":"alice"}`),
	})

	snap := waitDone(t, st)
	assert.Equal(t, journal.StatusSucceeded, snap.Status)
	assert.Contains(t, snap.Output, `"name":"approve"`)
	assert.Contains(t, snap.Output, `"by":"alice"`)
}

func TestKillUsesGracefulTermination(t *testing.T) {
	s := newStack(t)
	st := s.launch(t, "trapper")

	// The trap is installed before "ready" is printed.
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(st.Snapshot().Output), []byte("ready"))
	}, waitFor, refreshInterval)

	s.dispatcher.Kill(st.RunnerID())

	snap := waitDone(t, st)
	assert.Equal(t, journal.StatusFailed, snap.Status)
	require.NotNil(t, snap.ExitStatus)
	assert.Equal(t, 7, *snap.ExitStatus)
	assert.Contains(t, snap.Output, "terminating")
	s.waitUnregistered(t, st.RunnerID())
}

func TestTimeoutTerminatesRunner(t *testing.T) {
	s := newStack(t)
	st := s.launch(t, "sleeper")

	snap := waitDone(t, st)
	assert.Equal(t, journal.StatusFailed, snap.Status)
	require.NotNil(t, snap.ExitStatus)
	assert.Equal(t, 128+15, *snap.ExitStatus)

	var debug bool
	for _, u := range st.Updates() {
		for _, c := range u.Output {
			if c.Stream == "debug" && bytes.Contains([]byte(c.Data), []byte("timed out")) {
				debug = true
			}
		}
	}
	assert.True(t, debug, "timeout should be recorded on the debug stream")
}

func TestUnknownDefinitionIsRejected(t *testing.T) {
	s := newStack(t)
	_, err := s.launcher.Launch(context.Background(), launch.Request{Definition: "nope"})
	assert.ErrorIs(t, err, launch.ErrUnknownDefinition)
	assert.Equal(t, 0, s.dispatcher.Len())
}

func TestShutdownStopsRunningRunners(t *testing.T) {
	s := newStack(t)
	st := s.launch(t, "sleeper")
	require.Eventually(t, func() bool {
		return s.dispatcher.Running(st.RunnerID())
	}, waitFor, refreshInterval)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.dispatcher.Shutdown(ctx))
	assert.Equal(t, 0, s.dispatcher.Len())

	_, err := s.launcher.Launch(context.Background(), launch.Request{Definition: "hello"})
	assert.ErrorIs(t, err, dispatch.ErrShuttingDown)
}

func TestHTTPRoundTrip(t *testing.T) {
	s := newStack(t)
	srv := api.New(api.Config{APIKey: apiKey}, s.dispatcher, s.launcher, s.catalog, s.steps, s.journal, s.hub, s.logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	do := func(method, path string, body any) *http.Response {
		t.Helper()
		var r io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			r = bytes.NewReader(b)
		}
		req, err := http.NewRequest(method, ts.URL+path, r)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := do(http.MethodPost, "/runners", api.StartRequest{
		Definition: "approval",
		Input:      json.RawMessage(`{"n":1}`),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started api.StartResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()
	require.NotEmpty(t, started.RunnerID)

	require.Eventually(t, func() bool {
		return s.dispatcher.Running(started.RunnerID)
	}, waitFor, refreshInterval)

	resp = do(http.MethodPost, "/runners/"+started.RunnerID+"/event", api.EventRequest{Name: "undeclared"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(http.MethodPost, "/runners/"+started.RunnerID+"/event", api.EventRequest{
		Name:    "approve",
		Payload: json.RawMessage(`{"ok":true}`),
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got api.RunnerResponse
	require.Eventually(t, func() bool {
		resp := do(http.MethodGet, "/runners/"+started.RunnerID, nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		got = api.RunnerResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			return false
		}
		return got.Status == journal.StatusSucceeded
	}, waitFor, 50*time.Millisecond)
	assert.Equal(t, "approval", got.Definition)
	assert.Contains(t, got.Output, `"name":"approve"`)
	assert.Equal(t, "memory", got.Source)

	s.waitUnregistered(t, started.RunnerID)
	resp = do(http.MethodPost, "/runners/"+started.RunnerID+"/cancel", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "finished runners cannot be cancelled")

	resp = do(http.MethodPost, "/runners", api.StartRequest{Definition: "missing"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
