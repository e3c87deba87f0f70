package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/runnerd/internal/dispatch"
	"github.com/mattjoyce/runnerd/internal/journal"
	"github.com/mattjoyce/runnerd/internal/launch"
	"github.com/mattjoyce/runnerd/internal/runner"
	"github.com/mattjoyce/runnerd/internal/step"
)

const maxRequestBody = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:            "ok",
		UptimeSeconds:     int64(time.Since(s.startedAt).Seconds()),
		ActiveRunners:     len(s.dispatcher.Active()),
		DefinitionsLoaded: len(s.catalog.All()),
	})
}

// handleStartRunner handles POST /runners.
func (s *Server) handleStartRunner(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Definition = strings.TrimSpace(req.Definition)
	if req.Definition == "" {
		s.writeError(w, http.StatusBadRequest, "definition is required")
		return
	}

	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d < 0 {
			s.writeError(w, http.StatusBadRequest, "timeout must be a non-negative duration")
			return
		}
		timeout = d
	}

	st, err := s.launcher.Launch(r.Context(), launch.Request{
		Definition: req.Definition,
		Input:      req.Input,
		Timeout:    timeout,
		RequestID:  middleware.GetReqID(r.Context()),
	})
	switch {
	case errors.Is(err, launch.ErrUnknownDefinition):
		s.writeError(w, http.StatusNotFound, "definition not found")
		return
	case errors.Is(err, launch.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, dispatch.ErrShuttingDown):
		s.writeError(w, http.StatusServiceUnavailable, "dispatcher is shutting down")
		return
	case err != nil:
		s.logger.Error("failed to start runner", "definition", req.Definition, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start runner")
		return
	}

	respondJSON(w, http.StatusAccepted, StartResponse{
		RunnerID:   st.RunnerID(),
		Definition: req.Definition,
		Status:     string(journal.StatusRunning),
	})
}

// handleListRunners handles GET /runners.
func (s *Server) handleListRunners(w http.ResponseWriter, r *http.Request) {
	runners := s.steps.List()
	if runners == nil {
		runners = []step.Snapshot{}
	}
	respondJSON(w, http.StatusOK, RunnersResponse{
		Active:  s.dispatcher.Active(),
		Runners: runners,
	})
}

// handleGetRunner handles GET /runners/{runnerID}. Live steps are served from
// memory; anything older falls back to the journal.
func (s *Server) handleGetRunner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runnerID")

	if st, ok := s.steps.Get(id); ok {
		respondJSON(w, http.StatusOK, RunnerResponse{
			Snapshot: st.Snapshot(),
			Running:  s.dispatcher.Running(id),
			Source:   "memory",
		})
		return
	}

	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "runner not found")
		return
	}
	entry, err := s.history.Get(r.Context(), id)
	if errors.Is(err, journal.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "runner not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read runner history", "runner_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read runner history")
		return
	}
	records, err := s.history.Updates(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read runner updates", "runner_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read runner history")
		return
	}

	respondJSON(w, http.StatusOK, RunnerResponse{
		Snapshot: snapshotFromJournal(entry, records),
		Running:  s.dispatcher.Running(id),
		Source:   "journal",
	})
}

func snapshotFromJournal(e *journal.Entry, records []journal.UpdateRecord) step.Snapshot {
	snap := step.Snapshot{
		RunnerID:    e.ID,
		Definition:  e.Definition,
		Status:      e.Status,
		CreatedAt:   e.CreatedAt,
		CompletedAt: e.CompletedAt,
		ExitStatus:  e.ExitStatus,
		LastError:   e.LastError,
		Updates:     len(records),
	}
	var out strings.Builder
	for _, rec := range records {
		var u runner.Update
		if err := json.Unmarshal(rec.Payload, &u); err != nil {
			continue
		}
		if u.Progress != nil {
			snap.Progress = u.Progress
		}
		for _, c := range u.Output {
			if c.Stream == "stdout" || c.Stream == "stderr" {
				out.WriteString(c.Data)
			}
		}
	}
	snap.Output = out.String()
	return snap
}

// handleCancelRunner handles POST /runners/{runnerID}/cancel.
func (s *Server) handleCancelRunner(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runningID(w, r)
	if !ok {
		return
	}
	s.dispatcher.Kill(id)
	respondJSON(w, http.StatusAccepted, ActionResponse{RunnerID: id, Action: "cancel"})
}

// handleRunnerEvent handles POST /runners/{runnerID}/event.
func (s *Server) handleRunnerEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "event name is required")
		return
	}

	id, ok := s.runningID(w, r)
	if !ok {
		return
	}
	if st, found := s.steps.Get(id); found {
		def, known := s.catalog.Get(st.Snapshot().Definition)
		if known && !def.AcceptsEvent(req.Name) {
			s.writeError(w, http.StatusBadRequest, "definition does not accept event "+req.Name)
			return
		}
	}

	s.dispatcher.ExternalEvent(id, runner.Event{
		Name:    req.Name,
		Payload: req.Payload,
		At:      time.Now().UTC(),
	})
	respondJSON(w, http.StatusAccepted, ActionResponse{RunnerID: id, Action: "event"})
}

// handleRefreshOutput handles POST /runners/{runnerID}/refresh-output.
func (s *Server) handleRefreshOutput(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runningID(w, r)
	if !ok {
		return
	}
	s.dispatcher.RefreshOutput(id)
	respondJSON(w, http.StatusAccepted, ActionResponse{RunnerID: id, Action: "refresh-output"})
}

// runningID writes a 404 and reports false when the runner is not registered.
func (s *Server) runningID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "runnerID")
	if !s.dispatcher.Running(id) {
		s.writeError(w, http.StatusNotFound, "runner not running")
		return "", false
	}
	return id, true
}

// handleListDefinitions handles GET /definitions.
func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := s.catalog.All()
	out := make([]DefinitionInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, DefinitionInfo{
			Name:        d.Name,
			Version:     d.Version,
			Description: d.Description,
			Timeout:     d.Timeout,
			Events:      d.Events,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	respondJSON(w, http.StatusOK, out)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.catalog.All()))
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
