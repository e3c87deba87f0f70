package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/runnerd/internal/step"
)

// StartRequest is the JSON body for POST /runners
type StartRequest struct {
	Definition string          `json:"definition"`
	Input      json.RawMessage `json:"input,omitempty"`
	// Timeout is a Go duration string; it overrides the definition's.
	Timeout string `json:"timeout,omitempty"`
}

// StartResponse is returned once the runner has been handed to the dispatcher
type StartResponse struct {
	RunnerID   string `json:"runner_id"`
	Definition string `json:"definition"`
	Status     string `json:"status"`
}

// EventRequest is the JSON body for POST /runners/{id}/event
type EventRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActionResponse acknowledges cancel, event and refresh-output requests.
type ActionResponse struct {
	RunnerID string `json:"runner_id"`
	Action   string `json:"action"`
}

// RunnerResponse is returned by GET /runners/{id}.
type RunnerResponse struct {
	step.Snapshot
	Running bool `json:"running"`
	// Source is "memory" for live steps and "journal" for history.
	Source string `json:"source"`
}

// RunnersResponse is returned by GET /runners.
type RunnersResponse struct {
	Active  []string        `json:"active"`
	Runners []step.Snapshot `json:"runners"`
}

// DefinitionInfo describes one loaded runner definition.
type DefinitionInfo struct {
	Name        string        `json:"name"`
	Version     string        `json:"version,omitempty"`
	Description string        `json:"description,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Events      []string      `json:"events,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status            string `json:"status"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	ActiveRunners     int    `json:"active_runners"`
	DefinitionsLoaded int    `json:"definitions_loaded"`
}
