package protocol

import (
	"encoding/json"
	"time"
)

// Version is the only supported runner protocol version.
const Version = 1

// Frame types written to a runner's stdin.
const (
	FrameRequest = "request"
	FrameEvent   = "event"
)

// Request is the first frame a runner reads from stdin.
type Request struct {
	Type       string          `json:"type"`
	Protocol   int             `json:"protocol"`
	RunnerID   string          `json:"runner_id"`
	Definition string          `json:"definition"`
	Input      json.RawMessage `json:"input,omitempty"`
	DeadlineAt *time.Time      `json:"deadline_at,omitempty"`
}

// EventFrame delivers an external event to a running process.
type EventFrame struct {
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Message is a structured line a runner may print on stdout. Lines that are
// not messages are treated as plain output.
type Message struct {
	Type    string  `json:"type"` // progress | log
	Done    float64 `json:"done,omitempty"`
	Message string  `json:"message,omitempty"`
	Level   string  `json:"level,omitempty"` // info | warn | error | debug
}
