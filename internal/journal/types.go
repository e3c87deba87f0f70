package journal

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether s is a completed status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAbandoned:
		return true
	}
	return false
}

// Entry is one runner's history row.
type Entry struct {
	ID          string
	Definition  string
	Status      Status
	Input       json.RawMessage
	RequestID   *string
	CreatedAt   time.Time
	CompletedAt *time.Time
	ExitStatus  *int
	LastError   *string
}

type OpenRequest struct {
	ID         string
	Definition string
	Input      json.RawMessage
	RequestID  string
}

// UpdateRecord is a journaled runner update.
type UpdateRecord struct {
	Seq       int
	Kind      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

var ErrNotFound = errors.New("runner not found in journal")
