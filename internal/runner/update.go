package runner

import (
	"fmt"
	"time"
)

// Kind describes the primary content of an Update.
type Kind string

const (
	KindOutput     Kind = "output"
	KindProgress   Kind = "progress"
	KindExitStatus Kind = "exit_status"
	KindException  Kind = "exception"
)

// Chunk is one piece of continuous output.
type Chunk struct {
	Stream string    `json:"stream"` // stdout | stderr | debug
	Data   string    `json:"data"`
	At     time.Time `json:"at"`
}

// Progress is a runner-reported completion estimate.
type Progress struct {
	Done    float64 `json:"done"` // 0..1
	Message string  `json:"message,omitempty"`
}

// Exception describes a failure reported to a step.
type Exception struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Fatal   bool   `json:"fatal"`
}

// Update is a progress/output/status/exception record destined for a Receiver.
type Update struct {
	Kind       Kind       `json:"kind"`
	Output     []Chunk    `json:"output,omitempty"`
	Progress   *Progress  `json:"progress,omitempty"`
	ExitStatus *int       `json:"exit_status,omitempty"`
	Exception  *Exception `json:"exception,omitempty"`
	At         time.Time  `json:"at"`
}

// Terminal reports whether the update ends the runner: an exit status or a
// fatal exception.
func (u Update) Terminal() bool {
	if u.ExitStatus != nil {
		return true
	}
	return u.Exception != nil && u.Exception.Fatal
}

// EncodeException builds the exception variant of Update. It is the only way
// failures reach a step.
func EncodeException(message string, err error, fatal bool) Update {
	exc := &Exception{Message: message, Fatal: fatal}
	data := message
	if err != nil {
		exc.Error = err.Error()
		data = fmt.Sprintf("%s: %s", message, exc.Error)
	}
	now := time.Now().UTC()
	return Update{
		Kind:      KindException,
		Output:    []Chunk{{Stream: "debug", Data: data, At: now}},
		Exception: exc,
		At:        now,
	}
}

// ExitStatusUpdate builds a terminal update carrying only an exit status.
func ExitStatusUpdate(code int) Update {
	return Update{Kind: KindExitStatus, ExitStatus: &code, At: time.Now().UTC()}
}
