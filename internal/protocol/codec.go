package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EncodeRequest writes req as one JSON line.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.RunnerID == "" {
		return fmt.Errorf("request missing runner_id")
	}
	req.Type = FrameRequest

	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// EncodeEvent writes ev as one JSON line.
func EncodeEvent(w io.Writer, ev *EventFrame) error {
	if ev.Name == "" {
		return fmt.Errorf("event missing name")
	}
	ev.Type = FrameEvent

	if err := json.NewEncoder(w).Encode(ev); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// DecodeMessage parses a stdout line. It returns false for anything that is
// not a well-formed progress or log message.
func DecodeMessage(line []byte) (*Message, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, false
	}

	var msg Message
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.DisallowUnknownFields() // Strict parsing
	if err := decoder.Decode(&msg); err != nil {
		return nil, false
	}

	switch msg.Type {
	case "progress":
		if msg.Done < 0 || msg.Done > 1 {
			return nil, false
		}
		return &msg, true
	case "log":
		if msg.Message == "" {
			return nil, false
		}
		return &msg, true
	default:
		return nil, false
	}
}
