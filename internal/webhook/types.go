package webhook

import (
	"github.com/mattjoyce/runnerd/internal/runner"
)

// EventSink receives verified webhook deliveries.
type EventSink interface {
	Running(runnerID string) bool
	ExternalEvent(runnerID string, event runner.Event)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL prefix for this webhook (e.g., "/hooks/github"); the
	// target runner id follows it.
	Path string

	// Event is the event name delivered to the runner.
	Event string

	// Secret is the HMAC secret for signature verification
	Secret string

	// SignatureHeader is the HTTP header containing the HMAC signature
	// Examples: "X-Hub-Signature-256" (GitHub)
	SignatureHeader string

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64
}

// DeliveryResponse is the JSON response for accepted deliveries.
type DeliveryResponse struct {
	RunnerID string `json:"runner_id"`
	Event    string `json:"event"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const DefaultMaxBodySize = 1048576 // 1 MB
