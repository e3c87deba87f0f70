// Package webhook turns signed HTTP deliveries into runner events.
//
// Each configured endpoint accepts POST <path>/{runnerID}. The body is
// verified with HMAC-SHA256 against the endpoint's secret and then handed to
// the dispatcher as an external event named after the endpoint.
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8091"
//	  endpoints:
//	    - path: /hooks/github
//	      event: push
//	      secret: ${GITHUB_WEBHOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 1MiB
//
// # Error Responses
//
// - 403 Forbidden: invalid or missing signature (no details)
// - 404 Not Found: unknown path or runner not running
// - 413 Payload Too Large: body exceeds max_body_size
package webhook
