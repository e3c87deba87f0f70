package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/runnerd/internal/config"
	"github.com/mattjoyce/runnerd/internal/log"
	"github.com/mattjoyce/runnerd/internal/runner"
)

type delivery struct {
	runnerID string
	event    runner.Event
}

type fakeSink struct {
	mu        sync.Mutex
	running   map[string]bool
	delivered []delivery
}

func (f *fakeSink) Running(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id]
}

func (f *fakeSink) ExternalEvent(id string, ev runner.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, delivery{runnerID: id, event: ev})
}

const testSecret = "test-secret"

func newTestServer(sink *fakeSink, maxBody int64) http.Handler {
	cfg := Config{
		Listen: "127.0.0.1:0",
		Endpoints: []EndpointConfig{{
			Path:            "/hooks/github",
			Event:           "push",
			Secret:          testSecret,
			SignatureHeader: "X-Hub-Signature-256",
			MaxBodySize:     maxBody,
		}},
	}
	return New(cfg, sink, log.Discard()).Handler()
}

func post(h http.Handler, path string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookDeliversEvent(t *testing.T) {
	sink := &fakeSink{running: map[string]bool{"r1": true}}
	h := newTestServer(sink, 0)
	body := []byte(`{"ref":"main"}`)

	rec := post(h, "/hooks/github/r1", body, Sign(testSecret, body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp DeliveryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, DeliveryResponse{RunnerID: "r1", Event: "push"}, resp)

	require.Len(t, sink.delivered, 1)
	got := sink.delivered[0]
	assert.Equal(t, "r1", got.runnerID)
	assert.Equal(t, "push", got.event.Name)
	assert.JSONEq(t, string(body), string(got.event.Payload))
	assert.False(t, got.event.At.IsZero())
}

func TestWebhookWrapsNonJSONBody(t *testing.T) {
	sink := &fakeSink{running: map[string]bool{"r1": true}}
	h := newTestServer(sink, 0)
	body := []byte("plain text")

	rec := post(h, "/hooks/github/r1", body, Sign(testSecret, body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sink.delivered, 1)
	assert.Equal(t, `"plain text"`, string(sink.delivered[0].event.Payload))
}

func TestWebhookRejections(t *testing.T) {
	body := []byte(`{"ok":true}`)
	valid := Sign(testSecret, body)

	tests := []struct {
		name      string
		path      string
		body      []byte
		signature string
		maxBody   int64
		want      int
	}{
		{"missing signature", "/hooks/github/r1", body, "", 0, http.StatusForbidden},
		{"bad signature", "/hooks/github/r1", body, Sign("other", body), 0, http.StatusForbidden},
		{"unknown runner", "/hooks/github/nope", body, valid, 0, http.StatusNotFound},
		{"unknown endpoint", "/hooks/gitlab/r1", body, valid, 0, http.StatusNotFound},
		{"missing runner id", "/hooks/github", body, valid, 0, http.StatusNotFound},
		{"too large", "/hooks/github/r1", []byte(strings.Repeat("x", 64)), valid, 16, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{running: map[string]bool{"r1": true}}
			h := newTestServer(sink, tt.maxBody)

			rec := post(h, tt.path, tt.body, tt.signature)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, sink.delivered)

			if tt.want == http.StatusForbidden {
				var resp ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, "forbidden", resp.Error)
			}
		})
	}
}

func TestFromGlobalConfig(t *testing.T) {
	wc := &config.WebhooksConfig{
		Listen: ":9000",
		Endpoints: []config.WebhookEndpoint{{
			Path:            "/hooks/a/",
			Event:           "push",
			Secret:          "s",
			SignatureHeader: "X-Sig",
			MaxBodySize:     "2KiB",
		}},
	}

	cfg, err := FromGlobalConfig(wc)
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, "/hooks/a", cfg.Endpoints[0].Path)
	assert.Equal(t, int64(2048), cfg.Endpoints[0].MaxBodySize)

	_, err = FromGlobalConfig(nil)
	assert.Error(t, err)

	wc.Endpoints[0].Secret = ""
	_, err = FromGlobalConfig(wc)
	assert.Error(t, err)

	wc.Endpoints[0].Secret = "s"
	wc.Endpoints[0].MaxBodySize = "lots"
	_, err = FromGlobalConfig(wc)
	assert.Error(t, err)
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"1024", 1024, false},
		{"1KiB", 1024, false},
		{"1MB", 1000000, false},
		{"1mib", 1 << 20, false},
		{"2GiB", 2 << 30, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMaxBodySize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseMaxBodySize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
