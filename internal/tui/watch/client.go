package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/runnerd/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status            string `json:"status"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	ActiveRunners     int    `json:"active_runners"`
	DefinitionsLoaded int    `json:"definitions_loaded"`
}

// runnerSummary is the subset of the API's step snapshot the TUI shows.
type runnerSummary struct {
	RunnerID    string     `json:"runner_id"`
	Definition  string     `json:"definition"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExitStatus  *int       `json:"exit_status,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	Progress    *struct {
		Done    float64 `json:"done"`
		Message string  `json:"message,omitempty"`
	} `json:"progress,omitempty"`
}

type runnersMsg struct {
	Runners []runnerSummary `json:"runners"`
}

type cancelledMsg struct{ runnerID string }

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Client talks to the runnerd API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// Health queries /healthz.
func (c *Client) Health(ctx context.Context) (healthMsg, error) {
	var h healthMsg
	err := c.getJSON(ctx, "/healthz", &h)
	return h, err
}

// Runners queries /runners.
func (c *Client) Runners(ctx context.Context) (runnersMsg, error) {
	var r runnersMsg
	err := c.getJSON(ctx, "/runners", &r)
	return r, err
}

// Cancel asks the dispatcher to kill a runner.
func (c *Client) Cancel(ctx context.Context, runnerID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/runners/"+runnerID+"/cancel")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("cancel %s: %s", runnerID, resp.Status)
	}
	return nil
}

// Stream reads /events until the connection drops or ctx ends, sending each
// event to ch.
func (c *Client) Stream(ctx context.Context, ch chan<- events.Event) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/events")
	if err != nil {
		return err
	}
	// The stream outlives the request timeout of c.http.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /events: %s", resp.Status)
	}
	return readSSE(resp.Body, ch)
}

// readSSE parses an SSE stream whose data lines carry JSON-encoded events.
func readSSE(r io.Reader, ch chan<- events.Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		id   int64
		typ  string
		data string
	)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data != "" {
				var ev events.Event
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					ev = events.Event{Data: json.RawMessage(data), At: time.Now()}
				}
				if ev.ID == 0 {
					ev.ID = id
				}
				if ev.Type == "" {
					ev.Type = typ
				}
				ch <- ev
			}
			id, typ, data = 0, "", ""
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if n, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				id = n
			}
		case strings.HasPrefix(line, "event: "):
			typ = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
	return scanner.Err()
}

// --- Commands ---

// subscribeToEvents feeds the SSE stream into ch and reports the disconnect.
func subscribeToEvents(c *Client, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		_ = c.Stream(context.Background(), ch)
		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(c *Client) tea.Cmd {
	return func() tea.Msg {
		h, err := c.Health(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return h
	}
}

func fetchRunners(c *Client) tea.Cmd {
	return func() tea.Msg {
		r, err := c.Runners(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return r
	}
}

func cancelRunner(c *Client, runnerID string) tea.Cmd {
	return func() tea.Msg {
		if err := c.Cancel(context.Background(), runnerID); err != nil {
			return errMsg(err)
		}
		return cancelledMsg{runnerID: runnerID}
	}
}
