package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Runner lifecycle event types.
const (
	RunnerStarted  = "runner.started"
	RunnerUpdate   = "runner.update"
	RunnerError    = "runner.error"
	RunnerFinished = "runner.finished"

	RunnerAbandoned = "runner.abandoned"
	JournalPruned   = "journal.pruned"
)

type Event struct {
	ID       int64           `json:"id"`
	Type     string          `json:"type"`
	RunnerID string          `json:"runner_id,omitempty"`
	At       time.Time       `json:"at"`
	Data     json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]subscription
	nextSubID int
}

type subscription struct {
	ch       chan Event
	runnerID string // empty = all runners
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscription),
	}
}

// Publish emits an event not tied to a runner.
func (h *Hub) Publish(eventType string, data any) {
	h.PublishRunner(eventType, "", data)
}

// PublishRunner emits an event about one runner.
func (h *Hub) PublishRunner(eventType, runnerID string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	// Assigned under the lock so ring order matches id order.
	ev := Event{
		ID:       h.nextID.Add(1),
		Type:     eventType,
		RunnerID: runnerID,
		At:       time.Now().UTC(),
		Data:     payload,
	}
	h.pushLocked(ev)
	for _, sub := range h.subs {
		if sub.runnerID != "" && sub.runnerID != runnerID {
			continue
		}
		// Don't let slow clients block producers.
		select {
		case sub.ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns every future event.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	return h.SubscribeRunner("")
}

// SubscribeRunner returns future events of one runner. An empty id matches all.
func (h *Hub) SubscribeRunner(runnerID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = subscription{ch: ch, runnerID: runnerID}

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
