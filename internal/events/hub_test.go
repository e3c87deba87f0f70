package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRingBufferOverwritesOldest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("tick", map[string]int{"n": i})
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(5), snap[2].ID)

	since := h.SnapshotSince(4)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].ID)
}

func TestHubSubscribeReceivesEvents(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.PublishRunner(RunnerStarted, "r-1", map[string]string{"definition": "echo"})

	select {
	case ev := <-ch:
		assert.Equal(t, RunnerStarted, ev.Type)
		assert.Equal(t, "r-1", ev.RunnerID)
		assert.JSONEq(t, `{"definition":"echo"}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHubSubscribeRunnerFilters(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.SubscribeRunner("r-2")
	defer cancel()

	h.PublishRunner(RunnerUpdate, "r-1", nil)
	h.Publish("journal.pruned", nil)
	h.PublishRunner(RunnerFinished, "r-2", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, RunnerFinished, ev.Type)
		assert.Equal(t, "{}", string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	assert.Len(t, ch, 0)
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	h.Publish("after", nil)
}
