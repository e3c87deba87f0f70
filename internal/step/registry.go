package step

import (
	"sort"
	"sync"
)

// DefaultRetained is how many finished steps a Registry keeps by default.
const DefaultRetained = 256

// Registry indexes steps by runner id. Finished steps beyond the retention
// limit are evicted oldest first.
type Registry struct {
	mu       sync.Mutex
	steps    map[string]*Step
	order    []string
	retained int
}

func NewRegistry(retained int) *Registry {
	if retained <= 0 {
		retained = DefaultRetained
	}
	return &Registry{
		steps:    make(map[string]*Step),
		retained: retained,
	}
}

func (r *Registry) Put(s *Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[s.runnerID]; !exists {
		r.order = append(r.order, s.runnerID)
	}
	r.steps[s.runnerID] = s
	r.evictLocked()
}

func (r *Registry) Get(runnerID string) (*Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.steps[runnerID]
	return s, ok
}

// List returns snapshots of every retained step ordered by runner id.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	steps := make([]*Step, 0, len(r.steps))
	for _, s := range r.steps {
		steps = append(steps, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunnerID < out[j].RunnerID })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

func (r *Registry) evictLocked() {
	finished := 0
	for _, id := range r.order {
		if r.steps[id].IsFinished() {
			finished++
		}
	}
	if finished <= r.retained {
		return
	}

	kept := r.order[:0]
	for _, id := range r.order {
		if finished > r.retained && r.steps[id].IsFinished() {
			delete(r.steps, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
