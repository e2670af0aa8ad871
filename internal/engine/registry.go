package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when a run for the same event is already in flight.
var ErrRunInProgress = errors.New("run in progress")

// ActiveRun describes an in-flight run.
type ActiveRun struct {
	ID        string    `json:"run_id"`
	Event     string    `json:"event"`
	Contract  string    `json:"contract_address"`
	StartedAt time.Time `json:"started_at"`
}

// Registry tracks in-flight runs keyed by event table. At most one run per event may hold a slot.
type Registry struct {
	mu      sync.Mutex
	runs    map[string]ActiveRun
	nowFunc func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: map[string]ActiveRun{}, nowFunc: time.Now}
}

// Acquire claims the slot for event. The returned release func frees it and is safe to call
// more than once.
func (r *Registry) Acquire(event, contract string) (ActiveRun, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, busy := r.runs[event]; busy {
		return ActiveRun{}, nil, fmt.Errorf("%w: event %s (run %s)", ErrRunInProgress, event, cur.ID)
	}
	run := ActiveRun{
		ID:        uuid.NewString(),
		Event:     event,
		Contract:  contract,
		StartedAt: r.nowFunc().UTC(),
	}
	r.runs[event] = run

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if cur, ok := r.runs[event]; ok && cur.ID == run.ID {
				delete(r.runs, event)
			}
		})
	}
	return run, release, nil
}

// Active lists in-flight runs, oldest first.
func (r *Registry) Active() []ActiveRun {
	r.mu.Lock()
	out := make([]ActiveRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Event < out[j].Event
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
