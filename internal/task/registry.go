package task

import (
	"sync"

	runnererrors "github.com/waldiez/runner/internal/errors"
)

// Registry owns the live Actors for in-flight tasks. Other components
// (Mediator, Gateway, Cancellation Controller) look an Actor up by task_id
// rather than holding a direct reference, per the "Cyclic references" design
// note: the Mediator holds only a weak reference via this registry, so the
// actor's lifetime is governed solely by the Registry and the task's
// terminal transition.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*Actor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actors: make(map[string]*Actor)}
}

// Register adds an Actor for a freshly created task. Returns KindConflict if
// an actor is already registered for that id.
func (r *Registry) Register(id string, a *Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actors[id]; exists {
		return runnererrors.New("task", "Register", nil).WithKind(runnererrors.KindConflict)
	}
	r.actors[id] = a
	return nil
}

// Lookup returns the Actor for a task id, or KindNotFound.
func (r *Registry) Lookup(id string) (*Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	if !ok {
		return nil, runnererrors.New("task", "Lookup", nil).WithKind(runnererrors.KindNotFound)
	}
	return a, nil
}

// Release removes the Actor for a terminal task, freeing it for garbage
// collection once the Result Collector has finished draining it, per the
// "Scoped resources" design note: the actor is registered on submit and
// released after its terminal transition.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, id)
}

// ActiveCount returns the number of non-terminal tasks owned by clientID,
// for quota enforcement (§3, §4.5).
func (r *Registry) ActiveCount(clientID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, a := range r.actors {
		snap := a.Snapshot()
		if snap.ClientID == clientID && snap.IsActive() {
			count++
		}
	}
	return count
}

// Snapshot returns a point-in-time copy of every registered record.
func (r *Registry) Snapshot() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.actors))
	for _, a := range r.actors {
		out = append(out, a.Snapshot())
	}
	return out
}
