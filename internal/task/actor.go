package task

import (
	"sync"
	"time"

	runnererrors "github.com/waldiez/runner/internal/errors"
)

// Event is published to an Actor's observers after a transition has been
// journaled. Observers are the Mediator, Gateway, and Scheduler dispatch
// loop — never direct mutators of Record.
type Event struct {
	Record *Record
	From   Status
	To     Status
}

// eventBuffer bounds the per-observer channel so a slow observer cannot
// block the actor's single-writer loop; events are dropped for that
// observer rather than stalling transitions, mirroring the teacher's
// broadcaster drop-on-full policy.
const eventBuffer = 32

// observer holds a subscriber channel for actor events.
type observer struct {
	ch chan Event
}

// Actor is the single-writer control plane for one task's transient state,
// per the "Global mutable state" design note: the PendingInputTable and
// status writer are modeled as a per-task singleton actor that owns its own
// state, reached only through the transition methods below — never by
// mutating a shared map directly.
type Actor struct {
	mu        sync.Mutex
	record    *Record
	persister Persister

	obsMu     sync.Mutex
	observers []*observer
	closed    bool
}

// NewActor creates an Actor owning the given record. persister is called
// synchronously, inside the lock, before observers are notified.
func NewActor(record *Record, persister Persister) *Actor {
	if persister == nil {
		persister = NopPersister{}
	}
	return &Actor{record: record, persister: persister}
}

// Snapshot returns a deep copy of the current record, safe to hand to
// callers outside the actor.
func (a *Actor) Snapshot() *Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.clone()
}

// Subscribe registers an observer and returns its channel plus an unsubscribe
// function. Subscribers that are slow relative to transitions may miss
// events; callers that need a full history should read Snapshot on connect.
func (a *Actor) Subscribe() (<-chan Event, func()) {
	obs := &observer{ch: make(chan Event, eventBuffer)}
	a.obsMu.Lock()
	if a.closed {
		a.obsMu.Unlock()
		close(obs.ch)
		return obs.ch, func() {}
	}
	a.observers = append(a.observers, obs)
	a.obsMu.Unlock()

	unsubscribe := func() {
		a.obsMu.Lock()
		defer a.obsMu.Unlock()
		for i, o := range a.observers {
			if o == obs {
				a.observers = append(a.observers[:i], a.observers[i+1:]...)
				close(o.ch)
				return
			}
		}
	}
	return obs.ch, unsubscribe
}

// notify fans the event out to all current observers, dropping it for any
// subscriber whose buffer is full rather than blocking the actor.
func (a *Actor) notify(evt Event) {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	for _, o := range a.observers {
		select {
		case o.ch <- evt:
		default:
		}
	}
}

// closeObservers closes every observer channel; called once the task
// reaches a terminal state and no further events will be produced.
func (a *Actor) closeObservers() {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for _, o := range a.observers {
		close(o.ch)
	}
	a.observers = nil
}

// transition applies a guarded status change under the actor's lock,
// journals it, and notifies observers. mutate may adjust other record
// fields (timestamps, reason, diagnostic, input_request_id) consistent with
// the target status.
func (a *Actor) transition(to Status, mutate func(*Record)) (*Record, error) {
	a.mu.Lock()
	from := a.record.Status
	if from == to {
		// Idempotent no-op path (e.g. duplicate cancel of a terminal task).
		snap := a.record.clone()
		a.mu.Unlock()
		return snap, nil
	}
	if !CanTransition(from, to) {
		snap := a.record.clone()
		a.mu.Unlock()
		return snap, newTransitionError("task", "transition", from, to)
	}

	a.record.Status = to
	a.record.StatusVersion++
	if mutate != nil {
		mutate(a.record)
	}
	if to.IsTerminal() {
		now := time.Now()
		a.record.EndedAt = &now
		a.record.InputRequestID = nil
	}

	if err := a.persister.Journal(a.record, from); err != nil {
		// Roll back in-memory state: the journal is authoritative.
		a.record.Status = from
		a.record.StatusVersion--
		a.mu.Unlock()
		return nil, runnererrors.New("task", "Journal", err).WithKind(runnererrors.KindPersistenceUnavailable)
	}

	snap := a.record.clone()
	a.mu.Unlock()

	a.notify(Event{Record: snap, From: from, To: to})
	if to.IsTerminal() {
		a.closeObservers()
	}
	return snap, nil
}

// Dispatch moves PENDING -> RUNNING. Owned by the Scheduler.
func (a *Actor) Dispatch() (*Record, error) {
	return a.transition(StatusRunning, func(r *Record) {
		now := time.Now()
		r.StartedAt = &now
	})
}

// RequestInput moves RUNNING -> WAITING_FOR_INPUT, recording the outstanding
// request id. Owned by the Mediator.
func (a *Actor) RequestInput(requestID string) (*Record, error) {
	return a.transition(StatusWaitingForInput, func(r *Record) {
		r.InputRequestID = &requestID
	})
}

// ResolveInput moves WAITING_FOR_INPUT -> RUNNING, clearing the outstanding
// request id. Owned by the Mediator, called either on a matched response or
// on input-timeout fire.
func (a *Actor) ResolveInput() (*Record, error) {
	return a.transition(StatusRunning, func(r *Record) {
		r.InputRequestID = nil
	})
}

// Complete moves RUNNING|WAITING_FOR_INPUT -> COMPLETED. Owned by the Supervisor.
func (a *Actor) Complete(results any) (*Record, error) {
	return a.transition(StatusCompleted, func(r *Record) {
		r.Results = results
	})
}

// Fail moves RUNNING|WAITING_FOR_INPUT -> FAILED with the given reason and
// opaque diagnostic. Owned by the Supervisor (exit status) or the Mediator
// (protocol violation).
func (a *Actor) Fail(reason Reason, diagnostic string) (*Record, error) {
	return a.transition(StatusFailed, func(r *Record) {
		r.Reason = reason
		r.Diagnostic = diagnostic
	})
}

// Cancel moves any non-terminal state -> CANCELLED. Owned exclusively by the
// Cancellation Controller. Idempotent: cancelling a terminal task returns the
// current record without error, per §4.8.
func (a *Actor) Cancel() (*Record, error) {
	a.mu.Lock()
	if a.record.Status.IsTerminal() {
		snap := a.record.clone()
		a.mu.Unlock()
		return snap, nil
	}
	a.mu.Unlock()
	return a.transition(StatusCancelled, func(r *Record) {
		r.Reason = ReasonCancelled
	})
}
