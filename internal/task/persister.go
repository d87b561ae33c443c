package task

// Persister is the narrow journaling contract the Actor calls before
// notifying observers of a transition, per §4.4: "Each transition is
// journaled to the persistence collaborator before observers are notified,
// so that a crash-restart never observes a state older than what external
// consumers have seen." The richer create/list/soft-delete surface the
// Scheduler and HTTP layer use lives in internal/store.TaskStore, which
// implements Persister.
type Persister interface {
	// Journal persists the given record's current status and version,
	// using CAS on the record's prior status to detect races. Implementations
	// should treat a CAS mismatch as KindConflict.
	Journal(record *Record, from Status) error
}

// NopPersister discards all journal calls, used by tests that do not need a
// backing store and by NewActor when it is given a nil persister.
type NopPersister struct{}

// Journal implements Persister by doing nothing and always succeeding.
func (NopPersister) Journal(*Record, Status) error { return nil }
