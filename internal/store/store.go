// Package store is the default Persistence collaborator (spec §6): task
// records are created, journaled, listed, and soft-deleted under optimistic
// concurrency keyed by task id + status version, per §5.
package store

import (
	"context"

	runnererrors "github.com/waldiez/runner/internal/errors"
	"github.com/waldiez/runner/internal/task"
)

// Page selects a slice of a client's task list, newest first.
type Page struct {
	Limit  int
	Offset int
}

// TaskStore is the persistence collaborator contract consumed by the
// Scheduler, the HTTP task-facing surface, and the Result Collector. It
// implements task.Persister so an Actor can journal directly against it.
type TaskStore interface {
	task.Persister

	// CreateTask inserts a new task record. Returns KindConflict if the id
	// already exists.
	CreateTask(ctx context.Context, record *task.Record) error

	// GetTask returns the task with the given id, or KindNotFound.
	GetTask(ctx context.Context, id string) (*task.Record, error)

	// ListTasks returns a client's tasks, newest first, excluding
	// soft-deleted rows unless includeDeleted is true.
	ListTasks(ctx context.Context, clientID string, page Page, includeDeleted bool) ([]*task.Record, error)

	// SoftDelete marks a task as deleted. A non-terminal task can only be
	// soft-deleted when force is true (per §6's force-delete affordance for
	// abandoned tasks); terminal tasks can always be soft-deleted.
	SoftDelete(ctx context.Context, id string, force bool) error

	// ListByStatus returns every task (across clients) currently in status,
	// used by the reconciler to find tasks orphaned by a crash-restart.
	ListByStatus(ctx context.Context, status task.Status) ([]*task.Record, error)

	// Close releases the underlying connection.
	Close() error
}

func notFound(op string) error {
	return runnererrors.New("store", op, nil).WithKind(runnererrors.KindNotFound)
}

func conflict(op string, cause error) error {
	return runnererrors.New("store", op, cause).WithKind(runnererrors.KindConflict)
}

func unavailable(op string, cause error) error {
	return runnererrors.New("store", op, cause).WithKind(runnererrors.KindPersistenceUnavailable)
}
