// Package reconciler implements the periodic task reaper supplementing
// spec.md's distillation (§6's "scheduler" CLI subcommand): the task
// Registry is in-memory and starts empty on every process restart, so any
// task persisted as RUNNING or WAITING_FOR_INPUT at startup has no live
// supervisor.Handle left to finish it. Grounded on the teacher's
// evictionLoop/evictTerminalTasks ticker shape (server/a2a/server.go),
// generalized from TTL-based eviction to orphan detection.
package reconciler

import (
	"context"
	"time"

	"github.com/waldiez/runner/internal/logger"
	"github.com/waldiez/runner/internal/store"
	"github.com/waldiez/runner/internal/task"
)

// DefaultInterval is how often ReconcileOnce runs under Run.
const DefaultInterval = time.Minute

// orphanCandidates are the non-terminal statuses a crash can strand a task
// in; WAITING_FOR_INPUT included since its timer also dies with the process.
var orphanCandidates = []task.Status{task.StatusRunning, task.StatusWaitingForInput}

// Reconciler periodically fails tasks abandoned by a prior process.
type Reconciler struct {
	store    store.TaskStore
	registry *task.Registry
	interval time.Duration
	stopCh   chan struct{}
}

// New constructs a Reconciler polling at DefaultInterval.
func New(taskStore store.TaskStore, registry *task.Registry) *Reconciler {
	return &Reconciler{
		store:    taskStore,
		registry: registry,
		interval: DefaultInterval,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval overrides the polling interval.
func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	r.interval = d
	return r
}

// Run blocks, reconciling once immediately and then on every tick, until ctx
// is cancelled or Stop is called.
func (r *Reconciler) Run(ctx context.Context) {
	r.ReconcileOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// Stop ends a running Run loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// ReconcileOnce runs a single sweep: any orphan-candidate task with no live
// registry entry is failed with reason infrastructure.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	for _, status := range orphanCandidates {
		orphans, err := r.store.ListByStatus(ctx, status)
		if err != nil {
			logger.Error("reconciler: list failed", "status", string(status), "error", err)
			continue
		}
		for _, record := range orphans {
			if _, err := r.registry.Lookup(record.ID); err == nil {
				continue // a live actor already owns this task
			}
			r.failOrphan(record)
		}
	}
}

func (r *Reconciler) failOrphan(record *task.Record) {
	actor := task.NewActor(record, r.store)
	if _, err := actor.Fail(task.ReasonInfrastructure, "orphaned: no live supervisor after restart"); err != nil {
		logger.Error("reconciler: fail orphan failed", "task_id", record.ID, "error", err)
		return
	}
	logger.TaskEvent(record.ID, record.ClientID, "reconciled_orphan")
}
