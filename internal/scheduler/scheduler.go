// Package scheduler implements the Scheduler/Admission component (C5):
// admission checks (quota, permission), FIFO-per-client dispatch bounded by
// a global max_jobs worker pool, and the end-to-end per-task run loop that
// wires the Process Supervisor, the I/O Mediator's sink, and the Result
// Collector together, per spec §4.5.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/waldiez/runner/internal/client"
	"github.com/waldiez/runner/internal/events"
	"github.com/waldiez/runner/internal/logger"
	"github.com/waldiez/runner/internal/permission"
	"github.com/waldiez/runner/internal/store"
	"github.com/waldiez/runner/internal/task"
)

// SubmitOptions carries the per-task overrides accepted by submit, per §3.
type SubmitOptions struct {
	InputTimeoutSeconds int
	MaxDurationSeconds  int
}

// RunResult is the outcome of driving one task's flow to completion,
// returned by a Runner. WorkDir is the isolated working directory the
// Result Collector should archive and tear down; it is empty if the task
// never reached a running child (e.g. it failed to launch).
type RunResult struct {
	Status     task.Status
	Reason     task.Reason
	Diagnostic string
	WorkDir    string
}

// Runner launches a task's flow and drives it to a terminal outcome.
// Implemented by a thin adapter over internal/supervisor in production and
// by a fake in tests, to keep this package decoupled from process exec.
type Runner interface {
	Run(ctx context.Context, record *task.Record, flow []byte, actor *task.Actor) RunResult
}

// Collector is invoked on every terminal transition to drain output,
// archive artifacts, and tear down the isolated working directory, per
// §4.9. Implemented by internal/collector in production.
type Collector interface {
	Collect(ctx context.Context, record *task.Record, workDir string)
}

// nopCollector is used when no Collector is configured, so tests exercising
// only admission/dispatch need not provide one.
type nopCollector struct{}

func (nopCollector) Collect(context.Context, *task.Record, string) {}

// Scheduler is the Scheduler/Admission collaborator. One Scheduler instance
// owns the worker pool and dispatch queue for the whole process.
type Scheduler struct {
	maxJobs   int
	store     store.TaskStore
	registry  *task.Registry
	oracle    permission.Oracle
	runner    Runner
	bus       *events.Bus
	queue     *fifoQueue
	flows     *flowTable
	collector Collector
}

// New creates a Scheduler. maxJobs bounds the number of concurrently
// running workers, per §5's "parallel worker set of fixed size max_jobs".
// bus and collector may be nil; a nil bus skips event publication and a nil
// collector skips post-terminal cleanup.
func New(maxJobs int, taskStore store.TaskStore, registry *task.Registry, oracle permission.Oracle, runner Runner, bus *events.Bus, collector Collector) *Scheduler {
	if oracle == nil {
		oracle = permission.AllowAll{}
	}
	if collector == nil {
		collector = nopCollector{}
	}
	return &Scheduler{
		maxJobs:   maxJobs,
		store:     taskStore,
		registry:  registry,
		oracle:    oracle,
		runner:    runner,
		bus:       bus,
		queue:     newFIFOQueue(),
		flows:     newFlowTable(),
		collector: collector,
	}
}

// Submit performs admission checks and enqueues a new task, returning its
// id on success, per §4.5's admission policy (quota, then permission).
func (s *Scheduler) Submit(ctx context.Context, clientRecord *client.Record, flow []byte, opts SubmitOptions) (string, error) {
	if err := client.CheckQuota(clientRecord, s.registry); err != nil {
		return "", err
	}
	if err := s.oracle.MayRun(ctx, clientRecord.ID); err != nil {
		return "", err
	}

	id := uuid.NewString()
	record := &task.Record{
		ID:                  id,
		ClientID:            clientRecord.ID,
		FlowID:              id,
		StoredFilename:      id + ".flow",
		Status:              task.StatusPending,
		CreatedAt:           time.Now(),
		InputTimeoutSeconds: opts.InputTimeoutSeconds,
		MaxDurationSeconds:  opts.MaxDurationSeconds,
	}

	if err := s.store.CreateTask(ctx, record); err != nil {
		return "", err
	}

	actor := task.NewActor(record, s.store)
	if err := s.registry.Register(id, actor); err != nil {
		return "", err
	}

	s.flows.put(id, flow)
	s.queue.push(id)
	s.publish(events.TaskSubmitted, id, clientRecord.ID, nil)
	s.publish(events.QueueDepth, "", "", events.QueueDepthData{Depth: s.queue.len()})

	logger.TaskEvent(id, clientRecord.ID, "submitted")
	return id, nil
}

// Run starts maxJobs workers and blocks until ctx is cancelled. It then
// closes the queue, so later submissions are no longer enqueued; workers
// still dispatch the tasks already queued, and Run returns once the queue is
// drained and every worker has finished its current task.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.maxJobs; i++ {
		g.Go(func() error {
			s.worker(gctx)
			return nil
		})
	}

	<-ctx.Done()
	s.queue.close()
	return g.Wait()
}

// QueueDepth returns the current number of tasks waiting for a worker slot.
func (s *Scheduler) QueueDepth() int { return s.queue.len() }

// worker pulls one task at a time and runs it end-to-end, per §5's "each
// worker runs a single task end-to-end on its own logical thread of
// control" and "a worker holds at most one task at a time."
func (s *Scheduler) worker(ctx context.Context) {
	for {
		id, ok := s.queue.pop()
		if !ok {
			return
		}
		s.publish(events.QueueDepth, "", "", events.QueueDepthData{Depth: s.queue.len()})
		s.runOne(ctx, id)
	}
}

func (s *Scheduler) runOne(ctx context.Context, id string) {
	actor, err := s.registry.Lookup(id)
	if err != nil {
		logger.Warn("scheduler: task vanished from registry before dispatch", "task_id", id)
		return
	}
	flow, ok := s.flows.take(id)
	if !ok {
		logger.Warn("scheduler: flow blob missing for task", "task_id", id)
		return
	}

	record, err := actor.Dispatch()
	if err != nil {
		// The task was cancelled while still PENDING (§4.4): the actor is
		// already terminal and will never run, so it must still be released
		// from the registry instead of leaking for the process lifetime.
		logger.TaskFailed(id, "dispatch", err)
		snap := actor.Snapshot()
		s.collector.Collect(ctx, snap, "")
		s.registry.Release(id)
		return
	}

	s.publish(events.TaskDispatched, id, record.ClientID, nil)
	started := time.Now()

	result := s.runner.Run(ctx, record, flow, actor)

	final, err := s.transitionTerminal(actor, result)
	if err != nil {
		logger.TaskFailed(id, "terminal-transition", err)
		return
	}

	duration := time.Since(started)
	reason := string(final.Reason)
	if reason == "" {
		reason = "completed"
	}
	s.publish(reasonEventType(final.Status), id, final.ClientID, events.TaskTerminatedData{Duration: duration, Reason: reason})
	logger.TaskTransition(id, "RUNNING", string(final.Status), reason)

	s.collector.Collect(ctx, final, result.WorkDir)
	s.registry.Release(id)
}

// transitionTerminal applies the terminal transition implied by result. The
// actor may already have reached a terminal state out-of-band — e.g. the
// Mediator failing it with reason=protocol on a duplicate outstanding
// input_request — before the Runner's Wait() returned its own terminal
// outcome for the same child exit. In that case the requested transition is
// rejected by CanTransition; rather than erroring out of the cleanup path,
// recover the already-journaled record so the caller can still collect and
// release it.
func (s *Scheduler) transitionTerminal(actor *task.Actor, result RunResult) (*task.Record, error) {
	var final *task.Record
	var err error
	switch result.Status {
	case task.StatusCompleted:
		final, err = actor.Complete(result.Diagnostic)
	case task.StatusCancelled:
		final, err = actor.Cancel()
	default:
		final, err = actor.Fail(result.Reason, result.Diagnostic)
	}
	if err != nil {
		if snap := actor.Snapshot(); snap.Status.IsTerminal() {
			return snap, nil
		}
		return nil, err
	}
	return final, nil
}

func reasonEventType(status task.Status) events.Type {
	switch status {
	case task.StatusCompleted:
		return events.TaskCompleted
	case task.StatusCancelled:
		return events.TaskCancelled
	default:
		return events.TaskFailed
	}
}

func (s *Scheduler) publish(t events.Type, taskID, clientID string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&events.Event{Type: t, Timestamp: time.Now(), TaskID: taskID, ClientID: clientID, Data: data})
}
