package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/cancelctl"
	"github.com/waldiez/runner/internal/client"
	"github.com/waldiez/runner/internal/collector"
	"github.com/waldiez/runner/internal/mediator"
	"github.com/waldiez/runner/internal/objectstore"
	"github.com/waldiez/runner/internal/scheduler"
	"github.com/waldiez/runner/internal/store"
	"github.com/waldiez/runner/internal/task"
)

// integrationDeps wires the real Process Supervisor, I/O Mediator, Stream
// Bus (over miniredis), and Result Collector together, the way cmd/runner
// does, so these tests drive spec §8's scenarios end-to-end rather than
// through a fake Runner.
type integrationDeps struct {
	sched    *scheduler.Scheduler
	registry *task.Registry
	bus      *bus.RedisBus
	store    *store.SQLiteStore
}

func newIntegrationDeps(t *testing.T) *integrationDeps {
	t.Helper()

	st := newTestStore(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisBus := bus.NewRedisBus(redisClient)
	t.Cleanup(func() { _ = redisBus.Close() })

	registry := task.NewRegistry()
	med := mediator.New(redisBus, registry)

	objects, err := objectstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	coll := collector.New(objects, redisBus, med, 0)

	runner := scheduler.NewSupervisorRunner("redis://test", med)
	sched := scheduler.New(1, st, registry, nil, runner, nil, coll)

	return &integrationDeps{sched: sched, registry: registry, bus: redisBus, store: st}
}

func runSchedulerFor(t *testing.T, sched *scheduler.Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()
	<-done
}

const completionFlow = "#!/bin/sh\n" +
	`echo '{"type":"print","task_id":"'"$RUNNER_TASK_ID"'","timestamp":1,"data":"hello"}'` + "\n" +
	`echo '{"type":"termination","task_id":"'"$RUNNER_TASK_ID"'","timestamp":2,"data":null}'` + "\n" +
	"exit 0\n"

// TestEndToEnd_SimpleFlowCompletes drives spec §8's basic completion
// scenario through a real child process, the real Mediator, and a real
// (miniredis-backed) Stream Bus.
func TestEndToEnd_SimpleFlowCompletes(t *testing.T) {
	d := newIntegrationDeps(t)
	cl := &client.Record{ID: "c1"}

	id, err := d.sched.Submit(context.Background(), cl, []byte(completionFlow), scheduler.SubmitOptions{})
	require.NoError(t, err)

	runSchedulerFor(t, d.sched, 3*time.Second)

	record, err := d.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, record.Status)

	_, lookupErr := d.registry.Lookup(id)
	require.Error(t, lookupErr, "actor must be released from the registry on completion")

	envs, err := d.bus.XRange(context.Background(), bus.OutputStream(id), "-", "+")
	require.NoError(t, err)
	require.NotEmpty(t, envs, "the child's print envelope must reach the per-task output stream")
}

const duplicateInputRequestFlow = "#!/bin/sh\n" +
	`echo '{"type":"input_request","task_id":"'"$RUNNER_TASK_ID"'","timestamp":1,"request_id":"r1","data":"first?"}'` + "\n" +
	`echo '{"type":"input_request","task_id":"'"$RUNNER_TASK_ID"'","timestamp":2,"request_id":"r2","data":"second?"}'` + "\n" +
	"sleep 30\n" +
	"exit 0\n"

// TestEndToEnd_ProtocolViolationTerminatesChildAndReleasesActor is a
// regression test for the bug where a Mediator-detected protocol violation
// (duplicate outstanding input_request) failed the task's actor directly
// without ever signalling the still-running child, leaving it an orphan and
// the actor leaked in the registry (spec §8 scenario 7: "task becomes FAILED
// with reason=protocol ... no orphan pending entry remains").
func TestEndToEnd_ProtocolViolationTerminatesChildAndReleasesActor(t *testing.T) {
	d := newIntegrationDeps(t)
	cl := &client.Record{ID: "c1"}

	id, err := d.sched.Submit(context.Background(), cl, []byte(duplicateInputRequestFlow), scheduler.SubmitOptions{})
	require.NoError(t, err)

	// The flow's "sleep 30" would keep the child alive well past this
	// test's own timeout if it were not signalled; the scheduler must
	// finish (and release the actor) long before that.
	runSchedulerFor(t, d.sched, 5*time.Second)

	record, err := d.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, record.Status)
	require.Equal(t, task.ReasonProtocol, record.Reason)

	_, lookupErr := d.registry.Lookup(id)
	require.Error(t, lookupErr, "actor must be released even when the terminal transition happened out-of-band")
}

const blockingFlow = "#!/bin/sh\n" +
	`echo '{"type":"print","task_id":"'"$RUNNER_TASK_ID"'","timestamp":1,"data":"running"}'` + "\n" +
	"sleep 30\n" +
	"exit 0\n"

// TestEndToEnd_CancelTerminatesRunningChild drives spec §8's cancellation
// scenario: an administrator cancel delivered to a RUNNING task must
// terminate the live child and release its actor.
func TestEndToEnd_CancelTerminatesRunningChild(t *testing.T) {
	d := newIntegrationDeps(t)
	cl := &client.Record{ID: "c1"}

	id, err := d.sched.Submit(context.Background(), cl, []byte(blockingFlow), scheduler.SubmitOptions{})
	require.NoError(t, err)

	controller := cancelctl.New(d.registry, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = d.sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		actor, lookupErr := d.registry.Lookup(id)
		if lookupErr != nil {
			return false
		}
		return actor.Snapshot().Status == task.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	_, err = controller.Cancel(context.Background(), id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, lookupErr := d.registry.Lookup(id)
		return lookupErr != nil
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	record, err := d.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCancelled, record.Status)
}
