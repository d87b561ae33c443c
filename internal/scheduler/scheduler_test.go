package scheduler_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waldiez/runner/internal/client"
	"github.com/waldiez/runner/internal/events"
	runnererrors "github.com/waldiez/runner/internal/errors"
	"github.com/waldiez/runner/internal/scheduler"
	"github.com/waldiez/runner/internal/store"
	"github.com/waldiez/runner/internal/task"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeOracle struct{ deny bool }

func (o fakeOracle) MayRun(context.Context, string) error {
	if o.deny {
		return runnererrors.New("permission", "MayRun", nil).WithKind(runnererrors.KindPermissionDenied)
	}
	return nil
}

// orderingRunner records the order tasks are dispatched to it and returns a
// COMPLETED result immediately, with no real child process involved.
type orderingRunner struct {
	mu    sync.Mutex
	order []string
}

func (r *orderingRunner) Run(_ context.Context, record *task.Record, _ []byte, _ *task.Actor) scheduler.RunResult {
	r.mu.Lock()
	r.order = append(r.order, record.ID)
	r.mu.Unlock()
	return scheduler.RunResult{Status: task.StatusCompleted}
}

func (r *orderingRunner) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestSubmit_DeniesOverQuota(t *testing.T) {
	st := newTestStore(t)
	registry := task.NewRegistry()
	runner := &orderingRunner{}
	sched := scheduler.New(1, st, registry, nil, runner, nil, nil)

	cl := &client.Record{ID: "c1", MaxActive: 1}
	_, err := sched.Submit(context.Background(), cl, []byte("flow"), scheduler.SubmitOptions{})
	require.NoError(t, err)

	_, err = sched.Submit(context.Background(), cl, []byte("flow"), scheduler.SubmitOptions{})
	require.Error(t, err)
}

func TestSubmit_DeniesOnPermissionRefusal(t *testing.T) {
	st := newTestStore(t)
	registry := task.NewRegistry()
	runner := &orderingRunner{}
	sched := scheduler.New(1, st, registry, fakeOracle{deny: true}, runner, nil, nil)

	cl := &client.Record{ID: "c1"}
	_, err := sched.Submit(context.Background(), cl, []byte("flow"), scheduler.SubmitOptions{})
	require.Error(t, err)
}

func TestRun_DispatchesSubmissionsInFIFOOrder(t *testing.T) {
	st := newTestStore(t)
	registry := task.NewRegistry()
	runner := &orderingRunner{}
	bus := events.NewBus()
	sched := scheduler.New(1, st, registry, nil, runner, bus, nil)

	cl := &client.Record{ID: "c1", MaxActive: 10}
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := sched.Submit(context.Background(), cl, []byte("flow"), scheduler.SubmitOptions{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(runner.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Equal(t, ids, runner.snapshot())
}

func TestRun_TerminalTransitionReleasesActorFromRegistry(t *testing.T) {
	st := newTestStore(t)
	registry := task.NewRegistry()
	runner := &orderingRunner{}
	sched := scheduler.New(1, st, registry, nil, runner, nil, nil)

	cl := &client.Record{ID: "c1"}
	id, err := sched.Submit(context.Background(), cl, []byte("flow"), scheduler.SubmitOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, lookupErr := registry.Lookup(id)
		return lookupErr != nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	record, err := st.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, record.Status)
}

// TestRun_CancelBeforeDispatchReleasesActorFromRegistry is a regression test
// for a task cancelled while still PENDING (§4.4): actor.Dispatch() then
// fails because the actor is already terminal, and that path must still
// release the actor rather than leaking it for the process lifetime.
func TestRun_CancelBeforeDispatchReleasesActorFromRegistry(t *testing.T) {
	st := newTestStore(t)
	registry := task.NewRegistry()
	runner := &orderingRunner{}
	sched := scheduler.New(1, st, registry, nil, runner, nil, nil)

	cl := &client.Record{ID: "c1"}
	id, err := sched.Submit(context.Background(), cl, []byte("flow"), scheduler.SubmitOptions{})
	require.NoError(t, err)

	actor, err := registry.Lookup(id)
	require.NoError(t, err)
	_, err = actor.Cancel()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, lookupErr := registry.Lookup(id)
		return lookupErr != nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Empty(t, runner.snapshot(), "a task cancelled before dispatch must never reach the runner")

	record, err := st.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCancelled, record.Status)
}

// preFailingRunner simulates the Mediator failing a task's actor for a
// protocol violation out-of-band, before the Runner's own Wait() call
// returns its terminal outcome for the same child exit.
type preFailingRunner struct{}

func (preFailingRunner) Run(_ context.Context, _ *task.Record, _ []byte, actor *task.Actor) scheduler.RunResult {
	_, _ = actor.Fail(task.ReasonProtocol, "duplicate outstanding input_request")
	return scheduler.RunResult{Status: task.StatusCompleted}
}

// TestRun_ReconcilesOutOfBandTerminalTransitionWithoutLeakingActor is a
// regression test: when the actor already reached a terminal state before
// the Runner's own terminal transition is applied, runOne must recover the
// already-journaled record (preserving its original reason) instead of
// erroring out of the cleanup path and leaking the actor in the registry.
func TestRun_ReconcilesOutOfBandTerminalTransitionWithoutLeakingActor(t *testing.T) {
	st := newTestStore(t)
	registry := task.NewRegistry()
	sched := scheduler.New(1, st, registry, nil, preFailingRunner{}, nil, nil)

	cl := &client.Record{ID: "c1"}
	id, err := sched.Submit(context.Background(), cl, []byte("flow"), scheduler.SubmitOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, lookupErr := registry.Lookup(id)
		return lookupErr != nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	record, err := st.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, record.Status)
	require.Equal(t, task.ReasonProtocol, record.Reason)
}
