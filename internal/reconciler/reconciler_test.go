package reconciler_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waldiez/runner/internal/reconciler"
	"github.com/waldiez/runner/internal/store"
	"github.com/waldiez/runner/internal/task"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "reconciler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReconcileOnce_FailsOrphanedRunningTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &task.Record{ID: "t1", ClientID: "c1", Status: task.StatusRunning, CreatedAt: time.Now().UTC(), StatusVersion: 0}
	require.NoError(t, s.CreateTask(ctx, rec))

	registry := task.NewRegistry()
	r := reconciler.New(s, registry)
	r.ReconcileOnce(ctx)

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Equal(t, task.ReasonInfrastructure, got.Reason)
}

func TestReconcileOnce_SkipsTaskOwnedByLiveActor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &task.Record{ID: "t2", ClientID: "c1", Status: task.StatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateTask(ctx, rec))

	registry := task.NewRegistry()
	actor := task.NewActor(rec, task.NopPersister{})
	require.NoError(t, registry.Register("t2", actor))

	r := reconciler.New(s, registry)
	r.ReconcileOnce(ctx)

	got, err := s.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, task.StatusRunning, got.Status)
}

func TestRun_StopsOnStop(t *testing.T) {
	s := newTestStore(t)
	registry := task.NewRegistry()
	r := reconciler.New(s, registry).WithInterval(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
