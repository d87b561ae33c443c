package collector_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/collector"
	"github.com/waldiez/runner/internal/envelope"
	"github.com/waldiez/runner/internal/objectstore"
	"github.com/waldiez/runner/internal/task"
)

type fakeDiscarder struct {
	discarded []string
}

func (f *fakeDiscarder) Discard(taskID string) {
	f.discarded = append(f.discarded, taskID)
}

func newTestBus(t *testing.T) *bus.RedisBus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.NewRedisBus(client)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestCollect_ArchivesWorkDirAndTearsItDown(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "output.txt"), []byte("hello"), 0o600))

	store, err := objectstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	discarder := &fakeDiscarder{}

	c := collector.New(store, nil, discarder, 0)
	record := &task.Record{ID: "t1", Status: task.StatusCompleted}
	c.Collect(context.Background(), record, workDir)

	_, err = os.Stat(workDir)
	require.Error(t, err, "workdir should be torn down")

	r, err := store.Get(context.Background(), collector.ArchiveKey("t1"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	require.Equal(t, []string{"t1"}, discarder.discarded)
}

func TestCollect_SkipsArchiveWhenWorkDirEmpty(t *testing.T) {
	store, err := objectstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	discarder := &fakeDiscarder{}

	c := collector.New(store, nil, discarder, 0)
	record := &task.Record{ID: "t2", Status: task.StatusFailed}
	c.Collect(context.Background(), record, "")

	_, err = store.Get(context.Background(), collector.ArchiveKey("t2"))
	require.Error(t, err)
	require.Equal(t, []string{"t2"}, discarder.discarded)
}

func TestCollect_DeletesStreamAfterRetentionWindow(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	_, err := b.XAdd(ctx, bus.OutputStream("t3"), envelope.Print("t3", 1, "hi"))
	require.NoError(t, err)

	c := collector.New(nil, b, &fakeDiscarder{}, 20*time.Millisecond)
	c.Collect(ctx, &task.Record{ID: "t3", Status: task.StatusCompleted}, "")

	require.Eventually(t, func() bool {
		envs, err := b.XRange(ctx, bus.OutputStream("t3"), "-", "+")
		return err == nil && len(envs) == 0
	}, time.Second, 10*time.Millisecond)
}
