package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/envelope"
)

func newTestBus(t *testing.T) (*bus.RedisBus, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.NewRedisBus(client)
	return b, func() {
		_ = b.Close()
		mr.Close()
	}
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	b, cleanup := newTestBus(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	topic := bus.InputRequestTopic("t1")
	received, unsubscribe, err := b.Subscribe(ctx, topic)
	require.NoError(t, err)
	defer unsubscribe()

	env := envelope.InputRequest("t1", 100, "r1", "name?", false)
	require.NoError(t, b.Publish(ctx, topic, env))

	select {
	case got := <-received:
		require.Equal(t, env.TaskID, got.TaskID)
		require.Equal(t, env.Type, got.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published envelope")
	}
}

func TestXAddXRange_PreservesAppendOrder(t *testing.T) {
	b, cleanup := newTestBus(t)
	defer cleanup()

	ctx := context.Background()
	stream := bus.OutputStream("t1")

	for i, msg := range []string{"first", "second", "third"} {
		_, err := b.XAdd(ctx, stream, envelope.Print("t1", int64(i), msg))
		require.NoError(t, err)
	}

	entries, err := b.XRange(ctx, stream, "-", "+")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "first", entries[0].Data)
	require.Equal(t, "second", entries[1].Data)
	require.Equal(t, "third", entries[2].Data)
}

func TestDelete_RemovesStream(t *testing.T) {
	b, cleanup := newTestBus(t)
	defer cleanup()

	ctx := context.Background()
	stream := bus.OutputStream("t1")
	_, err := b.XAdd(ctx, stream, envelope.Print("t1", 1, "hello"))
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, stream))

	entries, err := b.XRange(ctx, stream, "-", "+")
	require.NoError(t, err)
	require.Empty(t, entries)
}
