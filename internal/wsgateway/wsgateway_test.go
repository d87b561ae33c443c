package wsgateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/waldiez/runner/internal/authn"
	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/envelope"
	"github.com/waldiez/runner/internal/task"
	"github.com/waldiez/runner/internal/wsgateway"
)

type fakeResponder struct {
	received []envelope.Envelope
}

func (f *fakeResponder) SubmitResponse(_ context.Context, env envelope.Envelope) error {
	f.received = append(f.received, env)
	return nil
}

func newRunningActor(t *testing.T, registry *task.Registry, id string) {
	t.Helper()
	rec := &task.Record{ID: id, ClientID: "c1", Status: task.StatusPending, CreatedAt: time.Now()}
	a := task.NewActor(rec, task.NopPersister{})
	require.NoError(t, registry.Register(id, a))
	_, err := a.Dispatch()
	require.NoError(t, err)
}

func newTestServer(t *testing.T) (*httptest.Server, *bus.RedisBus, *task.Registry, *fakeResponder) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.NewRedisBus(client)
	t.Cleanup(func() { _ = b.Close() })

	registry := task.NewRegistry()
	responder := &fakeResponder{}
	gw := wsgateway.New(authn.NopVerifier{}, b, registry, responder, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimPrefix(r.URL.Path, "/ws/")
		gw.ServeTask(w, r, taskID)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, b, registry, responder
}

func wsURL(srv *httptest.Server, taskID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + taskID
}

func TestServeTask_ForwardsOutputEnvelopeToClient(t *testing.T) {
	srv, b, registry, _ := newTestServer(t)
	newRunningActor(t, registry, "t1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "t1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let the subscribe establish before publish
	_, err = b.XAdd(context.Background(), bus.OutputStream("t1"), envelope.Print("t1", 1, "hello"))
	require.NoError(t, err)

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(payload), "hello")
}

func TestServeTask_RejectsUnknownTask(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "missing"), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeTask_ForwardsInputResponseToMediator(t *testing.T) {
	srv, _, registry, responder := newTestServer(t)
	newRunningActor(t, registry, "t2")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "t2"), nil)
	require.NoError(t, err)
	defer conn.Close()

	reqID := "r1"
	env := envelope.InputResponse("t2", 1, reqID, "answer")
	payload, err := env.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	require.Eventually(t, func() bool { return len(responder.received) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, "t2", responder.received[0].TaskID)
}
