// Package wsgateway implements the WebSocket Gateway (C6): a per-connection
// duplex bridge between a single task's output stream and its owning
// client, authenticating over any of the four channels named in spec §6
// and enforcing the input_response-only inbound contract of §4.6.
package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waldiez/runner/internal/authn"
	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/envelope"
	runnererrors "github.com/waldiez/runner/internal/errors"
	"github.com/waldiez/runner/internal/logger"
	"github.com/waldiez/runner/internal/task"
)

// codeAuthRevoked is the gateway-specific close code for "auth lost or
// revoked mid-connection", distinct from the generic 1008 policy-violation
// code returned for handshake-time rejections, per §4.6.
const codeAuthRevoked = 4003

// Responder forwards an input_response envelope to the I/O Mediator.
// Implemented by *mediator.Mediator.
type Responder interface {
	SubmitResponse(ctx context.Context, env envelope.Envelope) error
}

// Gateway upgrades authenticated HTTP requests to per-task WebSocket
// connections and bridges them to the Stream Bus.
type Gateway struct {
	verifier  authn.Verifier
	bus       bus.Bus
	registry  *task.Registry
	responder Responder
	upgrader  websocket.Upgrader
}

// New constructs a Gateway. checkOrigin is passed through to the underlying
// gorilla/websocket Upgrader for the "trusted origins for CORS and WS"
// environment requirement (§6). A nil checkOrigin leaves gorilla's default
// check in place: a request whose Origin header names a host other than the
// request's Host is rejected, and a request without an Origin header is
// accepted.
func New(verifier authn.Verifier, b bus.Bus, registry *task.Registry, responder Responder, checkOrigin func(*http.Request) bool) *Gateway {
	return &Gateway{
		verifier:  verifier,
		bus:       b,
		registry:  registry,
		responder: responder,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// ServeTask handles one WebSocket connection bound to taskID, per §4.6's
// per-connection contract. The caller's router is expected to extract
// taskID from the request path before calling this.
func (g *Gateway) ServeTask(w http.ResponseWriter, r *http.Request, taskID string) {
	token := authn.ExtractToken(r)
	if _, err := g.verifier.Verify(token); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if _, err := g.registry.Lookup(taskID); err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("wsgateway: upgrade failed", "task_id", taskID, "error", err)
		return
	}
	defer conn.Close()

	from := bus.FromLatest
	if r.URL.Query().Get("replay") == "earliest" {
		from = bus.FromEarliest
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	envelopes, unsubscribe, err := g.bus.XSubscribe(ctx, bus.OutputStream(taskID), from)
	if err != nil {
		g.closeWithKind(conn, err)
		return
	}
	defer unsubscribe()

	done := make(chan struct{})
	go g.readInbound(ctx, conn, taskID, done)

	for {
		select {
		case env, ok := <-envelopes:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			payload, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readInbound reads client frames, accepting only input_response envelopes
// per §4.6, and forwards them to the Mediator.
func (g *Gateway) readInbound(ctx context.Context, conn *websocket.Conn, taskID string, done chan<- struct{}) {
	defer close(done)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := envelope.Unmarshal(payload)
		if err != nil || env.Type != envelope.TypeInputResponse || env.TaskID != taskID {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "input_response only"))
			return
		}
		if err := g.responder.SubmitResponse(ctx, env); err != nil {
			logger.EnvelopeDropped(taskID, string(env.Type), err.Error())
		}
	}
}

func (g *Gateway) closeWithKind(conn *websocket.Conn, err error) {
	code := websocket.CloseInternalServerErr
	if ce, ok := err.(*runnererrors.ContextualError); ok {
		code = ce.WSCloseCode()
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
}

// RevokeAuth closes conn with the gateway's auth-revoked close code,
// instructing the client it may re-auth and reconnect, per §4.6.
func RevokeAuth(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(codeAuthRevoked, "auth revoked"),
		time.Now().Add(time.Second))
}
