// Package mediator implements the I/O Mediator (C2): it routes envelopes
// between the child process and the Stream Bus, owns the PendingInputTable,
// and is the sole owner of WAITING_FOR_INPUT<->RUNNING flips, per spec §4.2.
package mediator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/envelope"
	runnererrors "github.com/waldiez/runner/internal/errors"
	"github.com/waldiez/runner/internal/logger"
	"github.com/waldiez/runner/internal/task"
)

// defaultInputTimeout applies when a task's InputTimeoutSeconds is unset,
// per §6's "default input_timeout seconds" environment option (e.g. 180s;
// the operative default lives in internal/config, this is the mediator's
// own fallback when a caller omits it entirely).
const defaultInputTimeout = 180 * time.Second

// Mediator is the single-writer-per-task I/O router. One Mediator instance
// serves every task; per-task mutual exclusion is provided by the pending
// map's lock plus the Actor's own single-writer transition method, mirroring
// the "Global mutable state" design note's per-task singleton actor shape
// generalized to runtime/events/bus.go's listener-dispatch style.
type Mediator struct {
	bus      bus.Bus
	registry *task.Registry

	defaultInputTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEntry // task_id -> outstanding entry
}

// Option configures a Mediator.
type Option func(*Mediator)

// WithDefaultInputTimeout overrides defaultInputTimeout with the operator's
// configured default_input_timeout_seconds (§6), applied whenever a task
// omits InputTimeoutSeconds entirely. Zero leaves the package default.
func WithDefaultInputTimeout(d time.Duration) Option {
	return func(m *Mediator) {
		if d > 0 {
			m.defaultInputTimeout = d
		}
	}
}

// New constructs a Mediator over the given Stream Bus and task Registry.
func New(b bus.Bus, registry *task.Registry, opts ...Option) *Mediator {
	m := &Mediator{
		bus:                 b,
		registry:            registry,
		defaultInputTimeout: defaultInputTimeout,
		pending:             make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// HandleChildEnvelope implements the sink side (§4.2): envelopes emitted by
// the child process, delivered here by the Process Supervisor.
func (m *Mediator) HandleChildEnvelope(ctx context.Context, env envelope.Envelope) error {
	switch env.Type {
	case envelope.TypePrint, envelope.TypeTermination:
		return m.publishOutput(ctx, env)
	case envelope.TypeInputRequest:
		return m.handleInputRequest(ctx, env)
	default:
		return runnererrors.New("mediator", "HandleChildEnvelope", nil).
			WithKind(runnererrors.KindProtocolViolation).
			WithDetails(map[string]any{"task_id": env.TaskID, "type": string(env.Type)})
	}
}

func (m *Mediator) publishOutput(ctx context.Context, env envelope.Envelope) error {
	if _, err := m.bus.XAdd(ctx, bus.OutputStream(env.TaskID), env); err != nil {
		return err
	}
	_, err := m.bus.XAdd(ctx, bus.GlobalOutputStream, env)
	return err
}

func (m *Mediator) handleInputRequest(ctx context.Context, env envelope.Envelope) error {
	actor, err := m.registry.Lookup(env.TaskID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.pending[env.TaskID]; exists {
		m.mu.Unlock()
		_, _ = actor.Fail(task.ReasonProtocol, "duplicate outstanding input_request")
		return runnererrors.New("mediator", "handleInputRequest", nil).
			WithKind(runnererrors.KindProtocolViolation).
			WithDetails(map[string]any{"task_id": env.TaskID})
	}

	requestID := uuid.NewString()
	if env.RequestID != nil && *env.RequestID != "" {
		requestID = *env.RequestID
	}

	record := actor.Snapshot()
	timeout := time.Duration(record.InputTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = m.defaultInputTimeout
	}
	entry := &pendingEntry{
		requestID: requestID,
		taskID:    env.TaskID,
		createdAt: time.Now(),
		deadline:  time.Now().Add(timeout),
	}
	entry.timer = time.AfterFunc(timeout, func() { m.fireTimeout(env.TaskID) })
	m.pending[env.TaskID] = entry
	m.mu.Unlock()

	if _, err := actor.RequestInput(requestID); err != nil {
		m.discard(env.TaskID)
		return err
	}

	out := envelope.InputRequest(env.TaskID, env.Timestamp, requestID, env.Data, env.Password != nil && *env.Password)
	return m.bus.Publish(ctx, bus.InputRequestTopic(env.TaskID), out)
}

// SubmitResponse implements the source side (§4.2): input_response
// envelopes arrive here from either the WebSocket Gateway (C6) or the Input
// Endpoint (C7).
func (m *Mediator) SubmitResponse(ctx context.Context, env envelope.Envelope) error {
	if env.Type != envelope.TypeInputResponse {
		return runnererrors.New("mediator", "SubmitResponse", nil).WithKind(runnererrors.KindValidationFailed)
	}

	actor, err := m.registry.Lookup(env.TaskID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	entry, ok := m.pending[env.TaskID]
	if !ok {
		m.mu.Unlock()
		return runnererrors.New("mediator", "SubmitResponse", nil).WithKind(runnererrors.KindNotWaiting)
	}
	if env.RequestID == nil || *env.RequestID != entry.requestID {
		m.mu.Unlock()
		return runnererrors.New("mediator", "SubmitResponse", nil).WithKind(runnererrors.KindInputMismatch)
	}
	entry.stop()
	delete(m.pending, env.TaskID)
	m.mu.Unlock()

	if _, err := actor.ResolveInput(); err != nil {
		return err
	}
	return m.bus.Publish(ctx, bus.InputResponseTopic(env.TaskID), env)
}

// fireTimeout synthesizes a default newline response when the outstanding
// prompt's deadline elapses before any response arrives, per §4.2: "the
// Mediator synthesizes a default response ... as if the child had received
// it".
func (m *Mediator) fireTimeout(taskID string) {
	m.mu.Lock()
	entry, ok := m.pending[taskID]
	if ok {
		delete(m.pending, taskID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	actor, err := m.registry.Lookup(taskID)
	if err != nil {
		return
	}
	if _, err := actor.ResolveInput(); err != nil {
		logger.ProtocolViolation(taskID, "input-timeout resolve failed", "error", err)
		return
	}

	ctx := context.Background()
	synthetic := envelope.InputResponse(taskID, nowMillis(), entry.requestID, "\n")
	if err := m.bus.Publish(ctx, bus.InputResponseTopic(taskID), synthetic); err != nil {
		logger.ProtocolViolation(taskID, "input-timeout publish failed", "error", err)
	}
	hint := envelope.Termination(taskID, nowMillis(), map[string]any{"reason": "input_timeout"})
	if err := m.publishOutput(ctx, hint); err != nil {
		logger.ProtocolViolation(taskID, "input-timeout hint publish failed", "error", err)
	}
}

// Discard drops any outstanding pending entry for a task without resolving
// it, per §5: "pending input entries are discarded on terminal transition."
// The Result Collector calls this once a task reaches a terminal state.
func (m *Mediator) Discard(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.pending[taskID]; ok {
		entry.stop()
		delete(m.pending, taskID)
	}
}
