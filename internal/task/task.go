// Package task implements the task state machine (C4): states, guarded
// transitions, and the per-task single-writer actor that serializes every
// status change through one authoritative control loop, per spec §4.4 and
// §5's "Task status transitions are serialized through a single
// authoritative writer per task" requirement.
package task

import (
	"time"

	runnererrors "github.com/waldiez/runner/internal/errors"
)

// Status is one of the task lifecycle states.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusRunning         Status = "RUNNING"
	StatusWaitingForInput Status = "WAITING_FOR_INPUT"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusCancelled       Status = "CANCELLED"
)

// terminalStates are states from which no further transitions are allowed.
var terminalStates = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// IsTerminal reports whether s is one of COMPLETED, FAILED, CANCELLED.
func (s Status) IsTerminal() bool {
	return terminalStates[s]
}

// validTransitions encodes the diagram in spec §4.4.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true, // dispatch
		StatusCancelled: true, // cancel before dispatch
	},
	StatusRunning: {
		StatusWaitingForInput: true, // child emits input_request
		StatusCancelled:       true,
		StatusCompleted:       true, // child exit 0
		StatusFailed:          true, // child exit != 0, protocol error, max-duration
	},
	StatusWaitingForInput: {
		StatusRunning:   true, // matching response OR input-timeout
		StatusCancelled: true,
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// newTransitionError wraps an invalid-transition error in a *ContextualError
// with Kind Conflict.
func newTransitionError(component, operation string, from, to Status) *runnererrors.ContextualError {
	return runnererrors.New(component, operation,
		&transitionError{from: from, to: to}).WithKind(runnererrors.KindConflict)
}

type transitionError struct {
	from, to Status
}

func (e *transitionError) Error() string {
	return "invalid transition " + string(e.from) + " -> " + string(e.to)
}

// CanTransition reports whether moving from `from` to `to` is permitted by
// the state machine, independent of who is initiating it.
func CanTransition(from, to Status) bool {
	if terminalStates[from] {
		return false
	}
	allowed, ok := validTransitions[from]
	return ok && allowed[to]
}

// Reason is the short machine-readable reason attached to a terminal record,
// per spec §7 ("Terminal task states carry a short machine-readable reason").
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonInfrastructure Reason = "infrastructure"
	ReasonProtocol       Reason = "protocol"
	ReasonTimeout        Reason = "timeout"
	ReasonCancelled      Reason = "cancelled"
)

// Record is the Task entity from spec §3.
type Record struct {
	ID                  string     `json:"id"`
	ClientID            string     `json:"client_id"`
	FlowID              string     `json:"flow_id"`
	StoredFilename      string     `json:"stored_filename"`
	Status              Status     `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	InputTimeoutSeconds int        `json:"input_timeout_seconds,omitempty"`
	MaxDurationSeconds  int        `json:"max_duration_seconds,omitempty"` // 0 = unbounded
	InputRequestID      *string    `json:"input_request_id,omitempty"`
	Results             any        `json:"results,omitempty"`
	SoftDeleted         bool       `json:"soft_deleted,omitempty"`

	// Reason is the machine-readable terminal reason (empty unless terminal).
	Reason Reason `json:"reason,omitempty"`
	// Diagnostic is the opaque human-readable diagnostic attached on failure.
	Diagnostic string `json:"diagnostic,omitempty"`

	// StatusVersion increases on every transition; used for optimistic
	// concurrency against the persistence collaborator, per §5 ("Task
	// records in persistence are accessed under optimistic concurrency
	// keyed by task id + monotonically increasing status version").
	StatusVersion int64 `json:"status_version"`
}

// IsActive reports whether the task counts against the owning client's
// quota, per §3 ("a task with status not in terminal states is active").
func (r *Record) IsActive() bool {
	return !r.Status.IsTerminal()
}

// clone returns a deep-enough copy for safe handoff to callers outside the
// actor's single-writer goroutine.
func (r *Record) clone() *Record {
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	if r.InputRequestID != nil {
		id := *r.InputRequestID
		cp.InputRequestID = &id
	}
	return &cp
}
