// Package envelope defines the wire message carried on every Stream Bus
// topic and stream: the tagged variant exchanged between the child process,
// the I/O Mediator, the WebSocket Gateway, and the Input Endpoint.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the envelope variant.
type Type string

const (
	TypePrint         Type = "print"
	TypeInputRequest  Type = "input_request"
	TypeInputResponse Type = "input_response"
	TypeTermination   Type = "termination"
	TypeStatus        Type = "status"
)

// knownTypes is consulted to reject unknown variants at the boundary, per
// the "Dynamic envelopes" design note: the wire format is an open object
// discriminated by type, but unknown types are rejected rather than passed
// through.
var knownTypes = map[Type]bool{
	TypePrint:         true,
	TypeInputRequest:  true,
	TypeInputResponse: true,
	TypeTermination:   true,
	TypeStatus:        true,
}

// Envelope is the message carried on all Stream Bus topics and streams.
// Timestamp is monotonic milliseconds since epoch, non-decreasing within a
// single per-task stream. RequestID is set on input_request and
// input_response envelopes only. Password is set only on input_request.
type Envelope struct {
	Type      Type        `json:"type"`
	TaskID    string      `json:"task_id"`
	Timestamp int64       `json:"timestamp"`
	Data      any         `json:"data"`
	RequestID *string     `json:"request_id,omitempty"`
	Password  *bool       `json:"password,omitempty"`
}

// Validate rejects envelopes with an unknown type or a missing task_id,
// per the requirement that unknown variants are rejected at the boundary.
func (e Envelope) Validate() error {
	if e.TaskID == "" {
		return fmt.Errorf("envelope: task_id is required")
	}
	if !knownTypes[e.Type] {
		return fmt.Errorf("envelope: unknown type %q", e.Type)
	}
	if e.Type == TypeInputRequest && e.RequestID == nil {
		return fmt.Errorf("envelope: input_request requires request_id")
	}
	if e.Type == TypeInputResponse && e.RequestID == nil {
		return fmt.Errorf("envelope: input_response requires request_id")
	}
	return nil
}

// DedupeKey returns the (task_id, timestamp, type, request_id) tuple callers
// use to dedupe at-least-once deliveries, per §4.1 and the "Retry with
// idempotence" design note.
func (e Envelope) DedupeKey() string {
	rid := ""
	if e.RequestID != nil {
		rid = *e.RequestID
	}
	return fmt.Sprintf("%s|%d|%s|%s", e.TaskID, e.Timestamp, e.Type, rid)
}

// MarshalBinary implements encoding.BinaryMarshaler so an Envelope can be
// stored directly as a Redis stream field value or pub/sub payload.
func (e Envelope) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a wire-format JSON payload into an Envelope and validates it.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Print builds a print envelope.
func Print(taskID string, timestamp int64, data any) Envelope {
	return Envelope{Type: TypePrint, TaskID: taskID, Timestamp: timestamp, Data: data}
}

// InputRequest builds an input_request envelope.
func InputRequest(taskID string, timestamp int64, requestID string, data any, password bool) Envelope {
	return Envelope{
		Type:      TypeInputRequest,
		TaskID:    taskID,
		Timestamp: timestamp,
		Data:      data,
		RequestID: &requestID,
		Password:  &password,
	}
}

// InputResponse builds an input_response envelope.
func InputResponse(taskID string, timestamp int64, requestID string, data any) Envelope {
	return Envelope{
		Type:      TypeInputResponse,
		TaskID:    taskID,
		Timestamp: timestamp,
		Data:      data,
		RequestID: &requestID,
	}
}

// Termination builds a termination envelope.
func Termination(taskID string, timestamp int64, data any) Envelope {
	return Envelope{Type: TypeTermination, TaskID: taskID, Timestamp: timestamp, Data: data}
}

// Status builds a status envelope.
func Status(taskID string, timestamp int64, data any) Envelope {
	return Envelope{Type: TypeStatus, TaskID: taskID, Timestamp: timestamp, Data: data}
}
