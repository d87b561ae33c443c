// Package errors provides standardized error types for use across the
// runner's modules.
//
// ContextualError is the base error type that captures component, operation,
// and optional status code and details. It implements the error and Unwrap
// interfaces for seamless integration with Go's errors package.
//
// ErrorKind classifies errors along the axes the scheduler, gateway, and
// HTTP layer all need to agree on: what HTTP status to answer with, what
// WebSocket close code to send, and whether the error is safe to retry.
//
// Usage:
//
//	err := errors.New("scheduler", "Dispatch", someErr).WithKind(KindQuotaExceeded)
//	err = err.WithDetails(map[string]any{"client_id": clientID})
package errors

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a ContextualError for status-code mapping and
// propagation policy. Kinds are named after the condition, not the Go type.
type ErrorKind int

const (
	// KindUnspecified is the zero value; treated as KindInternal for mapping purposes.
	KindUnspecified ErrorKind = iota
	KindAuthInvalid
	KindPermissionDenied
	KindQuotaExceeded
	KindNotFound
	KindNotWaiting
	KindInputMismatch
	KindConflict
	KindValidationFailed
	KindBusUnavailable
	KindStorageUnavailable
	KindPersistenceUnavailable
	KindProtocolViolation
	KindInternal
)

// String returns the machine-readable name used in task diagnostics and logs.
func (k ErrorKind) String() string {
	switch k {
	case KindAuthInvalid:
		return "auth_invalid"
	case KindPermissionDenied:
		return "permission_denied"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindNotFound:
		return "not_found"
	case KindNotWaiting:
		return "not_waiting"
	case KindInputMismatch:
		return "input_mismatch"
	case KindConflict:
		return "conflict"
	case KindValidationFailed:
		return "validation_failed"
	case KindBusUnavailable:
		return "bus_unavailable"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindPersistenceUnavailable:
		return "persistence_unavailable"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindInternal:
		return "internal_error"
	default:
		return "internal_error"
	}
}

// Retryable reports whether the owning component should retry the operation
// that produced an error of this kind with capped exponential backoff before
// giving up, per the propagation policy (50ms -> 5s, <=6 attempts).
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindBusUnavailable, KindStorageUnavailable, KindPersistenceUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the kind to the HTTP status code the input endpoint and
// REST surface must answer with.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindAuthInvalid:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindNotWaiting, KindInputMismatch, KindConflict:
		return http.StatusBadRequest
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindBusUnavailable, KindStorageUnavailable, KindPersistenceUnavailable:
		return http.StatusServiceUnavailable
	case KindProtocolViolation, KindInternal, KindUnspecified:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WebSocket close codes, per RFC 6455. The gateway's own 4003 auth-revoked
// code is defined in internal/wsgateway.
const (
	wsCodePolicyViolation = 1008
	wsCodeInternalError   = 1011
)

// WSCloseCode maps the kind to the WebSocket close code the Gateway sends
// when terminating a connection because of this error. Authorization and
// validation failures close as policy violations; infrastructure and
// protocol failures close as internal errors.
func (k ErrorKind) WSCloseCode() int {
	switch k {
	case KindAuthInvalid, KindPermissionDenied, KindQuotaExceeded,
		KindNotFound, KindNotWaiting, KindInputMismatch, KindConflict, KindValidationFailed:
		return wsCodePolicyViolation
	case KindBusUnavailable, KindStorageUnavailable, KindPersistenceUnavailable,
		KindProtocolViolation, KindInternal, KindUnspecified:
		return wsCodeInternalError
	default:
		return wsCodeInternalError
	}
}

// ContextualError is a structured error type that provides consistent context
// about where and why an error occurred across the runner's modules.
type ContextualError struct {
	// Component identifies the module that produced the error (e.g. "scheduler", "supervisor", "bus").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Kind classifies the error for HTTP/WebSocket status mapping and retry policy.
	Kind ErrorKind

	// StatusCode is an optional HTTP or application-level status code override.
	// When zero, Kind.HTTPStatus() is used.
	StatusCode int

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
// Kind defaults to KindInternal; use WithKind to set it explicitly.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Kind:      KindInternal,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s: %s", e.Component, e.Operation, e.Kind)

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithKind returns the error with its Kind set.
func (e *ContextualError) WithKind(kind ErrorKind) *ContextualError {
	e.Kind = kind
	return e
}

// WithStatusCode returns the error with an explicit HTTP status code override.
// Most callers should rely on Kind.HTTPStatus() instead.
func (e *ContextualError) WithStatusCode(code int) *ContextualError {
	e.StatusCode = code
	return e
}

// WithDetails returns the error with the given details map set.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}

// HTTPStatus returns the StatusCode override if set, otherwise the status
// code implied by Kind.
func (e *ContextualError) HTTPStatus() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return e.Kind.HTTPStatus()
}

// WSCloseCode returns the WebSocket close code implied by Kind.
func (e *ContextualError) WSCloseCode() int {
	return e.Kind.WSCloseCode()
}

// Retryable reports whether the owning component should retry the failed
// operation before surfacing a terminal error.
func (e *ContextualError) Retryable() bool {
	return e.Kind.Retryable()
}

// Diagnostic returns the opaque human-readable diagnostic stored on a
// terminal task record, combining the operation and cause without leaking
// internal component names to external callers.
func (e *ContextualError) Diagnostic() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Operation, e.Cause.Error())
	}
	return e.Operation
}

// Is supports errors.Is comparisons against another *ContextualError by Kind,
// so callers can write errors.Is(err, &ContextualError{Kind: KindNotFound}).
func (e *ContextualError) Is(target error) bool {
	t, ok := target.(*ContextualError)
	if !ok {
		return false
	}
	if t.Kind == KindUnspecified {
		return false
	}
	return e.Kind == t.Kind
}
