package errors_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	runnererrors "github.com/waldiez/runner/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := runnererrors.New("scheduler", "Dispatch", cause)

	assert.Equal(t, "scheduler", err.Component)
	assert.Equal(t, "Dispatch", err.Operation)
	assert.Equal(t, runnererrors.KindInternal, err.Kind)
	assert.Equal(t, 0, err.StatusCode)
	assert.Nil(t, err.Details)
	assert.Equal(t, cause, err.Cause)
}

func TestNew_NilCause(t *testing.T) {
	err := runnererrors.New("supervisor", "Spawn", nil)

	assert.Equal(t, "supervisor", err.Component)
	assert.Equal(t, "Spawn", err.Operation)
	assert.Nil(t, err.Cause)
}

func TestError_BasicMessage(t *testing.T) {
	cause := fmt.Errorf("file not found")
	err := runnererrors.New("objectstore", "Fetch", cause).WithKind(runnererrors.KindNotFound)

	assert.Equal(t, "[objectstore] Fetch: not_found: file not found", err.Error())
}

func TestError_NoCause(t *testing.T) {
	err := runnererrors.New("authn", "Verify", nil)

	assert.Equal(t, "[authn] Verify: internal_error", err.Error())
}

func TestWithKind_ChangesHTTPStatus(t *testing.T) {
	cause := fmt.Errorf("unauthorized")
	err := runnererrors.New("authn", "Verify", cause).WithKind(runnererrors.KindAuthInvalid)

	assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus())
}

func TestWithStatusCode_Overrides(t *testing.T) {
	err := runnererrors.New("scheduler", "Send", fmt.Errorf("timeout")).WithStatusCode(504)
	result := err.WithStatusCode(504)

	// Builder returns same pointer for chaining.
	assert.Same(t, err, result)
	assert.Equal(t, 504, err.StatusCode)
	assert.Equal(t, 504, err.HTTPStatus())
}

func TestWithDetails(t *testing.T) {
	details := map[string]any{
		"client_id": "client-1",
		"task_id":   "task-9",
		"retries":   3,
	}
	err := runnererrors.New("bus", "Publish", fmt.Errorf("failed"))
	result := err.WithDetails(details)

	assert.Same(t, err, result)
	assert.Equal(t, details, err.Details)
}

func TestChainedBuilders(t *testing.T) {
	err := runnererrors.New("httpapi", "SubmitTask", fmt.Errorf("bad request")).
		WithKind(runnererrors.KindValidationFailed).
		WithDetails(map[string]any{"field": "flow"})

	assert.Equal(t, runnererrors.KindValidationFailed, err.Kind)
	assert.Equal(t, map[string]any{"field": "flow"}, err.Details)
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus())
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := runnererrors.New("bus", "Subscribe", cause)

	assert.Equal(t, cause, err.Unwrap())
}

func TestUnwrap_NilCause(t *testing.T) {
	err := runnererrors.New("bus", "Subscribe", nil)

	assert.Nil(t, err.Unwrap())
}

func TestErrorsIs(t *testing.T) {
	sentinel := fmt.Errorf("sentinel error")
	wrapped := fmt.Errorf("mid-layer: %w", sentinel)
	err := runnererrors.New("mediator", "Route", wrapped)

	assert.True(t, errors.Is(err, sentinel))
	assert.True(t, errors.Is(err, wrapped))
}

func TestErrorsIs_ByKind(t *testing.T) {
	err := runnererrors.New("scheduler", "Admit", fmt.Errorf("over limit")).
		WithKind(runnererrors.KindQuotaExceeded)

	assert.True(t, errors.Is(err, &runnererrors.ContextualError{Kind: runnererrors.KindQuotaExceeded}))
	assert.False(t, errors.Is(err, &runnererrors.ContextualError{Kind: runnererrors.KindNotFound}))
}

func TestErrorsAs(t *testing.T) {
	cause := fmt.Errorf("something failed")
	err := runnererrors.New("collector", "Archive", cause)

	// Wrap in another error layer to test errors.As unwrapping.
	outer := fmt.Errorf("outer: %w", err)

	var ctxErr *runnererrors.ContextualError
	require.True(t, errors.As(outer, &ctxErr))
	assert.Equal(t, "collector", ctxErr.Component)
	assert.Equal(t, "Archive", ctxErr.Operation)
}

func TestErrorInterface(t *testing.T) {
	var err error = runnererrors.New("authn", "Verify", nil)
	assert.NotNil(t, err)
	assert.Equal(t, "[authn] Verify: internal_error", err.Error())
}

func TestNestedContextualErrors(t *testing.T) {
	inner := runnererrors.New("bus", "XAdd", io.ErrUnexpectedEOF).WithKind(runnererrors.KindBusUnavailable)
	outer := runnererrors.New("mediator", "Publish", inner).WithKind(runnererrors.KindInternal)

	assert.Equal(t,
		"[mediator] Publish: internal_error: [bus] XAdd: bus_unavailable: unexpected EOF",
		outer.Error(),
	)

	// Unwrap chain works.
	assert.True(t, errors.Is(outer, io.ErrUnexpectedEOF))

	var innerErr *runnererrors.ContextualError
	require.True(t, errors.As(outer, &innerErr))
	// errors.As finds the first match, which is outer itself.
	assert.Equal(t, "mediator", innerErr.Component)
}

func TestDetailsDoNotAffectErrorString(t *testing.T) {
	err := runnererrors.New("authn", "Verify", nil).
		WithDetails(map[string]any{"key": "value"})

	// Details are metadata only; they should not appear in the error string.
	assert.Equal(t, "[authn] Verify: internal_error", err.Error())
}

func TestHTTPStatus_PerKind(t *testing.T) {
	cases := []struct {
		kind runnererrors.ErrorKind
		want int
	}{
		{runnererrors.KindAuthInvalid, http.StatusUnauthorized},
		{runnererrors.KindPermissionDenied, http.StatusForbidden},
		{runnererrors.KindQuotaExceeded, http.StatusTooManyRequests},
		{runnererrors.KindNotFound, http.StatusNotFound},
		{runnererrors.KindNotWaiting, http.StatusBadRequest},
		{runnererrors.KindInputMismatch, http.StatusBadRequest},
		{runnererrors.KindConflict, http.StatusBadRequest},
		{runnererrors.KindValidationFailed, http.StatusUnprocessableEntity},
		{runnererrors.KindBusUnavailable, http.StatusServiceUnavailable},
		{runnererrors.KindStorageUnavailable, http.StatusServiceUnavailable},
		{runnererrors.KindPersistenceUnavailable, http.StatusServiceUnavailable},
		{runnererrors.KindProtocolViolation, http.StatusInternalServerError},
		{runnererrors.KindInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			err := runnererrors.New("x", "y", nil).WithKind(tc.kind)
			assert.Equal(t, tc.want, err.HTTPStatus())
		})
	}
}

func TestWSCloseCode_PolicyVsInternal(t *testing.T) {
	policy := runnererrors.New("authn", "Verify", nil).WithKind(runnererrors.KindPermissionDenied)
	internal := runnererrors.New("bus", "XAdd", nil).WithKind(runnererrors.KindBusUnavailable)

	assert.Equal(t, 1008, policy.WSCloseCode())
	assert.Equal(t, 1011, internal.WSCloseCode())
}

func TestRetryable(t *testing.T) {
	assert.True(t, runnererrors.KindBusUnavailable.Retryable())
	assert.True(t, runnererrors.KindStorageUnavailable.Retryable())
	assert.True(t, runnererrors.KindPersistenceUnavailable.Retryable())
	assert.False(t, runnererrors.KindValidationFailed.Retryable())
	assert.False(t, runnererrors.KindProtocolViolation.Retryable())
}

func TestDiagnostic(t *testing.T) {
	err := runnererrors.New("supervisor", "Wait", fmt.Errorf("exit status 1")).
		WithKind(runnererrors.KindProtocolViolation)

	assert.Equal(t, "Wait: exit status 1", err.Diagnostic())

	noCause := runnererrors.New("supervisor", "Wait", nil)
	assert.Equal(t, "Wait", noCause.Diagnostic())
}
