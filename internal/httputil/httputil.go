// Package httputil provides shared HTTP client construction utilities
// for the runner project. It centralizes timeout defaults and client
// creation so that every module calling an external collaborator uses
// consistent configuration.
package httputil

import (
	"net/http"
	"time"
)

// Standard timeout defaults used across the project.
const (
	// DefaultAuthTimeout is the HTTP timeout for calls to the external
	// auth verifier. Token introspection is expected to be fast.
	DefaultAuthTimeout = 5 * time.Second

	// DefaultPermissionTimeout is the HTTP timeout for calls to the
	// external permission oracle.
	DefaultPermissionTimeout = 5 * time.Second

	// DefaultCollaboratorTimeout is the HTTP timeout for other outbound
	// collaborator calls (persistence, object storage) that are not on
	// the hot path of task admission.
	DefaultCollaboratorTimeout = 30 * time.Second
)

// NewHTTPClient returns an *http.Client configured with the given timeout.
// Pass one of the Default*Timeout constants, or a custom duration.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
