// Package permission implements the optional Permission oracle collaborator
// contract from spec §6: `may_run(user_id) -> allow | deny{reason}`;
// absence of a configured oracle means allow.
package permission

import (
	"context"

	runnererrors "github.com/waldiez/runner/internal/errors"
)

// Oracle decides whether a user is permitted to run a new task.
type Oracle interface {
	MayRun(ctx context.Context, userID string) error
}

// AllowAll is the default Oracle: every user is permitted. Used when no
// permission collaborator is configured, per §6's "absence = allow".
type AllowAll struct{}

var _ Oracle = AllowAll{}

// MayRun implements Oracle.
func (AllowAll) MayRun(context.Context, string) error { return nil }

// Denied constructs the ErrorKind.PermissionDenied error a webhook-backed
// Oracle returns on a deny response, carrying the oracle's reason.
func Denied(userID, reason string) error {
	return runnererrors.New("permission", "MayRun", nil).
		WithKind(runnererrors.KindPermissionDenied).
		WithDetails(map[string]any{"user_id": userID, "reason": reason})
}
