// Package client holds the Client entity and per-client quota enforcement
// used by the Scheduler's admission check, per spec §3/§4.5.
package client

import (
	"context"

	"github.com/waldiez/runner/internal/authn"
	runnererrors "github.com/waldiez/runner/internal/errors"
)

// DefaultMaxActive is the per-client active-task ceiling when a client has
// no override, per spec §3 ("default 3").
const DefaultMaxActive = 3

// Record is the Client entity from spec §3. CredentialHash and Audience are
// opaque to this package; the Authentication verifier collaborator
// interprets them.
type Record struct {
	ID             string
	CredentialHash string
	Audience       string

	// MaxActive overrides DefaultMaxActive when non-zero.
	MaxActive int
}

// Limit returns the effective per-client active-task ceiling.
func (r *Record) Limit() int {
	if r.MaxActive > 0 {
		return r.MaxActive
	}
	return DefaultMaxActive
}

// ActiveCounter reports how many non-terminal tasks a client currently owns.
// Satisfied by *task.Registry.
type ActiveCounter interface {
	ActiveCount(clientID string) int
}

// CheckQuota returns KindQuotaExceeded if admitting one more task for the
// client would exceed its limit, per §4.5's admission policy.
func CheckQuota(record *Record, counter ActiveCounter) error {
	if counter.ActiveCount(record.ID) >= record.Limit() {
		return runnererrors.New("client", "CheckQuota", nil).
			WithKind(runnererrors.KindQuotaExceeded).
			WithDetails(map[string]any{"client_id": record.ID, "limit": record.Limit()})
	}
	return nil
}

// IdentityResolver is the minimal ClientResolver the out-of-scope Client
// entity persistence collaborator would back in production: it treats a
// verified Identity's Subject as the Client id directly, with no
// credential/audience bookkeeping. Deployments that maintain real Client
// records (per-client overridden quotas, revocation) supply their own
// resolver satisfying the same contract (internal/httpapi.ClientResolver).
type IdentityResolver struct {
	// MaxActive is carried onto every resolved Record's MaxActive field, so
	// the operator-configured client_active_task_limit (§6) takes effect
	// uniformly in the absence of a real per-client override store. Zero
	// falls back to DefaultMaxActive via Record.Limit.
	MaxActive int
}

// Resolve implements the ClientResolver contract.
func (r IdentityResolver) Resolve(_ context.Context, identity authn.Identity) (*Record, error) {
	if identity.Subject == "" {
		return nil, runnererrors.New("client", "Resolve", nil).WithKind(runnererrors.KindAuthInvalid)
	}
	return &Record{ID: identity.Subject, Audience: identity.Audience, MaxActive: r.MaxActive}, nil
}
