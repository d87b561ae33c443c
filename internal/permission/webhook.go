package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/waldiez/runner/internal/httputil"
)

// WebhookOracle calls an external HTTP endpoint for the may_run decision,
// using internal/httputil's shared client construction.
type WebhookOracle struct {
	url    string
	client *http.Client
}

// NewWebhookOracle constructs a WebhookOracle posting to url with the
// package's standard permission-call timeout.
func NewWebhookOracle(url string) *WebhookOracle {
	return &WebhookOracle{url: url, client: httputil.NewHTTPClient(httputil.DefaultPermissionTimeout)}
}

var _ Oracle = (*WebhookOracle)(nil)

type mayRunRequest struct {
	UserID string `json:"user_id"`
}

type mayRunResponse struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// MayRun implements Oracle.
func (o *WebhookOracle) MayRun(ctx context.Context, userID string) error {
	body, err := json.Marshal(mayRunRequest{UserID: userID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("permission: webhook returned %d", resp.StatusCode)
	}

	var decoded mayRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if !decoded.Allow {
		return Denied(userID, decoded.Reason)
	}
	return nil
}
