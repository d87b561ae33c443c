// Package bus implements the Stream Bus (C1): typed pub/sub topics plus
// append-only streams over Redis primitives, per spec §4.1. Pub/sub topics
// (in-req:{id}, in-resp:{id}, ctl:{id}) carry request/response and control
// traffic; streams (out:{id}, out:*) carry ordered, replayable output.
package bus

import (
	"context"

	"github.com/waldiez/runner/internal/envelope"
)

// From selects where a Subscribe call begins reading a stream.
type From string

const (
	FromLatest   From = "latest"
	FromEarliest From = "earliest"
)

// GlobalOutputStream is the dashboard-facing stream that fans out every
// task's print envelopes in addition to its per-task stream, per §3's
// StreamSet and the "global output stream" open question (resolved
// permissively: it carries envelopes for tasks of all clients).
const GlobalOutputStream = "out:*"

// OutputStream returns the per-task output stream name.
func OutputStream(taskID string) string { return "out:" + taskID }

// InputRequestTopic returns the per-task input-request pub/sub topic.
func InputRequestTopic(taskID string) string { return "in-req:" + taskID }

// InputResponseTopic returns the per-task input-response pub/sub topic.
func InputResponseTopic(taskID string) string { return "in-resp:" + taskID }

// ControlTopic returns the per-task status/control pub/sub topic.
func ControlTopic(taskID string) string { return "ctl:" + taskID }

// Bus is the Stream Bus contract consumed by the Mediator, Gateway, and
// Cancellation Controller. Implementations must guarantee publisher-append
// order is preserved within a single stream or topic; cross-stream ordering
// is not guaranteed (§5).
type Bus interface {
	// Publish delivers an envelope to every current subscriber of topic.
	// Publishes are at-least-once; consumers dedupe via Envelope.DedupeKey.
	Publish(ctx context.Context, topic string, env envelope.Envelope) error

	// Subscribe returns a channel of envelopes published to topic from this
	// call onward, and an unsubscribe function. The channel is closed when
	// unsubscribe is called or the context is done.
	Subscribe(ctx context.Context, topic string) (<-chan envelope.Envelope, func(), error)

	// XAdd appends an envelope to an append-only stream and returns its
	// backend-assigned entry id.
	XAdd(ctx context.Context, stream string, env envelope.Envelope) (string, error)

	// XRange returns envelopes in [from, to] entry-id order. from="-" and
	// to="+" span the full stream, matching Redis XRANGE conventions.
	XRange(ctx context.Context, stream, from, to string) ([]envelope.Envelope, error)

	// XSubscribe streams new entries appended to stream from the given
	// position onward (latest skips backlog; earliest replays from the
	// start), matching the Gateway's replay-flag semantics (§4.6).
	XSubscribe(ctx context.Context, stream string, from From) (<-chan envelope.Envelope, func(), error)

	// Delete removes a stream or topic's backing state entirely, used by
	// the Result Collector after the retention window elapses (§4.9).
	Delete(ctx context.Context, streamOrTopic string) error

	// Close releases the underlying connection.
	Close() error
}
