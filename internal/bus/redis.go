package bus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/waldiez/runner/internal/envelope"
	runnererrors "github.com/waldiez/runner/internal/errors"
	"github.com/waldiez/runner/internal/logger"
)

// subscriberBuffer bounds per-subscriber channels so a slow consumer cannot
// stall the dispatch loop, matching the teacher's broadcaster drop policy.
const subscriberBuffer = 64

// RedisBus is the production Stream Bus backend: pub/sub topics via Redis
// channels, append-only streams via Redis Streams (XADD/XRANGE/XREAD).
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an existing *redis.Client. The caller owns connection
// configuration (addr, pool size, TLS); RedisBus only issues commands.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

var _ Bus = (*RedisBus)(nil)

func wrapBusErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return runnererrors.New("bus", op, err).WithKind(runnererrors.KindBusUnavailable)
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, topic string, env envelope.Envelope) error {
	payload, err := env.MarshalBinary()
	if err != nil {
		return runnererrors.New("bus", "Publish", err).WithKind(runnererrors.KindValidationFailed)
	}
	err = withRetry(ctx, func() error {
		return b.client.Publish(ctx, topic, payload).Err()
	})
	return wrapBusErr("Publish", err)
}

// Subscribe implements Bus using a Redis pub/sub channel.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan envelope.Envelope, func(), error) {
	sub := b.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, wrapBusErr("Subscribe", err)
	}

	out := make(chan envelope.Envelope, subscriberBuffer)
	raw := sub.Channel()
	done := make(chan struct{})
	var closeOnce sync.Once

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				env, err := envelope.Unmarshal([]byte(msg.Payload))
				if err != nil {
					logger.ProtocolViolation("", "malformed envelope on topic "+topic, "error", err)
					continue
				}
				select {
				case out <- env:
				default:
					// slow subscriber — drop rather than block the bus
				}
			}
		}
	}()

	unsubscribe := func() {
		closeOnce.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, unsubscribe, nil
}

// XAdd implements Bus using XADD with an auto-generated entry id.
func (b *RedisBus) XAdd(ctx context.Context, stream string, env envelope.Envelope) (string, error) {
	payload, err := env.MarshalBinary()
	if err != nil {
		return "", runnererrors.New("bus", "XAdd", err).WithKind(runnererrors.KindValidationFailed)
	}

	var id string
	err = withRetry(ctx, func() error {
		res, addErr := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{"envelope": payload},
		}).Result()
		if addErr != nil {
			return addErr
		}
		id = res
		return nil
	})
	if err != nil {
		return "", wrapBusErr("XAdd", err)
	}
	return id, nil
}

// XRange implements Bus using XRANGE.
func (b *RedisBus) XRange(ctx context.Context, stream, from, to string) ([]envelope.Envelope, error) {
	var entries []redis.XMessage
	err := withRetry(ctx, func() error {
		res, rangeErr := b.client.XRange(ctx, stream, from, to).Result()
		if rangeErr != nil {
			return rangeErr
		}
		entries = res
		return nil
	})
	if err != nil {
		return nil, wrapBusErr("XRange", err)
	}
	return decodeEntries(stream, entries)
}

// XSubscribe implements Bus using a blocking XREAD loop starting at either
// "$" (latest, the Gateway's default) or "0" (earliest, the Gateway's
// replay flag), per §4.6.
func (b *RedisBus) XSubscribe(ctx context.Context, stream string, from From) (<-chan envelope.Envelope, func(), error) {
	startID := "$"
	if from == FromEarliest {
		startID = "0"
	}

	out := make(chan envelope.Envelope, subscriberBuffer)
	done := make(chan struct{})
	var closeOnce sync.Once

	go func() {
		defer close(out)
		lastID := startID
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}

			res, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Block:   0,
				Count:   50,
			}).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				logger.Error("bus XRead failed", "stream", stream, "error", err)
				continue
			}
			if len(res) == 0 {
				continue
			}
			for _, entry := range res[0].Messages {
				env, decErr := decodeEntry(entry)
				if decErr != nil {
					logger.ProtocolViolation("", "malformed stream entry on "+stream, "error", decErr)
					lastID = entry.ID
					continue
				}
				select {
				case out <- env:
				default:
				}
				lastID = entry.ID
			}
		}
	}()

	unsubscribe := func() {
		closeOnce.Do(func() { close(done) })
	}
	return out, unsubscribe, nil
}

// Delete implements Bus. It removes a stream key; pub/sub topics have no
// durable backing state to delete.
func (b *RedisBus) Delete(ctx context.Context, streamOrTopic string) error {
	err := withRetry(ctx, func() error {
		return b.client.Del(ctx, streamOrTopic).Err()
	})
	return wrapBusErr("Delete", err)
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func decodeEntries(stream string, entries []redis.XMessage) ([]envelope.Envelope, error) {
	out := make([]envelope.Envelope, 0, len(entries))
	for _, entry := range entries {
		env, err := decodeEntry(entry)
		if err != nil {
			logger.ProtocolViolation("", "malformed stream entry on "+stream, "error", err)
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

func decodeEntry(entry redis.XMessage) (envelope.Envelope, error) {
	raw, ok := entry.Values["envelope"]
	if !ok {
		return envelope.Envelope{}, runnererrors.New("bus", "decodeEntry", nil).
			WithKind(runnererrors.KindProtocolViolation)
	}
	s, ok := raw.(string)
	if !ok {
		return envelope.Envelope{}, runnererrors.New("bus", "decodeEntry", nil).
			WithKind(runnererrors.KindProtocolViolation)
	}
	return envelope.Unmarshal([]byte(s))
}
