package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/openwager/poolhouse/internal/domain"
)

// defaultStreamMaxLen caps the event stream when the caller passes no limit.
const defaultStreamMaxLen int64 = 10000

// subscribeBuffer is the per-subscription channel depth; a subscriber that
// falls further behind than this starts losing pub/sub messages, which is
// acceptable because the stream keeps the durable copy.
const subscribeBuffer = 128

// SignalBus implements domain.SignalBus two ways at once: Redis Pub/Sub for
// ephemeral fan-out of ledger events to live subscribers (the WebSocket
// hub), and a Redis Stream as the durable, replayable copy of the same
// events.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus backed by the given Client. maxLen bounds
// stream length via XADD MAXLEN ~; pass 0 for the default.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish sends a raw payload to one pub/sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription and returns the payload channel.
// Channels containing glob wildcards subscribe by pattern, so "ledger.*"
// picks up every ledger event in one shot. Cancelling the context tears the
// subscription down and closes the returned channel.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// The first Receive returns the subscription confirmation or the
	// reason the subscription failed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go sb.pump(ctx, pubsub, out)
	return out, nil
}

// pump copies pub/sub messages into out until the context ends or the
// driver closes the subscription.
func (sb *SignalBus) pump(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// hasPattern reports whether channel uses glob-style matching and therefore
// needs PSubscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to the durable stream. MAXLEN ~ keeps the
// stream near the configured cap without exact trimming on every append.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID. Use "0" to replay
// from the beginning or "$" for new entries only. No pending entries is an
// empty result, not an error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, res := range results {
		for _, entry := range res.Messages {
			if msg, ok := decodeStreamEntry(entry); ok {
				messages = append(messages, msg)
			}
		}
	}
	return messages, nil
}

// decodeStreamEntry extracts the payload field; entries written by anything
// other than StreamAppend are skipped.
func decodeStreamEntry(entry redis.XMessage) (domain.StreamMessage, bool) {
	raw, ok := entry.Values["payload"]
	if !ok {
		return domain.StreamMessage{}, false
	}
	switch v := raw.(type) {
	case string:
		return domain.StreamMessage{ID: entry.ID, Payload: []byte(v)}, true
	case []byte:
		return domain.StreamMessage{ID: entry.ID, Payload: v}, true
	default:
		return domain.StreamMessage{}, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
