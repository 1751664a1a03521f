package domain

import (
	"context"
	"time"
)

// MarketCache mirrors market snapshots into shared cache so event
// subscribers can read current pools without calling the API. Entries
// are best-effort; the ledger never reads them back.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, eventID int64) (Market, error)
	Invalidate(ctx context.Context, eventID int64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. Acquire takes a lock once;
// Hold additionally refreshes the TTL in the background so a process can
// keep a lock for its whole lifetime.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Hold(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
