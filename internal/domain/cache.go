package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PriceCache provides fast access to the latest oracle prices.
type PriceCache interface {
	SetPrice(ctx context.Context, feedID string, price int64, ts time.Time) error
	GetPrice(ctx context.Context, feedID string) (int64, time.Time, error)
}

// MarketCache provides fast market lookups for read paths.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id uuid.UUID) (Market, error)
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
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

// RateDecision is the outcome of one RateLimiter.Allow call.
type RateDecision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// RateLimiter decides whether another request under key fits in the window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// NonceStore records one-shot keys such as signed request digests.
type NonceStore interface {
	// Claim records key for ttl. It reports false when key is already held.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
