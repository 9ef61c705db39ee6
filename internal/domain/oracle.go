package domain

import (
	"context"
	"time"
)

// PriceQuote is a single oracle observation.
type PriceQuote struct {
	FeedID      string    `json:"feed_id"`
	Price       int64     `json:"price"`
	PublishedAt time.Time `json:"published_at"`
}

// Oracle reports the latest price for a feed. It returns ErrPriceUnavailable
// when no price can be read and ErrPriceStale when the newest observation is
// older than maxAge.
type Oracle interface {
	GetPrice(ctx context.Context, feedID string, maxAge time.Duration) (PriceQuote, error)
}

// Clock is the trusted time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
