package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

//go:embed scripts/set_price.lua
var setPriceLua string

// PriceCache holds the latest observation per feed in the hash
// "<ns>:price:<feed>" with fields price (oracle units) and ts (Unix nanos).
// Writes are compare-and-set on ts, so a late write-through from a slow
// oracle read never replaces a newer manual post.
type PriceCache struct {
	c        *Client
	ttl      time.Duration
	setPrice *redis.Script
}

// NewPriceCache creates a PriceCache. Entries expire after ttl when it is
// positive.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl, setPrice: redis.NewScript(setPriceLua)}
}

func (pc *PriceCache) key(feedID string) string { return pc.c.Key("price", feedID) }

// SetPrice stores price unless a newer observation is already cached.
func (pc *PriceCache) SetPrice(ctx context.Context, feedID string, price int64, ts time.Time) error {
	err := pc.setPrice.Run(ctx, pc.c.rdb, []string{pc.key(feedID)},
		strconv.FormatInt(price, 10),
		strconv.FormatInt(ts.UnixNano(), 10),
		pc.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", feedID, err)
	}
	return nil
}

// GetPrice returns the cached price and its publish time, or
// domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, feedID string) (int64, time.Time, error) {
	vals, err := pc.c.rdb.HMGet(ctx, pc.key(feedID), "price", "ts").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}
	priceStr, ok1 := vals[0].(string)
	tsStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", feedID, err)
	}
	nanos, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", feedID, err)
	}
	return price, time.Unix(0, nanos).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
