package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

// MarketCache keeps JSON market snapshots for the read path. Resolved
// markets no longer change apart from claims and the fee, so they are kept
// for resolvedTTLFactor times longer than open ones.
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

const resolvedTTLFactor = 10

// NewMarketCache creates a MarketCache. A non-positive ttl uses five minutes.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) key(id uuid.UUID) string { return mc.c.Key("market", id.String()) }

// Set stores a market snapshot.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}
	ttl := mc.ttl
	if market.Resolved {
		ttl *= resolvedTTLFactor
	}
	if err := mc.c.rdb.Set(ctx, mc.key(market.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get returns a cached market or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, id uuid.UUID) (domain.Market, error) {
	data, err := mc.c.rdb.Get(ctx, mc.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		// A snapshot from an incompatible build is treated as a miss.
		_ = mc.c.rdb.Del(ctx, mc.key(id)).Err()
		return domain.Market{}, domain.ErrNotFound
	}
	return market, nil
}

// Invalidate drops a cached market.
func (mc *MarketCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := mc.c.rdb.Del(ctx, mc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
