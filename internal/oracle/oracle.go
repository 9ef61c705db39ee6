// Package oracle provides price oracles backed by a price cache and a
// fallback combinator over several oracles.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// Cached serves prices previously written to a domain.PriceCache, either by
// a feed admin posting a manual price or by another oracle writing through.
type Cached struct {
	cache domain.PriceCache
	clock domain.Clock
}

// NewCached creates a Cached oracle. A nil clock uses the system clock.
func NewCached(cache domain.PriceCache, clock domain.Clock) *Cached {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Cached{cache: cache, clock: clock}
}

// GetPrice implements domain.Oracle.
func (c *Cached) GetPrice(ctx context.Context, feedID string, maxAge time.Duration) (domain.PriceQuote, error) {
	price, ts, err := c.cache.GetPrice(ctx, feedID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceQuote{}, fmt.Errorf("oracle: cached %s: %w", feedID, domain.ErrPriceUnavailable)
		}
		return domain.PriceQuote{}, fmt.Errorf("oracle: cached %s: %w: %w", feedID, domain.ErrPriceUnavailable, err)
	}
	if maxAge > 0 && c.clock.Now().Sub(ts) > maxAge {
		return domain.PriceQuote{}, fmt.Errorf("oracle: cached %s published %s: %w", feedID, ts.Format(time.RFC3339), domain.ErrPriceStale)
	}
	return domain.PriceQuote{FeedID: feedID, Price: price, PublishedAt: ts}, nil
}

// Fallback asks each oracle in order and returns the first quote. When all
// fail the joined error matches every individual cause.
type Fallback []domain.Oracle

// GetPrice implements domain.Oracle.
func (f Fallback) GetPrice(ctx context.Context, feedID string, maxAge time.Duration) (domain.PriceQuote, error) {
	if len(f) == 0 {
		return domain.PriceQuote{}, fmt.Errorf("oracle: no sources for %s: %w", feedID, domain.ErrPriceUnavailable)
	}
	var errs []error
	for _, o := range f {
		q, err := o.GetPrice(ctx, feedID, maxAge)
		if err == nil {
			return q, nil
		}
		if ctx.Err() != nil {
			return domain.PriceQuote{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	return domain.PriceQuote{}, errors.Join(errs...)
}

type cachedPrice struct {
	price int64
	ts    time.Time
}

// MemoryPriceCache is an in-process domain.PriceCache.
type MemoryPriceCache struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice
}

// NewMemoryPriceCache creates an empty MemoryPriceCache.
func NewMemoryPriceCache() *MemoryPriceCache {
	return &MemoryPriceCache{prices: make(map[string]cachedPrice)}
}

// SetPrice implements domain.PriceCache. Older observations never replace
// newer ones.
func (m *MemoryPriceCache) SetPrice(_ context.Context, feedID string, price int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.prices[feedID]; ok && cur.ts.After(ts) {
		return nil
	}
	m.prices[feedID] = cachedPrice{price: price, ts: ts}
	return nil
}

// GetPrice implements domain.PriceCache.
func (m *MemoryPriceCache) GetPrice(_ context.Context, feedID string) (int64, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[feedID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}
