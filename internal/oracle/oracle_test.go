package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type stubOracle struct {
	q   domain.PriceQuote
	err error
}

func (s stubOracle) GetPrice(context.Context, string, time.Duration) (domain.PriceQuote, error) {
	return s.q, s.err
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cache := NewMemoryPriceCache()
	o := NewCached(cache, fixedClock(now))

	if _, err := o.GetPrice(ctx, "BTC", time.Minute); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("empty cache err = %v, want ErrPriceUnavailable", err)
	}

	_ = cache.SetPrice(ctx, "BTC", 64_000, now.Add(-30*time.Second))
	q, err := o.GetPrice(ctx, "BTC", time.Minute)
	if err != nil || q.Price != 64_000 {
		t.Fatalf("GetPrice = %+v, %v", q, err)
	}

	if _, err := o.GetPrice(ctx, "BTC", 10*time.Second); !errors.Is(err, domain.ErrPriceStale) {
		t.Fatalf("stale err = %v, want ErrPriceStale", err)
	}

	// An older observation does not overwrite a newer one.
	_ = cache.SetPrice(ctx, "BTC", 1, now.Add(-time.Hour))
	if q, _ := o.GetPrice(ctx, "BTC", time.Minute); q.Price != 64_000 {
		t.Fatalf("price regressed to %d", q.Price)
	}
}

func TestFallback(t *testing.T) {
	ctx := context.Background()
	good := stubOracle{q: domain.PriceQuote{FeedID: "ETH", Price: 3_000}}
	stale := stubOracle{err: domain.ErrPriceStale}
	down := stubOracle{err: domain.ErrPriceUnavailable}

	q, err := Fallback{down, good}.GetPrice(ctx, "ETH", time.Minute)
	if err != nil || q.Price != 3_000 {
		t.Fatalf("fallback = %+v, %v", q, err)
	}

	_, err = Fallback{down, stale}.GetPrice(ctx, "ETH", time.Minute)
	if !errors.Is(err, domain.ErrPriceStale) || !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("joined err = %v", err)
	}

	if _, err := (Fallback{}).GetPrice(ctx, "ETH", time.Minute); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("empty fallback err = %v", err)
	}
}
