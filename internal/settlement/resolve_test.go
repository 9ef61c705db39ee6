package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

func TestResolveOutcome(t *testing.T) {
	tests := []struct {
		name  string
		final int64
		want  domain.Outcome
	}{
		{"up", 150, domain.OutcomeYes},
		{"down", 50, domain.OutcomeNo},
		{"tie", 100, domain.OutcomeNo},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			m := f.market(t, time.Hour)
			p := f.position(t, m, alice)
			f.bet(t, m, p, 3_000_000, domain.SideYes)

			f.clock.advance(time.Hour + time.Second)
			f.oracle.price = tc.final
			got, err := f.engine.Resolve(context.Background(), m, authority)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tc.want || m.WinningOutcome != tc.want || !m.Resolved {
				t.Fatalf("outcome = %s (market %s, resolved %v), want %s", got, m.WinningOutcome, m.Resolved, tc.want)
			}
			if m.FinalPrice == nil || *m.FinalPrice != tc.final {
				t.Errorf("final price = %v", m.FinalPrice)
			}
			if m.SettledFunds != 3_000_000 {
				t.Errorf("settled funds = %d", m.SettledFunds)
			}
		})
	}
}

func TestResolveRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("not expired", func(t *testing.T) {
		f := newFixture(t, nil)
		m := f.market(t, time.Hour)
		f.clock.advance(time.Hour)
		if _, err := f.engine.Resolve(ctx, m, authority); !errors.Is(err, domain.ErrMarketNotExpired) {
			t.Fatalf("err = %v, want ErrMarketNotExpired", err)
		}
	})

	t.Run("expiry not enforced", func(t *testing.T) {
		f := newFixture(t, func(p *Params) { p.EnforceExpiry = false })
		m := f.market(t, time.Hour)
		if _, err := f.engine.Resolve(ctx, m, authority); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	})

	t.Run("already resolved", func(t *testing.T) {
		f := newFixture(t, nil)
		m := f.market(t, time.Hour)
		f.clock.advance(2 * time.Hour)
		if _, err := f.engine.Resolve(ctx, m, authority); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		f.oracle.price = 1_000
		if _, err := f.engine.Resolve(ctx, m, authority); !errors.Is(err, domain.ErrMarketAlreadyResolved) {
			t.Fatalf("err = %v, want ErrMarketAlreadyResolved", err)
		}
		if m.WinningOutcome != domain.OutcomeNo {
			t.Fatal("second resolve changed the outcome")
		}
	})

	t.Run("stranger", func(t *testing.T) {
		f := newFixture(t, nil)
		m := f.market(t, time.Hour)
		f.clock.advance(2 * time.Hour)
		if _, err := f.engine.Resolve(ctx, m, carol); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("resolver role", func(t *testing.T) {
		f := newFixture(t, nil)
		m := f.market(t, time.Hour)
		f.clock.advance(2 * time.Hour)
		if _, err := f.engine.Resolve(ctx, m, resolver); err != nil {
			t.Fatalf("Resolve as resolver: %v", err)
		}
	})

	t.Run("no initial price", func(t *testing.T) {
		f := newFixture(t, nil)
		m := f.market(t, time.Hour)
		m.InitialPrice = nil
		f.clock.advance(2 * time.Hour)
		if _, err := f.engine.Resolve(ctx, m, authority); !errors.Is(err, domain.ErrInitialPriceNotSet) {
			t.Fatalf("err = %v, want ErrInitialPriceNotSet", err)
		}
	})

	t.Run("stale price", func(t *testing.T) {
		f := newFixture(t, nil)
		m := f.market(t, time.Hour)
		f.clock.advance(2 * time.Hour)
		f.oracle.age = 301 * time.Second
		_, err := f.engine.Resolve(ctx, m, authority)
		if !errors.Is(err, domain.ErrPriceFetchFailed) {
			t.Fatalf("err = %v, want ErrPriceFetchFailed", err)
		}
		if m.Resolved {
			t.Fatal("failed resolve mutated market")
		}
	})

	t.Run("oracle unavailable", func(t *testing.T) {
		f := newFixture(t, nil)
		m := f.market(t, time.Hour)
		f.clock.advance(2 * time.Hour)
		f.oracle.err = domain.ErrPriceUnavailable
		if _, err := f.engine.Resolve(ctx, m, authority); !errors.Is(err, domain.ErrPriceFetchFailed) {
			t.Fatalf("err = %v, want ErrPriceFetchFailed", err)
		}
	})
}
