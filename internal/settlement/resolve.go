package settlement

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Resolve settles m against the oracle. The outcome is YES only when the
// final price is strictly above the initial price; a tie resolves NO.
//
// Resolution is irreversible. The market's TotalFunds at this point is
// recorded as SettledFunds and becomes the base for every payout.
func (e *Engine) Resolve(ctx context.Context, m *domain.Market, caller common.Address) (domain.Outcome, error) {
	if m.Resolved {
		return m.WinningOutcome, fmt.Errorf("settlement: resolve: %w", domain.ErrMarketAlreadyResolved)
	}
	now := e.clock.Now()
	if e.params.EnforceExpiry && !now.After(m.EndTime()) {
		return domain.OutcomeUnresolved, fmt.Errorf("settlement: resolve: %w", domain.ErrMarketNotExpired)
	}
	if !e.canResolve(ctx, m, caller) {
		return domain.OutcomeUnresolved, fmt.Errorf("settlement: resolve: %w", domain.ErrUnauthorized)
	}
	if m.InitialPrice == nil {
		return domain.OutcomeUnresolved, fmt.Errorf("settlement: resolve: %w", domain.ErrInitialPriceNotSet)
	}

	quote, err := e.fetchPrice(ctx, m.FeedID, now)
	if err != nil {
		return domain.OutcomeUnresolved, fmt.Errorf("settlement: resolve: %w", err)
	}

	outcome := domain.OutcomeNo
	if quote.Price > *m.InitialPrice {
		outcome = domain.OutcomeYes
	}

	final := quote.Price
	resolvedAt := now
	m.Resolved = true
	m.WinningOutcome = outcome
	m.FinalPrice = &final
	m.SettledFunds = m.TotalFunds
	m.ResolvedAt = &resolvedAt
	m.UpdatedAt = now
	return outcome, nil
}

func (e *Engine) canResolve(ctx context.Context, m *domain.Market, caller common.Address) bool {
	if caller == m.Authority {
		return true
	}
	if e.params.ResolverAddress != (common.Address{}) && caller == e.params.ResolverAddress {
		return true
	}
	return e.auth.IsAuthorized(ctx, caller, domain.RoleResolver)
}
