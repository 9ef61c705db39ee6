package settlement

import (
	"fmt"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/holiman/uint256"
)

// SplitPool divides settled funds into the winners' pool and the protocol's
// remainder. pool + fee == settled.
func SplitPool(settled uint64) (pool, fee uint64) {
	pool = mulDiv(settled, WinnersPoolBps, bpsDenominator)
	return pool, settled - pool
}

// ProRata returns floor(shares * pool / totalShares), or 0 when totalShares
// is zero. The product is computed in 256 bits.
func ProRata(shares, pool, totalShares uint64) uint64 {
	if totalShares == 0 || shares == 0 {
		return 0
	}
	return mulDiv(shares, pool, totalShares)
}

// mulDiv returns floor(x*y/d). The result never exceeds max(x, y) for the
// callers in this package, so truncation to 64 bits is exact.
func mulDiv(x, y, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	z, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d))
	if overflow || !z.IsUint64() {
		return ^uint64(0)
	}
	return z.Uint64()
}

// winningShares returns the position's and the market's shares on the
// winning side.
func winningShares(m *domain.Market, p *domain.Position) (mine, total uint64) {
	switch m.WinningOutcome {
	case domain.OutcomeYes:
		return p.YesShares, m.TotalYesShares
	case domain.OutcomeNo:
		return p.NoShares, m.TotalNoShares
	}
	return 0, 0
}

// ClaimableAmount is what Claim would pay p right now, ignoring the funds
// guard. It is zero for unresolved markets and claimed positions.
func (e *Engine) ClaimableAmount(m domain.Market, p domain.Position) uint64 {
	if !m.Resolved || p.Claimed || p.MarketID != m.ID {
		return 0
	}
	pool, _ := SplitPool(m.SettledFunds)
	mine, total := winningShares(&m, &p)
	return ProRata(mine, pool, total)
}

// Claim pays p its pro-rata share of the winners' pool and marks it claimed.
// Losing and empty positions are marked claimed with a zero payout. When no
// one holds winning shares nothing is owed to anyone.
//
// Market share totals are left untouched so later claimants see the same
// denominator.
func (e *Engine) Claim(m *domain.Market, p *domain.Position) (domain.Transfer, error) {
	if p.MarketID != m.ID {
		return domain.Transfer{}, fmt.Errorf("settlement: claim: %w", domain.ErrPositionMismatch)
	}
	if !m.Resolved {
		return domain.Transfer{}, fmt.Errorf("settlement: claim: %w", domain.ErrMarketNotResolved)
	}
	if p.Claimed {
		return domain.Transfer{}, fmt.Errorf("settlement: claim: %w", domain.ErrAlreadyClaimed)
	}

	payout := e.ClaimableAmount(*m, *p)
	var reserved uint64
	if !m.TeamFeePaid {
		reserved = e.FeeAmount(*m)
	}
	need, carry := addOverflow(payout, reserved)
	if carry || m.TotalFunds < need {
		return domain.Transfer{}, fmt.Errorf("settlement: claim: %w", domain.ErrInsufficientMarketFunds)
	}

	now := e.clock.Now()
	m.TotalFunds -= payout
	m.UpdatedAt = now
	p.Claimed = true
	p.YesShares = 0
	p.NoShares = 0
	p.UpdatedAt = now

	return domain.Transfer{
		From:     m.EscrowAccount(),
		To:       domain.UserAccount(p.User),
		Amount:   payout,
		Kind:     domain.TransferPayout,
		MarketID: m.ID,
	}, nil
}

func addOverflow(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s < a
}
