package settlement

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// FeeAmount is the protocol fee the authority may withdraw from m under the
// configured fee base.
func (e *Engine) FeeAmount(m domain.Market) uint64 {
	base := m.SettledFunds
	if e.params.FeeBase == FeeBaseRemaining {
		base = m.TotalFunds
	}
	return mulDiv(base, ProtocolFeeBps, bpsDenominator)
}

// WithdrawFee releases the protocol fee to the protocol wallet once the
// timelock has passed. Only the market authority may withdraw, only after
// resolution, and only once.
func (e *Engine) WithdrawFee(m *domain.Market, caller common.Address) (domain.Transfer, error) {
	now := e.clock.Now()
	if now.Before(m.TeamFeeUnlockTime) {
		return domain.Transfer{}, fmt.Errorf("settlement: withdraw fee: %w: unlocks at %s",
			domain.ErrTeamFeeTimelockNotExpired, m.TeamFeeUnlockTime.Format(time.RFC3339))
	}
	if caller != m.Authority {
		return domain.Transfer{}, fmt.Errorf("settlement: withdraw fee: %w", domain.ErrUnauthorized)
	}
	if !m.Resolved {
		return domain.Transfer{}, fmt.Errorf("settlement: withdraw fee: %w", domain.ErrMarketNotResolved)
	}
	if m.TeamFeePaid {
		return domain.Transfer{}, fmt.Errorf("settlement: withdraw fee: %w", domain.ErrTeamFeeAlreadyPaid)
	}
	fee := e.FeeAmount(*m)
	if fee > m.TotalFunds {
		return domain.Transfer{}, fmt.Errorf("settlement: withdraw fee: %w", domain.ErrInsufficientMarketFunds)
	}

	m.TotalFunds -= fee
	m.TeamFeePaid = true
	m.UpdatedAt = now

	return domain.Transfer{
		From:     m.EscrowAccount(),
		To:       domain.UserAccount(e.params.ProtocolWallet),
		Amount:   fee,
		Kind:     domain.TransferProtocolFee,
		MarketID: m.ID,
	}, nil
}
