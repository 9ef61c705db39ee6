// Package settlement implements the market state machine: share pricing,
// cancellation refunds, oracle resolution, pari-mutuel payouts and the
// protocol fee timelock.
//
// The engine is synchronous and holds no state of its own. Every operation
// validates all of its preconditions before it mutates the market or position
// it was given, and returns the ledger transfers the caller must apply in the
// same transaction.
package settlement

import (
	"context"
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Engine applies settlement rules to markets and positions.
type Engine struct {
	params Params
	oracle domain.Oracle
	clock  domain.Clock
	auth   domain.Authorizer
}

// New creates an Engine. A nil clock uses the system clock and a nil
// authorizer uses NewPolicyAuthorizer(params).
func New(params Params, oracle domain.Oracle, clock domain.Clock, auth domain.Authorizer) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if oracle == nil {
		return nil, fmt.Errorf("settlement: oracle is required")
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if auth == nil {
		auth = NewPolicyAuthorizer(params)
	}
	return &Engine{params: params, oracle: oracle, clock: clock, auth: auth}, nil
}

// Params returns the engine configuration.
func (e *Engine) Params() Params { return e.params }

// Now reads the engine clock.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// CreateMarket builds a new market on feed and returns it with the creation
// fee transfer. feed is nil when the requested feed is not registered.
func (e *Engine) CreateMarket(ctx context.Context, caller common.Address, symbol string, feed *domain.Feed, duration time.Duration) (domain.Market, domain.Transfer, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return domain.Market{}, domain.Transfer{}, fmt.Errorf("settlement: create market: %w: symbol is required", domain.ErrInvalidInput)
	}
	if duration <= 0 {
		return domain.Market{}, domain.Transfer{}, fmt.Errorf("settlement: create market: %w", domain.ErrInvalidDuration)
	}
	if !e.auth.IsAuthorized(ctx, caller, domain.RoleMarketCreator) {
		return domain.Market{}, domain.Transfer{}, fmt.Errorf("settlement: create market: %w", domain.ErrUnauthorized)
	}
	if feed == nil {
		return domain.Market{}, domain.Transfer{}, fmt.Errorf("settlement: create market: %w", domain.ErrFeedNotRegistered)
	}

	now := e.clock.Now()
	quote, err := e.fetchPrice(ctx, feed.ID, now)
	if err != nil {
		return domain.Market{}, domain.Transfer{}, fmt.Errorf("settlement: create market: %w", err)
	}

	initial := quote.Price
	m := domain.Market{
		ID:                domain.MarketID(caller, symbol),
		Symbol:            symbol,
		FeedID:            feed.ID,
		StartTime:         now,
		Duration:          duration,
		WinningOutcome:    domain.OutcomeUnresolved,
		InitialPrice:      &initial,
		Authority:         caller,
		TeamFeeUnlockTime: now.Add(duration).Add(FeeUnlockDelay),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	fee := domain.Transfer{
		From:     domain.UserAccount(caller),
		To:       domain.UserAccount(e.params.ProtocolWallet),
		Amount:   MarketCreationFee,
		Kind:     domain.TransferCreationFee,
		MarketID: m.ID,
	}
	return m, fee, nil
}

// OpenPosition returns an empty position for user in m. Bets require one.
func (e *Engine) OpenPosition(m *domain.Market, user common.Address) (domain.Position, error) {
	if m.Resolved {
		return domain.Position{}, fmt.Errorf("settlement: open position: %w", domain.ErrMarketNotActive)
	}
	now := e.clock.Now()
	return domain.Position{
		MarketID:  m.ID,
		User:      user,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// PlaceBet stakes amount on side, adding the curve's shares to p and m.
func (e *Engine) PlaceBet(m *domain.Market, p *domain.Position, amount uint64, side domain.Side) (domain.Transfer, error) {
	if side != domain.SideYes && side != domain.SideNo {
		return domain.Transfer{}, fmt.Errorf("settlement: place bet: %w: %q", domain.ErrInvalidSide, side)
	}
	if p.MarketID != m.ID {
		return domain.Transfer{}, fmt.Errorf("settlement: place bet: %w", domain.ErrPositionMismatch)
	}
	if amount < MinBetAmount {
		return domain.Transfer{}, fmt.Errorf("settlement: place bet: %w: %d < %d", domain.ErrBetAmountTooLow, amount, MinBetAmount)
	}
	now := e.clock.Now()
	if m.Resolved || now.Before(m.StartTime) || now.After(m.EndTime()) {
		return domain.Transfer{}, fmt.Errorf("settlement: place bet: %w", domain.ErrMarketNotActive)
	}
	if p.Claimed {
		return domain.Transfer{}, fmt.Errorf("settlement: place bet: %w", domain.ErrAlreadyClaimed)
	}

	shares, err := Shares(amount)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("settlement: place bet: %w", err)
	}
	funds, carry := bits.Add64(m.TotalFunds, amount, 0)
	if carry != 0 {
		return domain.Transfer{}, errAmountOverflow("place bet")
	}

	var marketSide, positionSide uint64
	switch side {
	case domain.SideYes:
		marketSide, positionSide = m.TotalYesShares, p.YesShares
	case domain.SideNo:
		marketSide, positionSide = m.TotalNoShares, p.NoShares
	}
	newMarketSide, c1 := bits.Add64(marketSide, shares, 0)
	newPositionSide, c2 := bits.Add64(positionSide, shares, 0)
	if c1 != 0 || c2 != 0 {
		return domain.Transfer{}, errAmountOverflow("place bet")
	}

	if side == domain.SideYes {
		m.TotalYesShares, p.YesShares = newMarketSide, newPositionSide
	} else {
		m.TotalNoShares, p.NoShares = newMarketSide, newPositionSide
	}
	m.TotalFunds = funds
	m.UpdatedAt = now
	p.UpdatedAt = now

	return domain.Transfer{
		From:     domain.UserAccount(p.User),
		To:       m.EscrowAccount(),
		Amount:   amount,
		Kind:     domain.TransferBet,
		MarketID: m.ID,
	}, nil
}

// CancelBet withdraws every share p holds, refunding along the refund curve.
// Cancellation is only possible during the grace window at the start of the
// market: now < start + min(CancelWindow, duration).
func (e *Engine) CancelBet(m *domain.Market, p *domain.Position) (domain.Transfer, error) {
	if p.MarketID != m.ID {
		return domain.Transfer{}, fmt.Errorf("settlement: cancel bet: %w", domain.ErrPositionMismatch)
	}
	if m.Resolved {
		return domain.Transfer{}, fmt.Errorf("settlement: cancel bet: %w", domain.ErrMarketAlreadyResolved)
	}
	now := e.clock.Now()
	if !now.Before(e.cancelDeadline(m)) {
		return domain.Transfer{}, fmt.Errorf("settlement: cancel bet: %w", domain.ErrMarketAlreadyStarted)
	}
	total := p.TotalShares()
	if total == 0 {
		return domain.Transfer{}, fmt.Errorf("settlement: cancel bet: %w", domain.ErrEmptyPosition)
	}
	refund := Refund(total, now.Sub(m.StartTime), m.Duration)
	if refund > m.TotalFunds {
		return domain.Transfer{}, fmt.Errorf("settlement: cancel bet: %w", domain.ErrInsufficientMarketFunds)
	}
	if p.YesShares > m.TotalYesShares || p.NoShares > m.TotalNoShares {
		return domain.Transfer{}, fmt.Errorf("settlement: cancel bet: position exceeds market totals")
	}

	m.TotalYesShares -= p.YesShares
	m.TotalNoShares -= p.NoShares
	m.TotalFunds -= refund
	m.UpdatedAt = now
	p.YesShares = 0
	p.NoShares = 0
	p.UpdatedAt = now

	return domain.Transfer{
		From:     m.EscrowAccount(),
		To:       domain.UserAccount(p.User),
		Amount:   refund,
		Kind:     domain.TransferRefund,
		MarketID: m.ID,
	}, nil
}

// CancelDeadline is the first instant at which CancelBet fails for m.
func (e *Engine) CancelDeadline(m domain.Market) time.Time {
	return e.cancelDeadline(&m)
}

func (e *Engine) cancelDeadline(m *domain.Market) time.Time {
	window := e.params.CancelWindow
	if m.Duration < window {
		window = m.Duration
	}
	return m.StartTime.Add(window)
}

// fetchPrice reads the oracle and re-checks staleness against now so that an
// oracle which ignores maxAge cannot resolve a market.
func (e *Engine) fetchPrice(ctx context.Context, feedID string, now time.Time) (domain.PriceQuote, error) {
	q, err := e.oracle.GetPrice(ctx, feedID, e.params.MaxPriceAge)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("%w: %w", domain.ErrPriceFetchFailed, err)
	}
	if now.Sub(q.PublishedAt) > e.params.MaxPriceAge {
		return domain.PriceQuote{}, fmt.Errorf("%w: %w: published %s", domain.ErrPriceFetchFailed, domain.ErrPriceStale, q.PublishedAt.Format(time.RFC3339))
	}
	return q, nil
}

func errAmountOverflow(op string) error {
	return fmt.Errorf("settlement: %s: %w", op, domain.ErrAmountOverflow)
}
