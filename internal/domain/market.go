package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Outcome is the tri-state resolution result of a market.
type Outcome int8

const (
	OutcomeUnresolved Outcome = iota
	OutcomeYes
	OutcomeNo
)

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	default:
		return "unresolved"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "yes":
		*o = OutcomeYes
	case "no":
		*o = OutcomeNo
	case "", "unresolved":
		*o = OutcomeUnresolved
	default:
		return fmt.Errorf("domain: unknown outcome %q", string(text))
	}
	return nil
}

// Side is the outcome a bettor stakes on.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// ParseSide accepts "yes"/"no" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// marketNamespace seeds deterministic market IDs so that one authority can
// hold at most one market per symbol.
var marketNamespace = uuid.MustParse("4f1c6a52-93d5-4a8e-b0a4-7f3c2f5d6e01")

// MarketID derives the market identifier for (authority, symbol).
func MarketID(authority common.Address, symbol string) uuid.UUID {
	seed := append(authority.Bytes(), []byte(symbol)...)
	return uuid.NewSHA1(marketNamespace, seed)
}

// Market is a single binary staking pool tied to one price feed and one
// betting window.
type Market struct {
	ID     uuid.UUID `json:"id"`
	Symbol string    `json:"symbol"`
	FeedID string    `json:"feed_id"`

	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`

	TotalYesShares uint64 `json:"total_yes_shares"`
	TotalNoShares  uint64 `json:"total_no_shares"`
	TotalFunds     uint64 `json:"total_funds"`
	// SettledFunds is TotalFunds as of resolution; payouts and the protocol
	// fee are computed against it.
	SettledFunds uint64 `json:"settled_funds"`

	Resolved       bool    `json:"resolved"`
	WinningOutcome Outcome `json:"winning_outcome"`
	InitialPrice   *int64  `json:"initial_price,omitempty"`
	FinalPrice     *int64  `json:"final_price,omitempty"`

	Authority         common.Address `json:"authority"`
	TeamFeePaid       bool           `json:"team_fee_paid"`
	TeamFeeUnlockTime time.Time      `json:"team_fee_unlock_time"`

	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// EndTime is the last instant at which bets are accepted.
func (m Market) EndTime() time.Time {
	return m.StartTime.Add(m.Duration)
}

// EscrowAccount is the ledger account holding the market's pooled funds.
func (m Market) EscrowAccount() string {
	return EscrowAccount(m.ID)
}

// EscrowAccount returns the ledger account name for a market ID.
func EscrowAccount(id uuid.UUID) string {
	return "market:" + id.String()
}

// Settled reports whether every value movement the market owes has
// happened from the protocol's side: resolved and fee withdrawn.
func (m Market) Settled() bool {
	return m.Resolved && m.TeamFeePaid
}
