package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransferKind labels why value moved.
type TransferKind string

const (
	TransferCreationFee TransferKind = "creation_fee"
	TransferBet         TransferKind = "bet"
	TransferRefund      TransferKind = "refund"
	TransferPayout      TransferKind = "payout"
	TransferProtocolFee TransferKind = "protocol_fee"
	TransferDeposit     TransferKind = "deposit"
)

// Transfer is a value movement requested by the settlement engine. It is
// applied by the ledger in the same transaction as the state change that
// produced it.
type Transfer struct {
	From     string       `json:"from"`
	To       string       `json:"to"`
	Amount   uint64       `json:"amount"`
	Kind     TransferKind `json:"kind"`
	MarketID uuid.UUID    `json:"market_id"`
}

// FromUser reports whether the debited account belongs to a user rather than
// a market escrow.
func (t Transfer) FromUser() bool {
	switch t.Kind {
	case TransferBet, TransferCreationFee:
		return true
	}
	return false
}

// LedgerEntry is a committed transfer.
type LedgerEntry struct {
	ID        uuid.UUID    `json:"id"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Amount    uint64       `json:"amount"`
	Kind      TransferKind `json:"kind"`
	MarketID  *uuid.UUID   `json:"market_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Ledger holds account balances. Transfer returns ErrInsufficientFunds when
// the source balance does not cover the amount.
type Ledger interface {
	Balance(ctx context.Context, account string) (uint64, error)
	Transfer(ctx context.Context, t Transfer) error
	Deposit(ctx context.Context, account string, amount uint64) error
	ListEntries(ctx context.Context, marketID uuid.UUID) ([]LedgerEntry, error)
}
