package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Position is one user's share holdings in one market.
type Position struct {
	MarketID  uuid.UUID      `json:"market_id"`
	User      common.Address `json:"user"`
	YesShares uint64         `json:"yes_shares"`
	NoShares  uint64         `json:"no_shares"`
	Claimed   bool           `json:"claimed"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TotalShares is the sum of both sides.
func (p Position) TotalShares() uint64 {
	return p.YesShares + p.NoShares
}

// UserAccount returns the ledger account name for a user address.
func UserAccount(addr common.Address) string {
	return addr.Hex()
}
