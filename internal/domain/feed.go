package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Feed registers a price feed that markets may be created against. Source is
// the on-chain aggregator (or other upstream) the oracle reads for it.
type Feed struct {
	ID           string         `json:"id"`
	Source       common.Address `json:"source"`
	Decimals     uint8          `json:"decimals"`
	RegisteredBy common.Address `json:"registered_by"`
	CreatedAt    time.Time      `json:"created_at"`
}
