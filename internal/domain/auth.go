package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a permission checked before a mutating operation.
type Role string

const (
	RoleMarketCreator Role = "market_creator"
	RoleFeedAdmin     Role = "feed_admin"
	RoleLedgerAdmin   Role = "ledger_admin"
	RoleResolver      Role = "resolver"
)

// Authorizer decides whether caller holds role. Per-market authority checks
// (resolve, fee withdrawal) compare against Market.Authority directly.
type Authorizer interface {
	IsAuthorized(ctx context.Context, caller common.Address, role Role) bool
}
