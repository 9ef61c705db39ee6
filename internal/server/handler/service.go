package handler

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/service"
)

// Settlement is the service surface the handlers need. It is declared here
// so handlers can be tested against a fake.
type Settlement interface {
	CreateMarket(ctx context.Context, caller common.Address, req service.CreateMarketRequest) (service.Receipt, error)
	OpenPosition(ctx context.Context, caller common.Address, marketID uuid.UUID) (service.Receipt, error)
	PlaceBet(ctx context.Context, caller common.Address, marketID uuid.UUID, amount uint64, side domain.Side) (service.Receipt, error)
	CancelBet(ctx context.Context, caller common.Address, marketID uuid.UUID) (service.Receipt, error)
	Resolve(ctx context.Context, caller common.Address, marketID uuid.UUID) (service.Receipt, error)
	Claim(ctx context.Context, caller common.Address, marketID uuid.UUID) (service.Receipt, error)
	WithdrawFee(ctx context.Context, caller common.Address, marketID uuid.UUID) (service.Receipt, error)

	RegisterFeed(ctx context.Context, caller common.Address, req service.RegisterFeedRequest) (domain.Feed, error)
	PostPrice(ctx context.Context, caller common.Address, feedID string, price int64, at time.Time) (domain.PriceQuote, error)
	ListFeeds(ctx context.Context) ([]domain.Feed, error)

	Deposit(ctx context.Context, caller, account common.Address, amount uint64) (uint64, error)
	Balance(ctx context.Context, account string) (uint64, error)

	GetMarket(ctx context.Context, id uuid.UUID) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	GetPosition(ctx context.Context, marketID uuid.UUID, user common.Address) (domain.Position, error)
	ListPositions(ctx context.Context, marketID uuid.UUID) ([]domain.Position, error)
	Claimable(ctx context.Context, marketID uuid.UUID, user common.Address) (uint64, error)
	ListEntries(ctx context.Context, marketID uuid.UUID) ([]domain.LedgerEntry, error)
	ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	MarketAudit(ctx context.Context, marketID uuid.UUID, limit int) ([]domain.AuditEntry, error)
	LoadArchive(ctx context.Context, marketID uuid.UUID) (domain.MarketSnapshot, error)
}

var _ Settlement = (*service.SettlementService)(nil)
