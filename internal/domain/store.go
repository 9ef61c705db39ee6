package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets. Inside a transaction Get locks the row for
// the remainder of the transaction.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Get(ctx context.Context, id uuid.UUID) (Market, error)
	Update(ctx context.Context, m Market) error
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListExpiredUnresolved(ctx context.Context, now time.Time, limit int) ([]Market, error)
	ListSettledUnarchived(ctx context.Context, limit int) ([]Market, error)
	MarkArchived(ctx context.Context, id uuid.UUID, at time.Time) error
}

// PositionStore persists per-(market, user) positions. Inside a transaction
// Get locks the row.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Get(ctx context.Context, marketID uuid.UUID, user common.Address) (Position, error)
	Update(ctx context.Context, p Position) error
	ListByMarket(ctx context.Context, marketID uuid.UUID) ([]Position, error)
}

// FeedStore persists the registry of price feeds markets may use.
type FeedStore interface {
	Register(ctx context.Context, f Feed) error
	Get(ctx context.Context, id string) (Feed, error)
	List(ctx context.Context) ([]Feed, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// ListForMarket returns one market's trail oldest first.
	ListForMarket(ctx context.Context, marketID uuid.UUID, limit int) ([]AuditEntry, error)
}

// Tx is the record set visible to one operation.
type Tx interface {
	Markets() MarketStore
	Positions() PositionStore
	Feeds() FeedStore
	Ledger() Ledger
	Audit() AuditStore
}

// Store exposes non-locking reads through Tx and runs serializable units of
// work through InTx. If fn returns an error nothing it wrote is kept.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
