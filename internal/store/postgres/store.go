package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements domain.Store. Reads made through its accessors use the
// pool directly; InTx runs fn in a single transaction in which market and
// position reads take row locks.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx implements domain.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, txStores{db: tx, lock: true})
	})
}

func (s *Store) stores() txStores { return txStores{db: s.pool} }

// Markets implements domain.Tx.
func (s *Store) Markets() domain.MarketStore { return s.stores().Markets() }

// Positions implements domain.Tx.
func (s *Store) Positions() domain.PositionStore { return s.stores().Positions() }

// Feeds implements domain.Tx.
func (s *Store) Feeds() domain.FeedStore { return s.stores().Feeds() }

// Ledger implements domain.Tx.
func (s *Store) Ledger() domain.Ledger { return s.stores().Ledger() }

// Audit implements domain.Tx.
func (s *Store) Audit() domain.AuditStore { return s.stores().Audit() }

type txStores struct {
	db   dbtx
	lock bool
}

func (t txStores) Markets() domain.MarketStore {
	return &MarketStore{db: t.db, forUpdate: t.lock}
}

func (t txStores) Positions() domain.PositionStore {
	return &PositionStore{db: t.db, forUpdate: t.lock}
}

func (t txStores) Feeds() domain.FeedStore   { return &FeedStore{db: t.db} }
func (t txStores) Ledger() domain.Ledger     { return &LedgerStore{db: t.db} }
func (t txStores) Audit() domain.AuditStore  { return &AuditStore{db: t.db} }

const (
	pgUniqueViolation   = "23505"
	pgNumericOutOfRange = "22003"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// toInt8 converts an amount for a BIGINT column.
func toInt8(v uint64, field string) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("postgres: %s %d: %w", field, v, domain.ErrAmountOverflow)
	}
	return int64(v), nil
}

func fromInt8(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
