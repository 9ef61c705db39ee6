// Package memory implements the domain store interfaces in process memory.
//
// Every InTx call holds one mutex for its whole duration and works on a copy
// of the data, which replaces the live copy only when fn succeeds. InTx is not
// reentrant.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type positionKey struct {
	market uuid.UUID
	user   common.Address
}

type state struct {
	markets   map[uuid.UUID]domain.Market
	positions map[positionKey]domain.Position
	feeds     map[string]domain.Feed
	balances  map[string]uint64
	entries   []domain.LedgerEntry
	audit     []domain.AuditEntry
	nextAudit int64
}

func newState() *state {
	return &state{
		markets:   make(map[uuid.UUID]domain.Market),
		positions: make(map[positionKey]domain.Position),
		feeds:     make(map[string]domain.Feed),
		balances:  make(map[string]uint64),
		nextAudit: 1,
	}
}

func (s *state) clone() *state {
	return &state{
		markets:   maps.Clone(s.markets),
		positions: maps.Clone(s.positions),
		feeds:     maps.Clone(s.feeds),
		balances:  maps.Clone(s.balances),
		entries:   slices.Clone(s.entries),
		audit:     slices.Clone(s.audit),
		nextAudit: s.nextAudit,
	}
}

// Store is an in-memory domain.Store.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// InTx implements domain.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, view{store: s, tx: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Markets implements domain.Tx for reads outside a transaction.
func (s *Store) Markets() domain.MarketStore { return marketStore{view{store: s}} }

// Positions implements domain.Tx.
func (s *Store) Positions() domain.PositionStore { return positionStore{view{store: s}} }

// Feeds implements domain.Tx.
func (s *Store) Feeds() domain.FeedStore { return feedStore{view{store: s}} }

// Ledger implements domain.Tx.
func (s *Store) Ledger() domain.Ledger { return ledger{view{store: s}} }

// Audit implements domain.Tx.
func (s *Store) Audit() domain.AuditStore { return auditStore{view{store: s}} }

// view runs against the transaction's working copy when tx is set, or
// against the live state under the store mutex otherwise.
type view struct {
	store *Store
	tx    *state
}

func (v view) with(fn func(st *state) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.state)
}

func (v view) Markets() domain.MarketStore     { return marketStore{v} }
func (v view) Positions() domain.PositionStore { return positionStore{v} }
func (v view) Feeds() domain.FeedStore         { return feedStore{v} }
func (v view) Ledger() domain.Ledger           { return ledger{v} }
func (v view) Audit() domain.AuditStore        { return auditStore{v} }

// page applies offset and limit to an already ordered slice.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}
