package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/google/uuid"
)

type marketStore struct{ v view }

func (s marketStore) Create(_ context.Context, m domain.Market) error {
	return s.v.with(func(st *state) error {
		if _, ok := st.markets[m.ID]; ok {
			return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		st.markets[m.ID] = m
		return nil
	})
}

func (s marketStore) Get(_ context.Context, id uuid.UUID) (domain.Market, error) {
	var out domain.Market
	err := s.v.with(func(st *state) error {
		m, ok := st.markets[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = m
		return nil
	})
	return out, err
}

func (s marketStore) Update(_ context.Context, m domain.Market) error {
	return s.v.with(func(st *state) error {
		if _, ok := st.markets[m.ID]; !ok {
			return domain.ErrNotFound
		}
		st.markets[m.ID] = m
		return nil
	})
}

func (s marketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	err := s.v.with(func(st *state) error {
		for _, m := range st.markets {
			if inRange(m.CreatedAt, opts) {
				out = append(out, m)
			}
		}
		return nil
	})
	sortNewestFirst(out)
	return page(out, opts), err
}

func (s marketStore) ListExpiredUnresolved(_ context.Context, now time.Time, limit int) ([]domain.Market, error) {
	return s.filter(limit, func(m domain.Market) bool {
		return !m.Resolved && now.After(m.EndTime())
	})
}

func (s marketStore) ListSettledUnarchived(_ context.Context, limit int) ([]domain.Market, error) {
	return s.filter(limit, func(m domain.Market) bool {
		return m.Settled() && m.ArchivedAt == nil
	})
}

func (s marketStore) MarkArchived(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.v.with(func(st *state) error {
		m, ok := st.markets[id]
		if !ok {
			return domain.ErrNotFound
		}
		m.ArchivedAt = &at
		st.markets[id] = m
		return nil
	})
}

func (s marketStore) filter(limit int, keep func(domain.Market) bool) ([]domain.Market, error) {
	var out []domain.Market
	err := s.v.with(func(st *state) error {
		for _, m := range st.markets {
			if keep(m) {
				out = append(out, m)
			}
		}
		return nil
	})
	// Oldest end time first, matching the postgres ordering.
	slices.SortFunc(out, func(a, b domain.Market) int {
		return a.EndTime().Compare(b.EndTime())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func sortNewestFirst(ms []domain.Market) {
	slices.SortFunc(ms, func(a, b domain.Market) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
}
