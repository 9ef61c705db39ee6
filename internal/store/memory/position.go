package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type positionStore struct{ v view }

func (s positionStore) Create(_ context.Context, p domain.Position) error {
	key := positionKey{market: p.MarketID, user: p.User}
	return s.v.with(func(st *state) error {
		if _, ok := st.markets[p.MarketID]; !ok {
			return fmt.Errorf("memory: create position: market %s: %w", p.MarketID, domain.ErrNotFound)
		}
		if _, ok := st.positions[key]; ok {
			return fmt.Errorf("memory: create position %s/%s: %w", p.MarketID, p.User.Hex(), domain.ErrAlreadyExists)
		}
		st.positions[key] = p
		return nil
	})
}

func (s positionStore) Get(_ context.Context, marketID uuid.UUID, user common.Address) (domain.Position, error) {
	var out domain.Position
	err := s.v.with(func(st *state) error {
		p, ok := st.positions[positionKey{market: marketID, user: user}]
		if !ok {
			return domain.ErrNotFound
		}
		out = p
		return nil
	})
	return out, err
}

func (s positionStore) Update(_ context.Context, p domain.Position) error {
	key := positionKey{market: p.MarketID, user: p.User}
	return s.v.with(func(st *state) error {
		if _, ok := st.positions[key]; !ok {
			return domain.ErrNotFound
		}
		st.positions[key] = p
		return nil
	})
}

func (s positionStore) ListByMarket(_ context.Context, marketID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	err := s.v.with(func(st *state) error {
		for k, p := range st.positions {
			if k.market == marketID {
				out = append(out, p)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Position) int {
		return bytes.Compare(a.User[:], b.User[:])
	})
	return out, err
}
