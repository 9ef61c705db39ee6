package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

type feedStore struct{ v view }

func (s feedStore) Register(_ context.Context, f domain.Feed) error {
	return s.v.with(func(st *state) error {
		if _, ok := st.feeds[f.ID]; ok {
			return fmt.Errorf("memory: register feed %s: %w", f.ID, domain.ErrAlreadyExists)
		}
		st.feeds[f.ID] = f
		return nil
	})
}

func (s feedStore) Get(_ context.Context, id string) (domain.Feed, error) {
	var out domain.Feed
	err := s.v.with(func(st *state) error {
		f, ok := st.feeds[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = f
		return nil
	})
	return out, err
}

func (s feedStore) List(_ context.Context) ([]domain.Feed, error) {
	var out []domain.Feed
	err := s.v.with(func(st *state) error {
		for _, f := range st.feeds {
			out = append(out, f)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Feed) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}
