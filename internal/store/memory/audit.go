package memory

import (
	"context"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

type auditStore struct{ v view }

func (s auditStore) Log(_ context.Context, event string, detail map[string]any) error {
	return s.v.with(func(st *state) error {
		st.audit = append(st.audit, domain.AuditEntry{
			ID:        st.nextAudit,
			Event:     event,
			Detail:    maps.Clone(detail),
			CreatedAt: s.v.store.now(),
		})
		st.nextAudit++
		return nil
	})
}

func (s auditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := s.v.with(func(st *state) error {
		for _, e := range st.audit {
			if inRange(e.CreatedAt, opts) {
				out = append(out, e)
			}
		}
		return nil
	})
	slices.Reverse(out)
	return page(out, opts), err
}

func (s auditStore) ListForMarket(_ context.Context, marketID uuid.UUID, limit int) ([]domain.AuditEntry, error) {
	id := marketID.String()
	var out []domain.AuditEntry
	err := s.v.with(func(st *state) error {
		for _, e := range st.audit {
			if e.Detail["market_id"] == id {
				out = append(out, e)
			}
		}
		return nil
	})
	return page(out, domain.ListOpts{Limit: limit}), err
}
