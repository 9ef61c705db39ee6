package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// AuditStore implements domain.AuditStore. Entries written inside InTx
// commit with the operation they describe; market_id and actor are indexed
// columns generated from the detail document.
type AuditStore struct {
	db dbtx
}

// Log appends an entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES (@event, @detail)`,
		pgx.NamedArgs{"event": event, "detail": detail},
	)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	tail, args := pageClause(opts, "created_at DESC, id DESC")
	rows, err := s.db.Query(ctx, `SELECT id, event, detail, created_at FROM audit_log`+tail, args)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAudit)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit: %w", err)
	}
	return entries, nil
}

// ListForMarket returns the audit trail of one market in commit order.
func (s *AuditStore) ListForMarket(ctx context.Context, marketID uuid.UUID, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, event, detail, created_at FROM audit_log
		 WHERE market_id = @market ORDER BY id LIMIT @limit`,
		pgx.NamedArgs{"market": marketID.String(), "limit": limitOrAll(limit)},
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit for %s: %w", marketID, err)
	}
	entries, err := pgx.CollectRows(rows, scanAudit)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit: %w", err)
	}
	return entries, nil
}

func scanAudit(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	err := row.Scan(&e.ID, &e.Event, &e.Detail, &e.CreatedAt)
	return e, err
}
