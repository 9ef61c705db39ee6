package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	db        dbtx
	forUpdate bool
}

const marketSelectCols = `
	id, authority, symbol, feed_id, start_time, duration_ns,
	total_yes_shares, total_no_shares, total_funds, settled_funds,
	resolved, winning_outcome, initial_price, final_price,
	team_fee_paid, team_fee_unlock_time, resolved_at, archived_at,
	created_at, updated_at`

type marketRow struct {
	yes, no, funds, settled int64
}

func marketArgs(m domain.Market) ([]any, error) {
	var r marketRow
	var err error
	if r.yes, err = toInt8(m.TotalYesShares, "total_yes_shares"); err != nil {
		return nil, err
	}
	if r.no, err = toInt8(m.TotalNoShares, "total_no_shares"); err != nil {
		return nil, err
	}
	if r.funds, err = toInt8(m.TotalFunds, "total_funds"); err != nil {
		return nil, err
	}
	if r.settled, err = toInt8(m.SettledFunds, "settled_funds"); err != nil {
		return nil, err
	}
	return []any{
		m.ID, m.Authority.Hex(), m.Symbol, m.FeedID, m.StartTime, int64(m.Duration), m.EndTime(),
		r.yes, r.no, r.funds, r.settled,
		m.Resolved, int16(m.WinningOutcome), m.InitialPrice, m.FinalPrice,
		m.TeamFeePaid, m.TeamFeeUnlockTime, m.ResolvedAt, m.ArchivedAt,
		m.CreatedAt,
	}, nil
}

// Create inserts a new market. A market with the same ID or the same
// (authority, symbol) pair yields domain.ErrAlreadyExists.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, authority, symbol, feed_id, start_time, duration_ns, end_time,
			total_yes_shares, total_no_shares, total_funds, settled_funds,
			resolved, winning_outcome, initial_price, final_price,
			team_fee_paid, team_fee_unlock_time, resolved_at, archived_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, NOW()
		)`

	args, err := marketArgs(m)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// Get retrieves a market by ID. Inside a transaction the row stays locked
// until commit.
func (s *MarketStore) Get(ctx context.Context, id uuid.UUID) (domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMarket(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// Update replaces every mutable field of a market.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			authority            = $2,
			symbol               = $3,
			feed_id              = $4,
			start_time           = $5,
			duration_ns          = $6,
			end_time             = $7,
			total_yes_shares     = $8,
			total_no_shares      = $9,
			total_funds          = $10,
			settled_funds        = $11,
			resolved             = $12,
			winning_outcome      = $13,
			initial_price        = $14,
			final_price          = $15,
			team_fee_paid        = $16,
			team_fee_unlock_time = $17,
			resolved_at          = $18,
			archived_at          = $19,
			updated_at           = NOW()
		WHERE id = $1`

	args, err := marketArgs(m)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, query, args[:19]...)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns markets newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	tail, args := pageClause(opts, "created_at DESC, id")
	return s.query(ctx, "list markets", `SELECT `+marketSelectCols+` FROM markets`+tail, args)
}

// ListExpiredUnresolved returns unresolved markets whose betting window
// closed before now, oldest first.
func (s *MarketStore) ListExpiredUnresolved(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	return s.query(ctx, "list expired markets",
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE NOT resolved AND end_time < $1
		 ORDER BY end_time
		 LIMIT $2`, now, limitOrAll(limit))
}

// ListSettledUnarchived returns resolved markets whose fee has been
// withdrawn and that have not been archived yet.
func (s *MarketStore) ListSettledUnarchived(ctx context.Context, limit int) ([]domain.Market, error) {
	return s.query(ctx, "list settled markets",
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE resolved AND team_fee_paid AND archived_at IS NULL
		 ORDER BY end_time
		 LIMIT $1`, limitOrAll(limit))
}

// MarkArchived records when a market snapshot was written to blob storage.
func (s *MarketStore) MarkArchived(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE markets SET archived_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark market %s archived: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MarketStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return markets, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                       domain.Market
		authority               string
		durationNS              int64
		yes, no, funds, settled int64
		outcome                 int16
	)
	err := row.Scan(
		&m.ID, &authority, &m.Symbol, &m.FeedID, &m.StartTime, &durationNS,
		&yes, &no, &funds, &settled,
		&m.Resolved, &outcome, &m.InitialPrice, &m.FinalPrice,
		&m.TeamFeePaid, &m.TeamFeeUnlockTime, &m.ResolvedAt, &m.ArchivedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Authority = common.HexToAddress(authority)
	m.Duration = time.Duration(durationNS)
	m.TotalYesShares = fromInt8(yes)
	m.TotalNoShares = fromInt8(no)
	m.TotalFunds = fromInt8(funds)
	m.SettledFunds = fromInt8(settled)
	m.WinningOutcome = domain.Outcome(outcome)
	return m, nil
}

// limitOrAll maps a non-positive limit to no limit.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
