package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db        dbtx
	forUpdate bool
}

const positionSelectCols = `market_id, user_address, yes_shares, no_shares, claimed, created_at, updated_at`

// Create inserts an empty or pre-filled position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	yes, err := toInt8(p.YesShares, "yes_shares")
	if err != nil {
		return err
	}
	no, err := toInt8(p.NoShares, "no_shares")
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO positions (market_id, user_address, yes_shares, no_shares, claimed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	if _, err := s.db.Exec(ctx, query, p.MarketID, p.User.Hex(), yes, no, p.Claimed, p.CreatedAt); err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("postgres: create position %s/%s: %w", p.MarketID, p.User.Hex(), domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s/%s: %w", p.MarketID, p.User.Hex(), err)
	}
	return nil
}

// Get retrieves one user's position in a market, locking it inside a
// transaction.
func (s *PositionStore) Get(ctx context.Context, marketID uuid.UUID, user common.Address) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE market_id = $1 AND user_address = $2`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPosition(s.db.QueryRow(ctx, query, marketID, user.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", marketID, user.Hex(), err)
	}
	return p, nil
}

// Update replaces the share counts and claim flag of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	yes, err := toInt8(p.YesShares, "yes_shares")
	if err != nil {
		return err
	}
	no, err := toInt8(p.NoShares, "no_shares")
	if err != nil {
		return err
	}
	const query = `
		UPDATE positions SET
			yes_shares = $3,
			no_shares  = $4,
			claimed    = $5,
			updated_at = NOW()
		WHERE market_id = $1 AND user_address = $2`

	tag, err := s.db.Exec(ctx, query, p.MarketID, p.User.Hex(), yes, no, p.Claimed)
	if err != nil {
		return fmt.Errorf("postgres: update position %s/%s: %w", p.MarketID, p.User.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByMarket returns every position in a market ordered by user.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID uuid.UUID) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE market_id = $1 ORDER BY user_address`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", marketID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p       domain.Position
		user    string
		yes, no int64
	)
	if err := row.Scan(&p.MarketID, &user, &yes, &no, &p.Claimed, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Position{}, err
	}
	p.User = common.HexToAddress(user)
	p.YesShares = fromInt8(yes)
	p.NoShares = fromInt8(no)
	return p, nil
}
