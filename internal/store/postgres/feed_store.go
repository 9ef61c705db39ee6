package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// FeedStore implements domain.FeedStore using PostgreSQL.
type FeedStore struct {
	db dbtx
}

// Register inserts a feed. Registering an existing ID fails with
// domain.ErrAlreadyExists.
func (s *FeedStore) Register(ctx context.Context, f domain.Feed) error {
	const query = `
		INSERT INTO feeds (id, source, decimals, registered_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(ctx, query, f.ID, f.Source.Hex(), int16(f.Decimals), f.RegisteredBy.Hex(), f.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("postgres: register feed %s: %w", f.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: register feed %s: %w", f.ID, err)
	}
	return nil
}

// Get retrieves a feed by ID.
func (s *FeedStore) Get(ctx context.Context, id string) (domain.Feed, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, source, decimals, registered_by, created_at FROM feeds WHERE id = $1`, id)
	f, err := scanFeed(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Feed{}, domain.ErrNotFound
		}
		return domain.Feed{}, fmt.Errorf("postgres: get feed %s: %w", id, err)
	}
	return f, nil
}

// List returns every registered feed ordered by ID.
func (s *FeedStore) List(ctx context.Context) ([]domain.Feed, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, source, decimals, registered_by, created_at FROM feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []domain.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list feeds rows: %w", err)
	}
	return feeds, nil
}

func scanFeed(row pgx.Row) (domain.Feed, error) {
	var (
		f                    domain.Feed
		source, registeredBy string
		decimals             int16
	)
	if err := row.Scan(&f.ID, &source, &decimals, &registeredBy, &f.CreatedAt); err != nil {
		return domain.Feed{}, err
	}
	f.Source = common.HexToAddress(source)
	f.RegisteredBy = common.HexToAddress(registeredBy)
	f.Decimals = uint8(decimals)
	return f, nil
}
