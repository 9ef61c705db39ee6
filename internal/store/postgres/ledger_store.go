package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// LedgerStore implements domain.Ledger with an accounts table holding
// balances and an append-only entries table.
type LedgerStore struct {
	db dbtx
}

// Balance returns the balance of account, zero for unknown accounts.
func (s *LedgerStore) Balance(ctx context.Context, account string) (uint64, error) {
	var bal int64
	err := s.db.QueryRow(ctx,
		`SELECT balance FROM ledger_accounts WHERE account = $1`, account).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return fromInt8(bal), nil
}

// Transfer debits t.From and credits t.To atomically. Inside InTx this runs
// in a savepoint of the caller's transaction.
func (s *LedgerStore) Transfer(ctx context.Context, t domain.Transfer) error {
	if t.Amount == 0 {
		return nil
	}
	amount, err := toInt8(t.Amount, "amount")
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE ledger_accounts SET balance = balance - $2, updated_at = NOW()
			WHERE account = $1 AND balance >= $2`, t.From, amount)
		if err != nil {
			return fmt.Errorf("postgres: debit %s: %w", t.From, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: transfer %s %d from %s: %w", t.Kind, t.Amount, t.From, domain.ErrInsufficientFunds)
		}
		if err := credit(ctx, tx, t.To, amount); err != nil {
			return err
		}
		return insertEntry(ctx, tx, t, amount)
	})
}

// Deposit credits account from outside the ledger.
func (s *LedgerStore) Deposit(ctx context.Context, account string, amount uint64) error {
	v, err := toInt8(amount, "amount")
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := credit(ctx, tx, account, v); err != nil {
			return err
		}
		return insertEntry(ctx, tx, domain.Transfer{To: account, Amount: amount, Kind: domain.TransferDeposit}, v)
	})
}

// ListEntries returns the entries tagged with marketID in commit order.
func (s *LedgerStore) ListEntries(ctx context.Context, marketID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, from_account, to_account, amount, kind, market_id, created_at
		FROM ledger_entries WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries %s: %w", marketID, err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e      domain.LedgerEntry
			amount int64
			kind   string
			market uuid.NullUUID
		)
		if err := rows.Scan(&e.ID, &e.From, &e.To, &amount, &kind, &market, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Amount = fromInt8(amount)
		e.Kind = domain.TransferKind(kind)
		if market.Valid {
			id := market.UUID
			e.MarketID = &id
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries rows: %w", err)
	}
	return entries, nil
}

func credit(ctx context.Context, tx pgx.Tx, account string, amount int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_accounts (account, balance) VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET
			balance    = ledger_accounts.balance + EXCLUDED.balance,
			updated_at = NOW()`, account, amount)
	if err != nil {
		if pgCode(err) == pgNumericOutOfRange {
			return fmt.Errorf("postgres: credit %s: %w", account, domain.ErrAmountOverflow)
		}
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, t domain.Transfer, amount int64) error {
	market := uuid.NullUUID{UUID: t.MarketID, Valid: t.MarketID != uuid.Nil}
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, from_account, to_account, amount, kind, market_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), t.From, t.To, amount, string(t.Kind), market, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: record %s entry: %w", t.Kind, err)
	}
	return nil
}
