package memory

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/google/uuid"
)

type ledger struct{ v view }

func (l ledger) Balance(_ context.Context, account string) (uint64, error) {
	var out uint64
	err := l.v.with(func(st *state) error {
		out = st.balances[account]
		return nil
	})
	return out, err
}

func (l ledger) Transfer(_ context.Context, t domain.Transfer) error {
	if t.Amount == 0 {
		return nil
	}
	return l.v.with(func(st *state) error {
		from := st.balances[t.From]
		if from < t.Amount {
			return fmt.Errorf("memory: transfer %s %d from %s: %w", t.Kind, t.Amount, t.From, domain.ErrInsufficientFunds)
		}
		if t.From == t.To {
			// Net zero; the entry is still recorded.
			l.record(st, t)
			return nil
		}
		to, carry := bits.Add64(st.balances[t.To], t.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("memory: transfer %s to %s: %w", t.Kind, t.To, domain.ErrAmountOverflow)
		}
		st.balances[t.From] = from - t.Amount
		st.balances[t.To] = to
		l.record(st, t)
		return nil
	})
}

func (l ledger) Deposit(_ context.Context, account string, amount uint64) error {
	return l.v.with(func(st *state) error {
		bal, carry := bits.Add64(st.balances[account], amount, 0)
		if carry != 0 {
			return fmt.Errorf("memory: deposit to %s: %w", account, domain.ErrAmountOverflow)
		}
		st.balances[account] = bal
		l.record(st, domain.Transfer{To: account, Amount: amount, Kind: domain.TransferDeposit})
		return nil
	})
}

func (l ledger) ListEntries(_ context.Context, marketID uuid.UUID) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := l.v.with(func(st *state) error {
		for _, e := range st.entries {
			if e.MarketID != nil && *e.MarketID == marketID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (l ledger) record(st *state, t domain.Transfer) {
	e := domain.LedgerEntry{
		ID:        uuid.New(),
		From:      t.From,
		To:        t.To,
		Amount:    t.Amount,
		Kind:      t.Kind,
		CreatedAt: l.v.store.now(),
	}
	if t.MarketID != uuid.Nil {
		id := t.MarketID
		e.MarketID = &id
	}
	st.entries = append(st.entries, e)
}
