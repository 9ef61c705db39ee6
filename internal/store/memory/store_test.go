package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

var (
	authority = common.HexToAddress("0xa1")
	alice     = common.HexToAddress("0x11")
)

func testMarket(now time.Time) domain.Market {
	return domain.Market{
		ID:        domain.MarketID(authority, "ETH"),
		Symbol:    "ETH",
		FeedID:    "ETH/USD",
		StartTime: now,
		Duration:  time.Hour,
		Authority: authority,
		CreatedAt: now,
	}
}

func TestInTxRollback(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	m := testMarket(now)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Markets().Create(ctx, m); err != nil {
			return err
		}
		if err := tx.Ledger().Deposit(ctx, "x", 10); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}
	if _, err := s.Markets().Get(ctx, m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rolled back market still visible: %v", err)
	}
	if bal, _ := s.Ledger().Balance(ctx, "x"); bal != 0 {
		t.Fatalf("rolled back deposit visible: %d", bal)
	}
}

func TestInTxCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	m := testMarket(time.Now().UTC())

	err := s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Markets().Create(ctx, m); err != nil {
			return err
		}
		return tx.Positions().Create(ctx, domain.Position{MarketID: m.ID, User: alice})
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	p, err := s.Positions().Get(ctx, m.ID, alice)
	if err != nil || p.User != alice {
		t.Fatalf("position = %+v, err %v", p, err)
	}
	if err := s.Markets().Create(ctx, m); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate create err = %v", err)
	}
	if err := s.Positions().Create(ctx, domain.Position{MarketID: m.ID, User: alice}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate position err = %v", err)
	}
}

func TestLedgerTransfer(t *testing.T) {
	ctx := context.Background()
	s := New()
	l := s.Ledger()
	m := testMarket(time.Now().UTC())

	if err := l.Deposit(ctx, "alice", 100); err != nil {
		t.Fatal(err)
	}
	err := l.Transfer(ctx, domain.Transfer{From: "alice", To: "bob", Amount: 101, Kind: domain.TransferBet})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("overdraft err = %v", err)
	}
	if err := l.Transfer(ctx, domain.Transfer{From: "alice", To: "bob", Amount: 60, Kind: domain.TransferBet, MarketID: m.ID}); err != nil {
		t.Fatal(err)
	}
	a, _ := l.Balance(ctx, "alice")
	b, _ := l.Balance(ctx, "bob")
	if a != 40 || b != 60 {
		t.Fatalf("balances = %d/%d", a, b)
	}
	entries, err := l.ListEntries(ctx, m.ID)
	if err != nil || len(entries) != 1 || entries[0].Amount != 60 {
		t.Fatalf("entries = %+v, err %v", entries, err)
	}
}

func TestLedgerSelfTransfer(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()
	m := testMarket(time.Now().UTC())
	if err := l.Deposit(ctx, "wallet", 100_000_000); err != nil {
		t.Fatal(err)
	}

	err := l.Transfer(ctx, domain.Transfer{From: "wallet", To: "wallet", Amount: 100_000_000, Kind: domain.TransferCreationFee, MarketID: m.ID})
	if err != nil {
		t.Fatal(err)
	}
	if bal, _ := l.Balance(ctx, "wallet"); bal != 100_000_000 {
		t.Fatalf("balance after self-transfer = %d", bal)
	}
	if entries, _ := l.ListEntries(ctx, m.ID); len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}

	err = l.Transfer(ctx, domain.Transfer{From: "wallet", To: "wallet", Amount: 100_000_001, Kind: domain.TransferCreationFee})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("self overdraft err = %v", err)
	}
}

func TestListExpiredUnresolved(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	expired := testMarket(now.Add(-2 * time.Hour))
	live := testMarket(now)
	live.ID = domain.MarketID(authority, "SOL")
	live.Symbol = "SOL"
	done := testMarket(now.Add(-3 * time.Hour))
	done.ID = domain.MarketID(authority, "BTC")
	done.Resolved = true
	done.TeamFeePaid = true

	for _, m := range []domain.Market{expired, live, done} {
		if err := s.Markets().Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Markets().ListExpiredUnresolved(ctx, now, 10)
	if err != nil || len(got) != 1 || got[0].ID != expired.ID {
		t.Fatalf("expired = %+v, err %v", got, err)
	}
	settled, err := s.Markets().ListSettledUnarchived(ctx, 10)
	if err != nil || len(settled) != 1 || settled[0].ID != done.ID {
		t.Fatalf("settled = %+v, err %v", settled, err)
	}
	if err := s.Markets().MarkArchived(ctx, done.ID, now); err != nil {
		t.Fatal(err)
	}
	if settled, _ := s.Markets().ListSettledUnarchived(ctx, 10); len(settled) != 0 {
		t.Fatalf("archived market still listed")
	}

	all, _ := s.Markets().List(ctx, domain.ListOpts{Limit: 2})
	if len(all) != 2 || all[0].ID != live.ID {
		t.Fatalf("list = %+v", all)
	}
}

func TestAuditListForMarket(t *testing.T) {
	ctx := context.Background()
	s := New()
	m := testMarket(time.Now())
	other := domain.MarketID(authority, "BTC")

	_ = s.Audit().Log(ctx, "market_created", map[string]any{"market_id": m.ID.String()})
	_ = s.Audit().Log(ctx, "feed_price_posted", map[string]any{"feed_id": "ETH/USD"})
	_ = s.Audit().Log(ctx, "market_created", map[string]any{"market_id": other.String()})
	_ = s.Audit().Log(ctx, "bet_placed", map[string]any{"market_id": m.ID.String()})

	trail, err := s.Audit().ListForMarket(ctx, m.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 2 || trail[0].Event != "market_created" || trail[1].Event != "bet_placed" {
		t.Fatalf("trail = %+v", trail)
	}
	if trail, _ := s.Audit().ListForMarket(ctx, m.ID, 1); len(trail) != 1 {
		t.Fatalf("limited trail = %d", len(trail))
	}
}
