package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

func resolveAt(t *testing.T, f *fixture, m *domain.Market, price int64) {
	t.Helper()
	f.clock.now = m.EndTime().Add(time.Second)
	f.oracle.price = price
	if _, err := f.engine.Resolve(context.Background(), m, authority); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestSplitPool(t *testing.T) {
	tests := []struct {
		settled   uint64
		pool, fee uint64
	}{
		{0, 0, 0},
		{2_000_000, 1_900_000, 100_000},
		{1_000_001, 950_000, 50_001},
		{^uint64(0), 17524406870024074034, 922337203685477581},
	}
	for _, tc := range tests {
		pool, fee := SplitPool(tc.settled)
		if pool != tc.pool || fee != tc.fee {
			t.Errorf("SplitPool(%d) = %d, %d; want %d, %d", tc.settled, pool, fee, tc.pool, tc.fee)
		}
		if pool+fee != tc.settled {
			t.Errorf("SplitPool(%d) does not sum", tc.settled)
		}
	}
}

func TestProRataZeroDenominator(t *testing.T) {
	if got := ProRata(10, 1_000, 0); got != 0 {
		t.Fatalf("ProRata with no winners = %d, want 0", got)
	}
}

func TestProRataWide(t *testing.T) {
	// shares * pool overflows 64 bits.
	got := ProRata(1<<40, 1<<40, 1<<41)
	if got != 1<<39 {
		t.Fatalf("ProRata = %d, want %d", got, uint64(1<<39))
	}
}

func TestClaimScenario(t *testing.T) {
	f := newFixture(t, nil)
	m := f.market(t, time.Hour)
	yes := f.position(t, m, alice)
	no := f.position(t, m, bob)
	f.bet(t, m, yes, 1_000_000, domain.SideYes)
	f.bet(t, m, no, 1_000_000, domain.SideNo)

	resolveAt(t, f, m, 150)
	if m.WinningOutcome != domain.OutcomeYes {
		t.Fatalf("outcome = %s, want yes", m.WinningOutcome)
	}

	tr, err := f.engine.Claim(m, yes)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if tr.Amount != 1_900_000 {
		t.Fatalf("payout = %d, want 1900000", tr.Amount)
	}
	if m.TotalFunds != 100_000 {
		t.Fatalf("total funds = %d, want 100000", m.TotalFunds)
	}
	if !yes.Claimed || yes.YesShares != 0 {
		t.Fatalf("position after claim = %+v", yes)
	}

	tr, err = f.engine.Claim(m, no)
	if err != nil {
		t.Fatalf("losing Claim: %v", err)
	}
	if tr.Amount != 0 || !no.Claimed {
		t.Fatalf("losing claim paid %d, claimed %v", tr.Amount, no.Claimed)
	}
}

func TestClaimTwice(t *testing.T) {
	f := newFixture(t, nil)
	m := f.market(t, time.Hour)
	p := f.position(t, m, alice)
	f.bet(t, m, p, 4_000_000, domain.SideNo)
	resolveAt(t, f, m, 90)

	if _, err := f.engine.Claim(m, p); err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	funds := m.TotalFunds
	if _, err := f.engine.Claim(m, p); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
	if m.TotalFunds != funds {
		t.Fatalf("second claim changed funds %d -> %d", funds, m.TotalFunds)
	}
}

func TestClaimUnresolved(t *testing.T) {
	f := newFixture(t, nil)
	m := f.market(t, time.Hour)
	p := f.position(t, m, alice)
	f.bet(t, m, p, 1_000_000, domain.SideYes)

	if _, err := f.engine.Claim(m, p); !errors.Is(err, domain.ErrMarketNotResolved) {
		t.Fatalf("err = %v, want ErrMarketNotResolved", err)
	}
}

func TestClaimNoWinners(t *testing.T) {
	f := newFixture(t, nil)
	m := f.market(t, time.Hour)
	p := f.position(t, m, alice)
	f.bet(t, m, p, 1_000_000, domain.SideNo)
	resolveAt(t, f, m, 200)

	tr, err := f.engine.Claim(m, p)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if tr.Amount != 0 || m.TotalFunds != 1_000_000 {
		t.Fatalf("payout %d, funds %d", tr.Amount, m.TotalFunds)
	}
}

func TestClaimSumWithinPool(t *testing.T) {
	f := newFixture(t, nil)
	m := f.market(t, time.Hour)

	stakes := []struct {
		user   common.Address
		amount uint64
		side   domain.Side
	}{
		{common.HexToAddress("0x01"), 1_000_003, domain.SideYes},
		{common.HexToAddress("0x02"), 7_777_777, domain.SideYes},
		{common.HexToAddress("0x03"), 3_333_333, domain.SideYes},
		{common.HexToAddress("0x04"), 12_345_679, domain.SideNo},
		{common.HexToAddress("0x05"), 1_000_001, domain.SideYes},
		{common.HexToAddress("0x06"), 2_500_000, domain.SideNo},
	}
	positions := make([]*domain.Position, 0, len(stakes))
	for _, s := range stakes {
		p := f.position(t, m, s.user)
		f.bet(t, m, p, s.amount, s.side)
		positions = append(positions, p)
	}

	resolveAt(t, f, m, 101)
	pool, _ := SplitPool(m.SettledFunds)

	var paid uint64
	for _, p := range positions {
		tr, err := f.engine.Claim(m, p)
		if err != nil {
			t.Fatalf("Claim(%s): %v", p.User.Hex(), err)
		}
		paid += tr.Amount
	}
	if paid > pool {
		t.Fatalf("paid %d exceeds winners pool %d", paid, pool)
	}
	if pool-paid >= uint64(len(positions)) {
		t.Fatalf("rounding loss %d larger than one unit per claimant", pool-paid)
	}
	if m.TotalFunds != m.SettledFunds-paid {
		t.Fatalf("total funds = %d, want %d", m.TotalFunds, m.SettledFunds-paid)
	}
}

func TestClaimableAmount(t *testing.T) {
	f := newFixture(t, nil)
	m := f.market(t, time.Hour)
	a := f.position(t, m, alice)
	b := f.position(t, m, bob)
	f.bet(t, m, a, 1_000_000, domain.SideYes)
	f.bet(t, m, b, 3_000_000, domain.SideYes)

	if got := f.engine.ClaimableAmount(*m, *a); got != 0 {
		t.Fatalf("claimable before resolution = %d", got)
	}
	resolveAt(t, f, m, 500)

	pool, _ := SplitPool(4_000_000)
	want := ProRata(a.YesShares, pool, m.TotalYesShares)
	if got := f.engine.ClaimableAmount(*m, *a); got != want {
		t.Fatalf("claimable = %d, want %d", got, want)
	}
}
