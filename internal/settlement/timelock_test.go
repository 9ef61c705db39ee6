package settlement

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

func TestWithdrawFee(t *testing.T) {
	f := newFixture(t, nil)
	m := f.market(t, time.Hour)
	yes := f.position(t, m, alice)
	no := f.position(t, m, bob)
	f.bet(t, m, yes, 1_000_000, domain.SideYes)
	f.bet(t, m, no, 1_000_000, domain.SideNo)
	resolveAt(t, f, m, 150)

	if _, err := f.engine.WithdrawFee(m, authority); !errors.Is(err, domain.ErrTeamFeeTimelockNotExpired) {
		t.Fatalf("early withdraw err = %v, want ErrTeamFeeTimelockNotExpired", err)
	}

	f.clock.now = m.TeamFeeUnlockTime
	if _, err := f.engine.WithdrawFee(m, alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("stranger withdraw err = %v, want ErrUnauthorized", err)
	}

	tr, err := f.engine.WithdrawFee(m, authority)
	if err != nil {
		t.Fatalf("WithdrawFee: %v", err)
	}
	if tr.Amount != 100_000 || tr.To != domain.UserAccount(wallet) || tr.From != m.EscrowAccount() {
		t.Fatalf("transfer = %+v", tr)
	}
	if !m.TeamFeePaid || m.TotalFunds != 1_900_000 {
		t.Fatalf("market after withdraw: paid=%v funds=%d", m.TeamFeePaid, m.TotalFunds)
	}

	if _, err := f.engine.WithdrawFee(m, authority); !errors.Is(err, domain.ErrTeamFeeAlreadyPaid) {
		t.Fatalf("repeat withdraw err = %v, want ErrTeamFeeAlreadyPaid", err)
	}

	// Winners can still claim in full after the fee is gone.
	claim, err := f.engine.Claim(m, yes)
	if err != nil {
		t.Fatalf("Claim after fee: %v", err)
	}
	if claim.Amount != 1_900_000 || m.TotalFunds != 0 {
		t.Fatalf("claim %d leaves %d", claim.Amount, m.TotalFunds)
	}
}

func TestWithdrawFeeUnresolved(t *testing.T) {
	f := newFixture(t, nil)
	m := f.market(t, time.Hour)
	f.clock.now = m.TeamFeeUnlockTime.Add(time.Minute)

	if _, err := f.engine.WithdrawFee(m, authority); !errors.Is(err, domain.ErrMarketNotResolved) {
		t.Fatalf("err = %v, want ErrMarketNotResolved", err)
	}
}

func TestWithdrawFeeRemainingBase(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.FeeBase = FeeBaseRemaining })
	m := f.market(t, time.Hour)
	yes := f.position(t, m, alice)
	f.bet(t, m, yes, 2_000_000, domain.SideYes)
	resolveAt(t, f, m, 150)

	if _, err := f.engine.Claim(m, yes); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	remaining := m.TotalFunds

	f.clock.now = m.TeamFeeUnlockTime
	tr, err := f.engine.WithdrawFee(m, authority)
	if err != nil {
		t.Fatalf("WithdrawFee: %v", err)
	}
	if want := remaining * ProtocolFeeBps / 10_000; tr.Amount != want {
		t.Fatalf("fee = %d, want %d of remaining %d", tr.Amount, want, remaining)
	}
}
