package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/oracle"
	"github.com/alanyoungcy/pricebet/internal/settlement"
	"github.com/alanyoungcy/pricebet/internal/store/memory"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	wallet    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	resolver  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000011")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000022")
	carol     = common.HexToAddress("0x0000000000000000000000000000000000000033")
)

const feedID = "BTC/USD"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) advance(d time.Duration) { c.set(c.Now().Add(d)) }

type recordNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordNotifier) NotifyEvent(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordNotifier) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type mapCache struct {
	mu      sync.Mutex
	markets map[uuid.UUID]domain.Market
}

func newMapCache() *mapCache { return &mapCache{markets: make(map[uuid.UUID]domain.Market)} }

func (c *mapCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	return nil
}

func (c *mapCache) Get(_ context.Context, id uuid.UUID) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *mapCache) Invalidate(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}

type harness struct {
	svc      *SettlementService
	store    *memory.Store
	clock    *testClock
	notifier *recordNotifier
	cache    *mapCache
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, mutate func(*settlement.Params), archiver domain.Archiver) *harness {
	t.Helper()
	ctx := context.Background()

	params := settlement.DefaultParams()
	params.CreationAuthority = authority
	params.ProtocolWallet = wallet
	params.ResolverAddress = resolver
	if mutate != nil {
		mutate(&params)
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	prices := oracle.NewMemoryPriceCache()
	engine, err := settlement.New(params, oracle.NewCached(prices, clock), clock, nil)
	if err != nil {
		t.Fatalf("settlement.New: %v", err)
	}

	store := memory.New()
	notifier := &recordNotifier{}
	cache := newMapCache()
	logger := discardLogger()
	svc, err := NewSettlementService(SettlementDeps{
		Engine:   engine,
		Store:    store,
		Prices:   prices,
		Cache:    cache,
		Archiver: archiver,
		Events:   NewEventPublisher(nil, cache, notifier, logger),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}

	h := &harness{svc: svc, store: store, clock: clock, notifier: notifier, cache: cache}
	if _, err := svc.RegisterFeed(ctx, authority, RegisterFeedRequest{ID: feedID, Decimals: 8}); err != nil {
		t.Fatalf("RegisterFeed: %v", err)
	}
	h.price(t, 100)
	for _, who := range []common.Address{authority, alice, bob} {
		if _, err := svc.Deposit(ctx, authority, who, 1_000_000_000); err != nil {
			t.Fatalf("Deposit: %v", err)
		}
	}
	return h
}

func (h *harness) price(t *testing.T, p int64) {
	t.Helper()
	if _, err := h.svc.PostPrice(context.Background(), authority, feedID, p, time.Time{}); err != nil {
		t.Fatalf("PostPrice: %v", err)
	}
}

func (h *harness) balance(t *testing.T, who common.Address) uint64 {
	t.Helper()
	b, err := h.svc.Balance(context.Background(), domain.UserAccount(who))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func (h *harness) escrow(t *testing.T, id uuid.UUID) uint64 {
	t.Helper()
	b, err := h.svc.Balance(context.Background(), domain.EscrowAccount(id))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func (h *harness) create(t *testing.T, d time.Duration) domain.Market {
	t.Helper()
	rcpt, err := h.svc.CreateMarket(context.Background(), authority, CreateMarketRequest{
		Symbol: "BTC", FeedID: feedID, Duration: d,
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return rcpt.Market
}

func (h *harness) bet(t *testing.T, id uuid.UUID, who common.Address, amount uint64, side domain.Side) Receipt {
	t.Helper()
	ctx := context.Background()
	if _, err := h.svc.OpenPosition(ctx, who, id); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("OpenPosition: %v", err)
	}
	rcpt, err := h.svc.PlaceBet(ctx, who, id, amount, side)
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	return rcpt
}

func TestMarketLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)

	m := h.create(t, time.Hour)
	if got := h.balance(t, authority); got != 1_000_000_000-settlement.MarketCreationFee {
		t.Fatalf("authority balance = %d", got)
	}
	if got := h.balance(t, wallet); got != settlement.MarketCreationFee {
		t.Fatalf("wallet balance = %d", got)
	}

	h.bet(t, m.ID, alice, 1_000_000, domain.SideYes)
	h.bet(t, m.ID, bob, 1_000_000, domain.SideNo)
	if got := h.escrow(t, m.ID); got != 2_000_000 {
		t.Fatalf("escrow = %d, want 2000000", got)
	}

	// Claims before resolution fail.
	if _, err := h.svc.Claim(ctx, alice, m.ID); !errors.Is(err, domain.ErrMarketNotResolved) {
		t.Fatalf("early claim err = %v", err)
	}

	h.clock.set(m.EndTime().Add(time.Second))
	h.price(t, 150)
	rcpt, err := h.svc.Resolve(ctx, resolver, m.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rcpt.Market.WinningOutcome != domain.OutcomeYes || rcpt.Market.SettledFunds != 2_000_000 {
		t.Fatalf("resolved market = %+v", rcpt.Market)
	}
	if _, err := h.svc.Resolve(ctx, resolver, m.ID); !errors.Is(err, domain.ErrMarketAlreadyResolved) {
		t.Fatalf("second resolve err = %v", err)
	}

	claimable, err := h.svc.Claimable(ctx, m.ID, alice)
	if err != nil || claimable != 1_900_000 {
		t.Fatalf("Claimable = %d, %v", claimable, err)
	}
	win, err := h.svc.Claim(ctx, alice, m.ID)
	if err != nil {
		t.Fatalf("Claim alice: %v", err)
	}
	if win.Transfer.Amount != 1_900_000 || !win.Position.Claimed {
		t.Fatalf("alice claim = %+v / %+v", win.Transfer, win.Position)
	}
	if got := h.balance(t, alice); got != 1_000_000_000+900_000 {
		t.Fatalf("alice balance = %d", got)
	}
	if _, err := h.svc.Claim(ctx, alice, m.ID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("double claim err = %v", err)
	}

	lose, err := h.svc.Claim(ctx, bob, m.ID)
	if err != nil {
		t.Fatalf("Claim bob: %v", err)
	}
	if lose.Transfer.Amount != 0 || !lose.Position.Claimed {
		t.Fatalf("bob claim = %+v", lose)
	}

	if _, err := h.svc.WithdrawFee(ctx, authority, m.ID); !errors.Is(err, domain.ErrTeamFeeTimelockNotExpired) {
		t.Fatalf("early fee err = %v", err)
	}
	h.clock.advance(settlement.FeeUnlockDelay)
	if _, err := h.svc.WithdrawFee(ctx, alice, m.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("fee by non-authority err = %v", err)
	}
	fee, err := h.svc.WithdrawFee(ctx, authority, m.ID)
	if err != nil {
		t.Fatalf("WithdrawFee: %v", err)
	}
	if fee.Transfer.Amount != 100_000 || !fee.Market.TeamFeePaid {
		t.Fatalf("fee = %+v", fee)
	}
	if got := h.escrow(t, m.ID); got != 0 {
		t.Fatalf("escrow after settlement = %d", got)
	}
	if _, err := h.svc.WithdrawFee(ctx, authority, m.ID); !errors.Is(err, domain.ErrTeamFeeAlreadyPaid) {
		t.Fatalf("second fee err = %v", err)
	}

	want := []domain.EventType{
		domain.EventFeedRegistered,
		domain.EventDeposit, domain.EventDeposit, domain.EventDeposit,
		domain.EventMarketCreated,
		domain.EventPositionOpened, domain.EventBetPlaced,
		domain.EventPositionOpened, domain.EventBetPlaced,
		domain.EventMarketResolved,
		domain.EventClaimed, domain.EventClaimed,
		domain.EventFeeWithdrawn,
	}
	got := h.notifier.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	audit, err := h.svc.ListAudit(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	// One row per event plus the price postings.
	if len(audit) != len(want)+2 {
		t.Fatalf("audit rows = %d, want %d", len(audit), len(want)+2)
	}

	trail, err := h.svc.MarketAudit(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("MarketAudit: %v", err)
	}
	if len(trail) != len(want) || trail[0].Event != string(domain.EventMarketCreated) {
		t.Fatalf("market trail = %+v", trail)
	}

	entries, err := h.svc.ListEntries(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	// creation fee, two bets, one payout, protocol fee.
	if len(entries) != 5 {
		t.Fatalf("ledger entries = %d, want 5", len(entries))
	}
}

func TestPlaceBetInsufficientUserFundsRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	m := h.create(t, time.Hour)

	if _, err := h.svc.OpenPosition(ctx, carol, m.ID); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	_, err := h.svc.PlaceBet(ctx, carol, m.ID, 1_000_000, domain.SideYes)
	if !errors.Is(err, domain.ErrInsufficientUserFunds) {
		t.Fatalf("err = %v, want ErrInsufficientUserFunds", err)
	}

	got, err := h.svc.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.TotalFunds != 0 || got.TotalYesShares != 0 {
		t.Fatalf("market mutated by failed bet: %+v", got)
	}
	p, err := h.svc.GetPosition(ctx, m.ID, carol)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if p.YesShares != 0 {
		t.Fatalf("position mutated by failed bet: %+v", p)
	}
}

func TestCreateMarketChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(p *settlement.Params) { p.CreationPolicy = settlement.CreationOpen }, nil)

	_, err := h.svc.CreateMarket(ctx, authority, CreateMarketRequest{Symbol: "ETH", FeedID: "ETH/USD", Duration: time.Hour})
	if !errors.Is(err, domain.ErrFeedNotRegistered) {
		t.Fatalf("unknown feed err = %v", err)
	}

	_, err = h.svc.CreateMarket(ctx, carol, CreateMarketRequest{Symbol: "BTC", FeedID: feedID, Duration: time.Hour})
	if !errors.Is(err, domain.ErrInsufficientUserFunds) {
		t.Fatalf("broke creator err = %v", err)
	}
	if _, err := h.svc.GetMarket(ctx, domain.MarketID(carol, "BTC")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("market persisted after failed fee: %v", err)
	}

	h.create(t, time.Hour)
	_, err = h.svc.CreateMarket(ctx, authority, CreateMarketRequest{Symbol: "BTC", FeedID: feedID, Duration: time.Hour})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate err = %v", err)
	}
	if got := h.balance(t, authority); got != 1_000_000_000-settlement.MarketCreationFee {
		t.Fatalf("duplicate charged a second fee: balance %d", got)
	}
}

func TestCancelBetRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	m := h.create(t, 100*time.Second)

	h.bet(t, m.ID, alice, 1_000_000, domain.SideYes)
	h.clock.advance(50 * time.Second)

	rcpt, err := h.svc.CancelBet(ctx, alice, m.ID)
	if err != nil {
		t.Fatalf("CancelBet: %v", err)
	}
	if rcpt.Transfer.Amount != 353_553 {
		t.Fatalf("refund = %d, want 353553", rcpt.Transfer.Amount)
	}
	if rcpt.Market.TotalYesShares != 0 || rcpt.Market.TotalFunds != 1_000_000-353_553 {
		t.Fatalf("market after cancel = %+v", rcpt.Market)
	}
	if got := h.balance(t, alice); got != 1_000_000_000-1_000_000+353_553 {
		t.Fatalf("alice balance = %d", got)
	}
	if _, err := h.svc.CancelBet(ctx, alice, m.ID); !errors.Is(err, domain.ErrEmptyPosition) {
		t.Fatalf("second cancel err = %v", err)
	}

	h.clock.set(m.EndTime())
	h.bet(t, m.ID, bob, 1_000_000, domain.SideNo)
	if _, err := h.svc.CancelBet(ctx, bob, m.ID); !errors.Is(err, domain.ErrMarketAlreadyStarted) {
		t.Fatalf("late cancel err = %v", err)
	}
}

func TestBetRequiresPosition(t *testing.T) {
	h := newHarness(t, nil, nil)
	m := h.create(t, time.Hour)
	_, err := h.svc.PlaceBet(context.Background(), alice, m.ID, 1_000_000, domain.SideYes)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveStalePrice(t *testing.T) {
	h := newHarness(t, nil, nil)
	m := h.create(t, time.Hour)

	// The last posted price is an hour old by expiry.
	h.clock.set(m.EndTime().Add(time.Second))
	_, err := h.svc.Resolve(context.Background(), resolver, m.ID)
	if !errors.Is(err, domain.ErrPriceFetchFailed) || !errors.Is(err, domain.ErrPriceStale) {
		t.Fatalf("err = %v, want stale price fetch failure", err)
	}
	got, _ := h.svc.GetMarket(context.Background(), m.ID)
	if got.Resolved {
		t.Fatal("market resolved on stale price")
	}
}

func TestAdminChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)

	if _, err := h.svc.Deposit(ctx, alice, alice, 10); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("deposit by non-admin err = %v", err)
	}
	if _, err := h.svc.Deposit(ctx, authority, alice, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("zero deposit err = %v", err)
	}
	if _, err := h.svc.RegisterFeed(ctx, alice, RegisterFeedRequest{ID: "ETH/USD"}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("register by non-admin err = %v", err)
	}
	if _, err := h.svc.RegisterFeed(ctx, authority, RegisterFeedRequest{ID: feedID}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate feed err = %v", err)
	}
	if _, err := h.svc.PostPrice(ctx, alice, feedID, 1, time.Time{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("price by non-admin err = %v", err)
	}
	future := h.clock.Now().Add(time.Minute)
	if _, err := h.svc.PostPrice(ctx, authority, feedID, 1, future); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("future price err = %v", err)
	}
	if _, err := h.svc.PostPrice(ctx, authority, "DOGE/USD", 1, time.Time{}); !errors.Is(err, domain.ErrFeedNotRegistered) {
		t.Fatalf("unknown feed price err = %v", err)
	}
}

func TestGetMarketReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	m := h.create(t, time.Hour)

	if _, err := h.svc.GetMarket(ctx, m.ID); err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if _, err := h.cache.Get(ctx, m.ID); err != nil {
		t.Fatal("market not back-filled into cache")
	}

	h.bet(t, m.ID, alice, 1_000_000, domain.SideYes)
	if _, err := h.cache.Get(ctx, m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("bet did not invalidate cached market")
	}
	got, err := h.svc.GetMarket(ctx, m.ID)
	if err != nil || got.TotalFunds != 1_000_000 {
		t.Fatalf("GetMarket after bet = %+v, %v", got, err)
	}
}

func TestSubscribeReceivesCommittedEvents(t *testing.T) {
	h := newHarness(t, nil, nil)
	events, cancel := h.svc.Events().Subscribe(8)
	defer cancel()

	m := h.create(t, time.Hour)
	select {
	case ev := <-events:
		if ev.Type != domain.EventMarketCreated || ev.MarketID != m.ID || ev.Actor != authority.Hex() {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	// Failed operations publish nothing.
	_, _ = h.svc.PlaceBet(context.Background(), carol, m.ID, 1_000_000, domain.SideYes)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestCreationFeeToSelf(t *testing.T) {
	h := newHarness(t, func(p *settlement.Params) { p.ProtocolWallet = authority }, nil)
	before := h.balance(t, authority)
	h.create(t, time.Hour)
	if got := h.balance(t, authority); got != before {
		t.Fatalf("authority balance = %d, want %d", got, before)
	}
}
