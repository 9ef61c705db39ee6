package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/settlement"
)

// Receipt is the committed state an operation leaves behind.
type Receipt struct {
	Market   domain.Market    `json:"market"`
	Position *domain.Position `json:"position,omitempty"`
	Transfer *domain.Transfer `json:"transfer,omitempty"`
}

// SettlementDeps bundles the collaborators of a SettlementService. Prices,
// Archiver and Cache are optional.
type SettlementDeps struct {
	Engine   *settlement.Engine
	Store    domain.Store
	Auth     domain.Authorizer
	Prices   domain.PriceCache
	Cache    domain.MarketCache
	Archiver domain.Archiver
	Events   *EventPublisher
	Logger   *slog.Logger
}

// SettlementService runs settlement operations against the store. Each
// mutating operation loads its records, applies the engine, persists the
// result, moves value through the ledger and writes an audit row inside one
// transaction. Events are published only after the transaction commits.
type SettlementService struct {
	engine   *settlement.Engine
	store    domain.Store
	auth     domain.Authorizer
	prices   domain.PriceCache
	cache    domain.MarketCache
	archiver domain.Archiver
	events   *EventPublisher
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(deps SettlementDeps) (*SettlementService, error) {
	if deps.Engine == nil || deps.Store == nil {
		return nil, fmt.Errorf("service: settlement: engine and store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := deps.Auth
	if auth == nil {
		auth = settlement.NewPolicyAuthorizer(deps.Engine.Params())
	}
	events := deps.Events
	if events == nil {
		events = NewEventPublisher(nil, deps.Cache, nil, logger)
	}
	return &SettlementService{
		engine:   deps.Engine,
		store:    deps.Store,
		auth:     auth,
		prices:   deps.Prices,
		cache:    deps.Cache,
		archiver: deps.Archiver,
		events:   events,
		logger:   logger.With(slog.String("component", "settlement_service")),
	}, nil
}

// Engine returns the settlement engine.
func (s *SettlementService) Engine() *settlement.Engine { return s.engine }

// Events returns the publisher committed operations are announced on.
func (s *SettlementService) Events() *EventPublisher { return s.events }

// CreateMarketRequest describes a new market.
type CreateMarketRequest struct {
	Symbol   string
	FeedID   string
	Duration time.Duration
}

// CreateMarket opens a market for caller and charges the creation fee.
func (s *SettlementService) CreateMarket(ctx context.Context, caller common.Address, req CreateMarketRequest) (Receipt, error) {
	var rcpt Receipt
	err := s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		var feed *domain.Feed
		f, err := tx.Feeds().Get(ctx, strings.TrimSpace(req.FeedID))
		switch {
		case err == nil:
			feed = &f
		case !errors.Is(err, domain.ErrNotFound):
			return domain.Event{}, err
		}

		m, fee, err := s.engine.CreateMarket(ctx, caller, req.Symbol, feed, req.Duration)
		if err != nil {
			return domain.Event{}, err
		}
		if err := tx.Markets().Create(ctx, m); err != nil {
			return domain.Event{}, err
		}
		if err := applyTransfer(ctx, tx, fee); err != nil {
			return domain.Event{}, err
		}

		rcpt = Receipt{Market: m, Transfer: &fee}
		return s.event(domain.EventMarketCreated, m.ID, caller, fee.Amount, map[string]any{
			"symbol":        m.Symbol,
			"feed_id":       m.FeedID,
			"duration":      m.Duration.String(),
			"initial_price": *m.InitialPrice,
			"end_time":      m.EndTime().Format(time.RFC3339),
		}), nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("service: create market: %w", err)
	}
	return rcpt, nil
}

// OpenPosition creates caller's empty position in a market.
func (s *SettlementService) OpenPosition(ctx context.Context, caller common.Address, marketID uuid.UUID) (Receipt, error) {
	var rcpt Receipt
	err := s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			return domain.Event{}, err
		}
		p, err := s.engine.OpenPosition(&m, caller)
		if err != nil {
			return domain.Event{}, err
		}
		if err := tx.Positions().Create(ctx, p); err != nil {
			return domain.Event{}, err
		}
		rcpt = Receipt{Market: m, Position: &p}
		return s.event(domain.EventPositionOpened, m.ID, caller, 0, nil), nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("service: open position: %w", err)
	}
	return rcpt, nil
}

// PlaceBet stakes amount on side from caller's position.
func (s *SettlementService) PlaceBet(ctx context.Context, caller common.Address, marketID uuid.UUID, amount uint64, side domain.Side) (Receipt, error) {
	var rcpt Receipt
	err := s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		m, p, err := loadPosition(ctx, tx, marketID, caller)
		if err != nil {
			return domain.Event{}, err
		}
		before := p.YesShares + p.NoShares
		t, err := s.engine.PlaceBet(&m, &p, amount, side)
		if err != nil {
			return domain.Event{}, err
		}
		if err := persist(ctx, tx, m, &p); err != nil {
			return domain.Event{}, err
		}
		if err := applyTransfer(ctx, tx, t); err != nil {
			return domain.Event{}, err
		}

		rcpt = Receipt{Market: m, Position: &p, Transfer: &t}
		return s.event(domain.EventBetPlaced, m.ID, caller, amount, map[string]any{
			"side":   string(side),
			"shares": p.YesShares + p.NoShares - before,
		}), nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("service: place bet: %w", err)
	}
	return rcpt, nil
}

// CancelBet withdraws caller's shares for the refund-curve amount.
func (s *SettlementService) CancelBet(ctx context.Context, caller common.Address, marketID uuid.UUID) (Receipt, error) {
	var rcpt Receipt
	err := s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		m, p, err := loadPosition(ctx, tx, marketID, caller)
		if err != nil {
			return domain.Event{}, err
		}
		shares := p.TotalShares()
		t, err := s.engine.CancelBet(&m, &p)
		if err != nil {
			return domain.Event{}, err
		}
		if err := persist(ctx, tx, m, &p); err != nil {
			return domain.Event{}, err
		}
		if err := applyTransfer(ctx, tx, t); err != nil {
			return domain.Event{}, err
		}

		rcpt = Receipt{Market: m, Position: &p, Transfer: &t}
		return s.event(domain.EventBetCancelled, m.ID, caller, t.Amount, map[string]any{
			"shares": shares,
		}), nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("service: cancel bet: %w", err)
	}
	return rcpt, nil
}

// Resolve settles a market against the oracle on behalf of caller.
func (s *SettlementService) Resolve(ctx context.Context, caller common.Address, marketID uuid.UUID) (Receipt, error) {
	var rcpt Receipt
	err := s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			return domain.Event{}, err
		}
		outcome, err := s.engine.Resolve(ctx, &m, caller)
		if err != nil {
			return domain.Event{}, err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return domain.Event{}, err
		}

		rcpt = Receipt{Market: m}
		return s.event(domain.EventMarketResolved, m.ID, caller, m.SettledFunds, map[string]any{
			"outcome":       outcome.String(),
			"initial_price": *m.InitialPrice,
			"final_price":   *m.FinalPrice,
		}), nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("service: resolve: %w", err)
	}
	return rcpt, nil
}

// Claim pays caller's winnings. Losing positions are closed with a zero
// payout and no ledger movement.
func (s *SettlementService) Claim(ctx context.Context, caller common.Address, marketID uuid.UUID) (Receipt, error) {
	var rcpt Receipt
	err := s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		m, p, err := loadPosition(ctx, tx, marketID, caller)
		if err != nil {
			return domain.Event{}, err
		}
		t, err := s.engine.Claim(&m, &p)
		if err != nil {
			return domain.Event{}, err
		}
		if err := persist(ctx, tx, m, &p); err != nil {
			return domain.Event{}, err
		}
		if err := applyTransfer(ctx, tx, t); err != nil {
			return domain.Event{}, err
		}

		rcpt = Receipt{Market: m, Position: &p, Transfer: &t}
		return s.event(domain.EventClaimed, m.ID, caller, t.Amount, map[string]any{
			"outcome": m.WinningOutcome.String(),
		}), nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("service: claim: %w", err)
	}
	return rcpt, nil
}

// WithdrawFee releases the protocol fee once the timelock has expired.
func (s *SettlementService) WithdrawFee(ctx context.Context, caller common.Address, marketID uuid.UUID) (Receipt, error) {
	var rcpt Receipt
	err := s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			return domain.Event{}, err
		}
		t, err := s.engine.WithdrawFee(&m, caller)
		if err != nil {
			return domain.Event{}, err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return domain.Event{}, err
		}
		if err := applyTransfer(ctx, tx, t); err != nil {
			return domain.Event{}, err
		}

		rcpt = Receipt{Market: m, Transfer: &t}
		return s.event(domain.EventFeeWithdrawn, m.ID, caller, t.Amount, map[string]any{
			"fee_base": string(s.engine.Params().FeeBase),
		}), nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("service: withdraw fee: %w", err)
	}
	return rcpt, nil
}

// RegisterFeedRequest describes a price feed to register.
type RegisterFeedRequest struct {
	ID       string
	Source   common.Address
	Decimals uint8
}

// RegisterFeed adds a feed markets may be created against.
func (s *SettlementService) RegisterFeed(ctx context.Context, caller common.Address, req RegisterFeedRequest) (domain.Feed, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return domain.Feed{}, fmt.Errorf("service: register feed: %w: feed id is required", domain.ErrInvalidInput)
	}
	if !s.auth.IsAuthorized(ctx, caller, domain.RoleFeedAdmin) {
		return domain.Feed{}, fmt.Errorf("service: register feed: %w", domain.ErrUnauthorized)
	}

	f := domain.Feed{
		ID:           id,
		Source:       req.Source,
		Decimals:     req.Decimals,
		RegisteredBy: caller,
		CreatedAt:    s.engine.Now(),
	}
	err := s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		if err := tx.Feeds().Register(ctx, f); err != nil {
			return domain.Event{}, err
		}
		return s.event(domain.EventFeedRegistered, uuid.Nil, caller, 0, map[string]any{
			"feed_id":  f.ID,
			"source":   f.Source.Hex(),
			"decimals": f.Decimals,
		}), nil
	})
	if err != nil {
		return domain.Feed{}, fmt.Errorf("service: register feed: %w", err)
	}
	return f, nil
}

// PostPrice records a manual observation for a registered feed in the price
// cache the cached oracle reads. A zero at means now.
func (s *SettlementService) PostPrice(ctx context.Context, caller common.Address, feedID string, price int64, at time.Time) (domain.PriceQuote, error) {
	if s.prices == nil {
		return domain.PriceQuote{}, fmt.Errorf("service: post price: no price cache configured")
	}
	if !s.auth.IsAuthorized(ctx, caller, domain.RoleFeedAdmin) {
		return domain.PriceQuote{}, fmt.Errorf("service: post price: %w", domain.ErrUnauthorized)
	}
	if _, err := s.store.Feeds().Get(ctx, feedID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceQuote{}, fmt.Errorf("service: post price: %w", domain.ErrFeedNotRegistered)
		}
		return domain.PriceQuote{}, fmt.Errorf("service: post price: %w", err)
	}

	now := s.engine.Now()
	if at.IsZero() {
		at = now
	}
	if at.After(now) {
		return domain.PriceQuote{}, fmt.Errorf("service: post price: %w: timestamp %s is in the future",
			domain.ErrInvalidInput, at.Format(time.RFC3339))
	}

	if err := s.prices.SetPrice(ctx, feedID, price, at); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("service: post price: %w", err)
	}
	if err := s.store.Audit().Log(ctx, "feed_price_posted", map[string]any{
		"feed_id": feedID,
		"price":   price,
		"at":      at.Format(time.RFC3339Nano),
		"actor":   caller.Hex(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", "feed_price_posted"),
			slog.String("error", err.Error()),
		)
	}
	return domain.PriceQuote{FeedID: feedID, Price: price, PublishedAt: at}, nil
}

// Deposit credits amount to account in the built-in ledger.
func (s *SettlementService) Deposit(ctx context.Context, caller, account common.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("service: deposit: %w: amount must be positive", domain.ErrInvalidInput)
	}
	if account == (common.Address{}) {
		return 0, fmt.Errorf("service: deposit: %w: account is required", domain.ErrInvalidInput)
	}
	if !s.auth.IsAuthorized(ctx, caller, domain.RoleLedgerAdmin) {
		return 0, fmt.Errorf("service: deposit: %w", domain.ErrUnauthorized)
	}

	var balance uint64
	err := s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		acct := domain.UserAccount(account)
		if err := tx.Ledger().Deposit(ctx, acct, amount); err != nil {
			return domain.Event{}, err
		}
		b, err := tx.Ledger().Balance(ctx, acct)
		if err != nil {
			return domain.Event{}, err
		}
		balance = b
		return s.event(domain.EventDeposit, uuid.Nil, caller, amount, map[string]any{
			"account": acct,
		}), nil
	})
	if err != nil {
		return 0, fmt.Errorf("service: deposit: %w", err)
	}
	return balance, nil
}

// Balance returns the ledger balance of account.
func (s *SettlementService) Balance(ctx context.Context, account string) (uint64, error) {
	b, err := s.store.Ledger().Balance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("service: balance %s: %w", account, err)
	}
	return b, nil
}

// GetMarket returns a market, reading through the market cache when one is
// configured.
func (s *SettlementService) GetMarket(ctx context.Context, id uuid.UUID) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.store.Markets().Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: get market %s: %w", id, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "market cache set failed",
				slog.String("market_id", id.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets newest first.
func (s *SettlementService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	ms, err := s.store.Markets().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list markets: %w", err)
	}
	return ms, nil
}

// GetPosition returns user's position in a market.
func (s *SettlementService) GetPosition(ctx context.Context, marketID uuid.UUID, user common.Address) (domain.Position, error) {
	p, err := s.store.Positions().Get(ctx, marketID, user)
	if err != nil {
		return domain.Position{}, fmt.Errorf("service: get position: %w", err)
	}
	return p, nil
}

// ListPositions returns every position in a market.
func (s *SettlementService) ListPositions(ctx context.Context, marketID uuid.UUID) ([]domain.Position, error) {
	ps, err := s.store.Positions().ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("service: list positions: %w", err)
	}
	return ps, nil
}

// Claimable is what Claim would currently pay user in a market.
func (s *SettlementService) Claimable(ctx context.Context, marketID uuid.UUID, user common.Address) (uint64, error) {
	m, err := s.store.Markets().Get(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("service: claimable: %w", err)
	}
	p, err := s.store.Positions().Get(ctx, marketID, user)
	if err != nil {
		return 0, fmt.Errorf("service: claimable: %w", err)
	}
	return s.engine.ClaimableAmount(m, p), nil
}

// ListFeeds returns the registered feeds.
func (s *SettlementService) ListFeeds(ctx context.Context) ([]domain.Feed, error) {
	fs, err := s.store.Feeds().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list feeds: %w", err)
	}
	return fs, nil
}

// ListEntries returns the ledger entries that touched a market.
func (s *SettlementService) ListEntries(ctx context.Context, marketID uuid.UUID) ([]domain.LedgerEntry, error) {
	es, err := s.store.Ledger().ListEntries(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("service: list entries: %w", err)
	}
	return es, nil
}

// ListAudit returns audit rows newest first.
func (s *SettlementService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	es, err := s.store.Audit().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list audit: %w", err)
	}
	return es, nil
}

// MarketAudit returns the audit trail of one market oldest first.
func (s *SettlementService) MarketAudit(ctx context.Context, marketID uuid.UUID, limit int) ([]domain.AuditEntry, error) {
	es, err := s.store.Audit().ListForMarket(ctx, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("service: market audit: %w", err)
	}
	return es, nil
}

// ArchiveMarket snapshots a settled market to the archive and marks it
// archived. It returns the archive path.
func (s *SettlementService) ArchiveMarket(ctx context.Context, marketID uuid.UUID) (string, error) {
	if s.archiver == nil {
		return "", fmt.Errorf("service: archive market: no archiver configured")
	}
	m, err := s.store.Markets().Get(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("service: archive market: %w", err)
	}
	if !m.Settled() {
		return "", fmt.Errorf("service: archive market %s: %w", marketID, domain.ErrMarketNotResolved)
	}
	if m.ArchivedAt != nil {
		return "", fmt.Errorf("service: archive market %s: %w", marketID, domain.ErrAlreadyExists)
	}

	positions, err := s.store.Positions().ListByMarket(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("service: archive market: %w", err)
	}
	entries, err := s.store.Ledger().ListEntries(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("service: archive market: %w", err)
	}

	at := s.engine.Now()
	path, err := s.archiver.ArchiveMarket(ctx, domain.MarketSnapshot{
		Market:     m,
		Positions:  positions,
		Entries:    entries,
		ArchivedAt: at,
	})
	if err != nil {
		return "", fmt.Errorf("service: archive market: %w", err)
	}

	err = s.commit(ctx, func(ctx context.Context, tx domain.Tx) (domain.Event, error) {
		if err := tx.Markets().MarkArchived(ctx, marketID, at); err != nil {
			return domain.Event{}, err
		}
		return s.event(domain.EventMarketArchived, marketID, common.Address{}, 0, map[string]any{
			"path":      path,
			"positions": len(positions),
			"entries":   len(entries),
		}), nil
	})
	if err != nil {
		return "", fmt.Errorf("service: archive market: %w", err)
	}
	return path, nil
}

// LoadArchive reads back the archived snapshot of a market.
func (s *SettlementService) LoadArchive(ctx context.Context, marketID uuid.UUID) (domain.MarketSnapshot, error) {
	if s.archiver == nil {
		return domain.MarketSnapshot{}, fmt.Errorf("service: load archive: %w", domain.ErrNotFound)
	}
	m, err := s.store.Markets().Get(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("service: load archive: %w", err)
	}
	if m.ArchivedAt == nil {
		return domain.MarketSnapshot{}, fmt.Errorf("service: load archive %s: %w", marketID, domain.ErrNotFound)
	}
	snap, err := s.archiver.LoadMarket(ctx, marketID, *m.ArchivedAt)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("service: load archive: %w", err)
	}
	return snap, nil
}

// commit runs fn in a transaction, records the event it returns in the audit
// log within that transaction, and publishes it after commit.
func (s *SettlementService) commit(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) (domain.Event, error)) error {
	var ev domain.Event
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		ev, err = fn(ctx, tx)
		if err != nil {
			return err
		}
		return tx.Audit().Log(ctx, string(ev.Type), auditDetail(ev))
	})
	if err != nil {
		return err
	}
	s.events.Publish(ctx, ev)
	return nil
}

func (s *SettlementService) event(typ domain.EventType, marketID uuid.UUID, actor common.Address, amount uint64, detail map[string]any) domain.Event {
	ev := domain.Event{
		ID:       uuid.New(),
		Type:     typ,
		MarketID: marketID,
		Amount:   amount,
		Detail:   detail,
		At:       s.engine.Now(),
	}
	if actor != (common.Address{}) {
		ev.Actor = actor.Hex()
	}
	return ev
}

func auditDetail(ev domain.Event) map[string]any {
	d := make(map[string]any, len(ev.Detail)+4)
	for k, v := range ev.Detail {
		d[k] = v
	}
	d["event_id"] = ev.ID.String()
	if ev.MarketID != uuid.Nil {
		d["market_id"] = ev.MarketID.String()
	}
	if ev.Actor != "" {
		d["actor"] = ev.Actor
	}
	if ev.Amount > 0 {
		d["amount"] = ev.Amount
	}
	return d
}

// loadPosition locks a market and one of its positions.
func loadPosition(ctx context.Context, tx domain.Tx, marketID uuid.UUID, user common.Address) (domain.Market, domain.Position, error) {
	m, err := tx.Markets().Get(ctx, marketID)
	if err != nil {
		return domain.Market{}, domain.Position{}, err
	}
	p, err := tx.Positions().Get(ctx, marketID, user)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, domain.Position{}, fmt.Errorf("position for %s: %w", user.Hex(), err)
		}
		return domain.Market{}, domain.Position{}, err
	}
	return m, p, nil
}

func persist(ctx context.Context, tx domain.Tx, m domain.Market, p *domain.Position) error {
	if err := tx.Markets().Update(ctx, m); err != nil {
		return err
	}
	return tx.Positions().Update(ctx, *p)
}

// applyTransfer moves value through the ledger. A short source balance is
// reported as the user or market shortfall the transfer represents.
func applyTransfer(ctx context.Context, tx domain.Tx, t domain.Transfer) error {
	if t.Amount == 0 {
		return nil
	}
	err := tx.Ledger().Transfer(ctx, t)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInsufficientFunds) {
		if t.FromUser() {
			return fmt.Errorf("%w: %w", domain.ErrInsufficientUserFunds, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrInsufficientMarketFunds, err)
	}
	return err
}
