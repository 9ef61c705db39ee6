package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// ResolverLockKey is the leader lock the sweeper holds while it works.
const ResolverLockKey = "resolver"

// SweeperConfig tunes the background resolver.
type SweeperConfig struct {
	Resolver common.Address
	Interval time.Duration
	Batch    int
	LockTTL  time.Duration
	Archive  bool
}

// SweepResult counts what one pass did.
type SweepResult struct {
	Resolved int
	Failed   int
	Archived int
	Skipped  bool
}

// Sweeper resolves expired markets and archives settled ones. When a lock
// manager is configured only the instance holding the leader lock works on
// a given tick; the others skip it. Markets that failed to resolve are
// retried after the ones not yet attempted, so a batch of stuck markets
// cannot starve newer ones.
type Sweeper struct {
	svc    *SettlementService
	lock   domain.LockManager
	cfg    SweeperConfig
	logger *slog.Logger

	mu     sync.Mutex
	failed map[uuid.UUID]struct{}
}

// NewSweeper creates a Sweeper. lock may be nil for single-instance setups.
func NewSweeper(svc *SettlementService, lock domain.LockManager, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		svc:    svc,
		lock:   lock,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "resolver")),
		failed: make(map[uuid.UUID]struct{}),
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "resolver started",
		slog.String("resolver", s.cfg.Resolver.Hex()),
		slog.Duration("interval", s.cfg.Interval),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep performs one pass. Per-market failures are logged and counted; the
// market is retried on the next pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if s.lock != nil {
		unlock, err := s.lock.Acquire(ctx, ResolverLockKey, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("service: sweep: %w", err)
		}
		defer unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expired, err := s.expired(ctx)
	if err != nil {
		return res, err
	}
	for _, m := range expired {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		rcpt, err := s.svc.Resolve(ctx, s.cfg.Resolver, m.ID)
		switch {
		case err == nil:
			res.Resolved++
			delete(s.failed, m.ID)
			s.logger.InfoContext(ctx, "market resolved",
				slog.String("market_id", m.ID.String()),
				slog.String("symbol", m.Symbol),
				slog.String("outcome", rcpt.Market.WinningOutcome.String()),
			)
		case errors.Is(err, domain.ErrMarketAlreadyResolved):
			delete(s.failed, m.ID)
		default:
			res.Failed++
			s.failed[m.ID] = struct{}{}
			s.logger.WarnContext(ctx, "resolve failed",
				slog.String("market_id", m.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.cfg.Archive && s.svc.archiver != nil {
		settled, err := s.svc.store.Markets().ListSettledUnarchived(ctx, s.cfg.Batch)
		if err != nil {
			return res, fmt.Errorf("service: sweep: list settled: %w", err)
		}
		for _, m := range settled {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			path, err := s.svc.ArchiveMarket(ctx, m.ID)
			if err != nil {
				res.Failed++
				s.logger.WarnContext(ctx, "archive failed",
					slog.String("market_id", m.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Archived++
			s.logger.InfoContext(ctx, "market archived",
				slog.String("market_id", m.ID.String()),
				slog.String("path", path),
			)
		}
	}

	if res.Resolved+res.Failed+res.Archived > 0 {
		s.logger.InfoContext(ctx, "sweep complete",
			slog.Int("resolved", res.Resolved),
			slog.Int("archived", res.Archived),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// expired returns up to Batch expired markets: those never attempted first,
// then earlier failures. The listing is widened by the number of known
// failures so they cannot fill the batch on their own.
func (s *Sweeper) expired(ctx context.Context) ([]domain.Market, error) {
	want := s.cfg.Batch + len(s.failed)
	listed, err := s.svc.store.Markets().ListExpiredUnresolved(ctx, s.svc.Engine().Now(), want)
	if err != nil {
		return nil, fmt.Errorf("service: sweep: list expired: %w", err)
	}

	fresh := make([]domain.Market, 0, len(listed))
	var retry []domain.Market
	seen := make(map[uuid.UUID]struct{}, len(listed))
	for _, m := range listed {
		seen[m.ID] = struct{}{}
		if _, ok := s.failed[m.ID]; ok {
			retry = append(retry, m)
		} else {
			fresh = append(fresh, m)
		}
	}
	if len(listed) < want {
		// The listing was complete: forget failures that are no longer
		// pending, for example resolved by another caller.
		for id := range s.failed {
			if _, ok := seen[id]; !ok {
				delete(s.failed, id)
			}
		}
	}

	out := append(fresh, retry...)
	if len(out) > s.cfg.Batch {
		out = out[:s.cfg.Batch]
	}
	return out, nil
}
