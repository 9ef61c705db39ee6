package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/pricebet/internal/config"
	"github.com/alanyoungcy/pricebet/internal/service"
	"github.com/alanyoungcy/pricebet/internal/settlement"
)

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage.Driver = "memory"
	cfg.Redis.Enabled = false
	cfg.Engine.CreationAuthority = "0x00000000000000000000000000000000000000a1"
	cfg.Engine.ProtocolWallet = "0x00000000000000000000000000000000000000f1"
	cfg.Engine.ResolverAddress = "0x00000000000000000000000000000000000000e1"
	cfg.Engine.LedgerAdmins = []string{"0x00000000000000000000000000000000000000b2"}
	return &cfg
}

func TestEngineParams(t *testing.T) {
	cfg := memoryConfig()
	cfg.Engine.CancelWindow.Duration = time.Hour
	cfg.Engine.FeeBase = "remaining"

	p := EngineParams(cfg.Engine)
	if p.CreationPolicy != settlement.CreationSingleAuthority {
		t.Errorf("policy = %q", p.CreationPolicy)
	}
	if p.CreationAuthority != common.HexToAddress(cfg.Engine.CreationAuthority) {
		t.Errorf("authority = %s", p.CreationAuthority.Hex())
	}
	if p.CancelWindow != time.Hour || p.FeeBase != settlement.FeeBaseRemaining {
		t.Errorf("params = %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestWireMemory(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()
	if deps.SignalBus != nil || deps.Archiver != nil || deps.MarketCache != nil {
		t.Fatalf("optional backends wired: %+v", deps)
	}
	if deps.Notifier.Enabled() {
		t.Fatal("notifier enabled without senders")
	}

	svc, err := NewSettlementService(cfg, deps, logger)
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}

	// Extra ledger admins from config may deposit.
	admin := common.HexToAddress(cfg.Engine.LedgerAdmins[0])
	user := common.HexToAddress("0x0000000000000000000000000000000000000011")
	if _, err := svc.Deposit(ctx, admin, user, 5_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	// Manual prices flow through the in-memory cache to the oracle.
	authority := common.HexToAddress(cfg.Engine.CreationAuthority)
	if _, err := svc.RegisterFeed(ctx, authority, service.RegisterFeedRequest{ID: "ETH/USD", Decimals: 8}); err != nil {
		t.Fatalf("RegisterFeed: %v", err)
	}
	if _, err := svc.PostPrice(ctx, authority, "ETH/USD", 3_000, time.Time{}); err != nil {
		t.Fatalf("PostPrice: %v", err)
	}
	if _, err := svc.Deposit(ctx, authority, authority, settlement.MarketCreationFee); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	rcpt, err := svc.CreateMarket(ctx, authority, service.CreateMarketRequest{
		Symbol: "ETH", FeedID: "ETH/USD", Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if got := *rcpt.Market.InitialPrice; got != 3_000 {
		t.Fatalf("initial price = %d", got)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "trader"
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := a.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "unsupported mode") {
		t.Fatalf("Run err = %v", err)
	}
	a.Close()
}
