package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/pricebet/internal/blob/s3"
	"github.com/alanyoungcy/pricebet/internal/cache/redis"
	"github.com/alanyoungcy/pricebet/internal/config"
	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/notify"
	"github.com/alanyoungcy/pricebet/internal/oracle"
	"github.com/alanyoungcy/pricebet/internal/oracle/chainlink"
	"github.com/alanyoungcy/pricebet/internal/server/handler"
	"github.com/alanyoungcy/pricebet/internal/service"
	"github.com/alanyoungcy/pricebet/internal/settlement"
	"github.com/alanyoungcy/pricebet/internal/store/memory"
	"github.com/alanyoungcy/pricebet/internal/store/postgres"
)

// Dependencies bundles the concrete implementations the modes run on. Redis
// and S3 backed members are nil when those backends are disabled.
type Dependencies struct {
	Store  domain.Store
	Oracle domain.Oracle
	Prices domain.PriceCache

	MarketCache domain.MarketCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	Nonces      domain.NonceStore

	Archiver domain.Archiver
	Notifier *notify.Notifier

	// Health holds one probe per external backend.
	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// --- Store ---
	switch cfg.Storage.Driver {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; state is lost on exit")
		deps.Store = memory.New()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = postgres.NewStore(pgClient.Pool())
		deps.Health["postgres"] = pgClient.Health
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Prices = redis.NewPriceCache(redisClient, cfg.Oracle.PriceTTL.Duration)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Nonces = redis.NewNonceStore(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.Prices = oracle.NewMemoryPriceCache()
	}

	// --- Oracle ---
	cached := oracle.NewCached(deps.Prices, nil)
	switch cfg.Oracle.Source {
	case "chainlink":
		cl, closeRPC, err := chainlink.Dial(ctx, cfg.Oracle.RPCURL, deps.Store.Feeds(), deps.Prices, nil)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, closeRPC)
		// A fresh cached price keeps markets resolvable through RPC outages.
		deps.Oracle = oracle.Fallback{cl, cached}
	default:
		deps.Oracle = cached
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.S3.Prefix)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// EngineParams converts the engine section into settlement parameters.
// Addresses are assumed to have passed Config.Validate.
func EngineParams(c config.EngineConfig) settlement.Params {
	p := settlement.DefaultParams()
	p.CreationPolicy = settlement.CreationPolicy(c.CreationPolicy)
	p.CreationAuthority = hexAddress(c.CreationAuthority)
	p.ProtocolWallet = hexAddress(c.ProtocolWallet)
	p.ResolverAddress = hexAddress(c.ResolverAddress)
	p.MaxPriceAge = c.MaxPriceAge.Duration
	p.CancelWindow = c.CancelWindow.Duration
	p.EnforceExpiry = c.EnforceExpiry
	p.FeeBase = settlement.FeeBase(c.FeeBase)
	return p
}

func hexAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

// NewSettlementService builds the engine and the service on top of deps.
func NewSettlementService(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*service.SettlementService, error) {
	params := EngineParams(cfg.Engine)
	admins := make([]common.Address, 0, len(cfg.Engine.LedgerAdmins))
	for _, a := range cfg.Engine.LedgerAdmins {
		admins = append(admins, common.HexToAddress(a))
	}
	auth := settlement.NewPolicyAuthorizer(params, admins...)

	engine, err := settlement.New(params, deps.Oracle, nil, auth)
	if err != nil {
		return nil, fmt.Errorf("settlement engine: %w", err)
	}

	var notifier service.Notifier
	if deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	events := service.NewEventPublisher(deps.SignalBus, deps.MarketCache, notifier, logger)

	svc, err := service.NewSettlementService(service.SettlementDeps{
		Engine:   engine,
		Store:    deps.Store,
		Auth:     auth,
		Prices:   deps.Prices,
		Cache:    deps.MarketCache,
		Archiver: deps.Archiver,
		Events:   events,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}
