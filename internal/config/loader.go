package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PRICEBET_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PRICEBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.CreationPolicy, "PRICEBET_ENGINE_CREATION_POLICY")
	setStr(&cfg.Engine.CreationAuthority, "PRICEBET_ENGINE_CREATION_AUTHORITY")
	setStr(&cfg.Engine.ProtocolWallet, "PRICEBET_ENGINE_PROTOCOL_WALLET")
	setStr(&cfg.Engine.ResolverAddress, "PRICEBET_ENGINE_RESOLVER_ADDRESS")
	setStringSlice(&cfg.Engine.LedgerAdmins, "PRICEBET_ENGINE_LEDGER_ADMINS")
	setDuration(&cfg.Engine.MaxPriceAge, "PRICEBET_ENGINE_MAX_PRICE_AGE")
	setDuration(&cfg.Engine.CancelWindow, "PRICEBET_ENGINE_CANCEL_WINDOW")
	setBool(&cfg.Engine.EnforceExpiry, "PRICEBET_ENGINE_ENFORCE_EXPIRY")
	setStr(&cfg.Engine.FeeBase, "PRICEBET_ENGINE_FEE_BASE")

	// ── Oracle ──
	setStr(&cfg.Oracle.Source, "PRICEBET_ORACLE_SOURCE")
	setStr(&cfg.Oracle.RPCURL, "PRICEBET_ORACLE_RPC_URL")
	setDuration(&cfg.Oracle.PriceTTL, "PRICEBET_ORACLE_PRICE_TTL")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "PRICEBET_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PRICEBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PRICEBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRICEBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRICEBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRICEBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRICEBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRICEBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PRICEBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PRICEBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PRICEBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PRICEBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRICEBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRICEBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRICEBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRICEBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRICEBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PRICEBET_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.MarketTTL, "PRICEBET_REDIS_MARKET_TTL")
	setStr(&cfg.Redis.Namespace, "PRICEBET_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PRICEBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRICEBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRICEBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRICEBET_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PRICEBET_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PRICEBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRICEBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRICEBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRICEBET_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PRICEBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PRICEBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PRICEBET_SERVER_API_KEY")
	setInt64(&cfg.Server.ChainID, "PRICEBET_SERVER_CHAIN_ID")
	setDuration(&cfg.Server.MaxSkew, "PRICEBET_SERVER_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "PRICEBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PRICEBET_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PRICEBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRICEBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRICEBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRICEBET_NOTIFY_EVENTS")

	// ── Resolver ──
	setDuration(&cfg.Resolver.Interval, "PRICEBET_RESOLVER_INTERVAL")
	setInt(&cfg.Resolver.Batch, "PRICEBET_RESOLVER_BATCH")
	setBool(&cfg.Resolver.Archive, "PRICEBET_RESOLVER_ARCHIVE")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRICEBET_MODE")
	setStr(&cfg.LogLevel, "PRICEBET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
