// Package config defines the top-level configuration for pricebet and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PRICEBET_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Oracle   OracleConfig   `toml:"oracle"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Resolver ResolverConfig `toml:"resolver"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the settlement parameters. Addresses are hex strings.
type EngineConfig struct {
	// CreationPolicy is "single_authority" or "open".
	CreationPolicy    string   `toml:"creation_policy"`
	CreationAuthority string   `toml:"creation_authority"`
	ProtocolWallet    string   `toml:"protocol_wallet"`
	ResolverAddress   string   `toml:"resolver_address"`
	LedgerAdmins      []string `toml:"ledger_admins"`
	MaxPriceAge       duration `toml:"max_price_age"`
	CancelWindow      duration `toml:"cancel_window"`
	EnforceExpiry     bool     `toml:"enforce_expiry"`
	// FeeBase is "settled" or "remaining".
	FeeBase string `toml:"fee_base"`
}

// OracleConfig selects where prices come from.
type OracleConfig struct {
	// Source is "manual" (prices posted through the API) or "chainlink".
	Source string `toml:"source"`
	RPCURL string `toml:"rpc_url"`
	// PriceTTL bounds how long a cached price survives in Redis.
	PriceTTL duration `toml:"price_ttl"`
}

// StorageConfig selects the store implementation.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the price and
// market caches, the event bus, the resolver lock and the rate limiter.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	MarketTTL  duration `toml:"market_ttl"`
	Namespace  string   `toml:"namespace"`
}

// S3Config holds the settled-market archive bucket parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// ChainID is the EIP-712 domain chain ID request signatures bind to.
	ChainID    int64    `toml:"chain_id"`
	MaxSkew    duration `toml:"max_skew"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ResolverConfig tunes the background sweeper.
type ResolverConfig struct {
	Interval duration `toml:"interval"`
	Batch    int      `toml:"batch"`
	// Archive snapshots settled markets to S3 when s3 is enabled.
	Archive bool `toml:"archive"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			CreationPolicy: "single_authority",
			MaxPriceAge:    duration{300 * time.Second},
			CancelWindow:   duration{6 * time.Hour},
			EnforceExpiry:  true,
			FeeBase:        "settled",
		},
		Oracle: OracleConfig{
			Source:   "manual",
			PriceTTL: duration{24 * time.Hour},
		},
		Storage: StorageConfig{
			Driver: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pricebet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			MarketTTL:  duration{30 * time.Second},
			Namespace:  "pricebet",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pricebet-archive",
			Prefix:         "settlements",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			ChainID:     137,
			MaxSkew:     duration{5 * time.Minute},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved", "fee_withdrawn"},
		},
		Resolver: ResolverConfig{
			Interval: duration{30 * time.Second},
			Batch:    50,
			Archive:  true,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"resolver": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, resolver, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	checkAddr := func(field, v string, required bool) {
		if v == "" {
			if required {
				errs = append(errs, "engine: "+field+" is required")
			}
			return
		}
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("engine: %s %q is not a hex address", field, v))
		}
	}
	switch c.Engine.CreationPolicy {
	case "open":
		checkAddr("creation_authority", c.Engine.CreationAuthority, false)
	case "single_authority":
		checkAddr("creation_authority", c.Engine.CreationAuthority, true)
	default:
		errs = append(errs, fmt.Sprintf("engine: creation_policy %q must be single_authority or open", c.Engine.CreationPolicy))
	}
	checkAddr("protocol_wallet", c.Engine.ProtocolWallet, true)
	checkAddr("resolver_address", c.Engine.ResolverAddress, mode == "resolver" || mode == "full")
	for _, a := range c.Engine.LedgerAdmins {
		checkAddr("ledger_admins", a, true)
	}
	if c.Engine.MaxPriceAge.Duration <= 0 {
		errs = append(errs, "engine: max_price_age must be positive")
	}
	if c.Engine.CancelWindow.Duration < 0 {
		errs = append(errs, "engine: cancel_window must not be negative")
	}
	if c.Engine.FeeBase != "settled" && c.Engine.FeeBase != "remaining" {
		errs = append(errs, fmt.Sprintf("engine: fee_base %q must be settled or remaining", c.Engine.FeeBase))
	}

	// Oracle
	switch c.Oracle.Source {
	case "manual":
	case "chainlink":
		if c.Oracle.RPCURL == "" {
			errs = append(errs, "oracle: rpc_url is required for the chainlink source")
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle: source %q must be manual or chainlink", c.Oracle.Source))
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
		if mode != "full" {
			errs = append(errs, "storage: the memory driver only supports mode full")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: driver %q must be memory or postgres", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else if c.Oracle.Source == "manual" && c.Storage.Driver == "postgres" && mode != "full" {
		errs = append(errs, "redis: manual prices need redis when server and resolver run as separate processes")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.ChainID <= 0 {
			errs = append(errs, "server: chain_id must be positive")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Resolver
	if c.Resolver.Interval.Duration <= 0 {
		errs = append(errs, "resolver: interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
