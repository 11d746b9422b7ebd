// Package config defines the top-level configuration for swapguard and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SWAPGUARD_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Ingest     IngestConfig     `toml:"ingest"`
	Risk       RiskConfig       `toml:"risk"`
	Quote      QuoteConfig      `toml:"quote"`
	Settlement SettlementConfig `toml:"settlement"`
	Wallet     WalletConfig     `toml:"wallet"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Tokens     []TokenConfig    `toml:"tokens"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per rate_window per IP; 0 disables
	RateWindow  duration `toml:"rate_window"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	MirrorTTL  duration `toml:"mirror_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	KeyPrefix      string `toml:"key_prefix"`
	ArchiveCron    string `toml:"archive_cron"`
}

// IngestConfig controls the price ingestion loop.
type IngestConfig struct {
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	Interval          duration `toml:"interval"`
	Timeout           duration `toml:"timeout"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// RiskConfig holds scam scoring parameters.
type RiskConfig struct {
	ScamThreshold int      `toml:"scam_threshold"`
	MarketLookups bool     `toml:"market_lookups"`
	MarketDataURL string   `toml:"market_data_url"`
	LookupTimeout duration `toml:"lookup_timeout"`
	BatchWorkers  int      `toml:"batch_workers"`
}

// QuoteConfig holds swap pricing parameters. Rates are fractions.
type QuoteConfig struct {
	FeeRate      float64  `toml:"fee_rate"`
	Slippage     float64  `toml:"slippage"`
	EstimatedGas float64  `toml:"estimated_gas"`
	Validity     duration `toml:"validity"`
}

// SettlementConfig holds swap admission and settlement parameters.
type SettlementConfig struct {
	BlockThreshold int      `toml:"block_threshold"`
	WarnThreshold  int      `toml:"warn_threshold"`
	AllowOverride  bool     `toml:"allow_override"`
	ConfirmDelay   duration `toml:"confirm_delay"`
	SettleTimeout  duration `toml:"settle_timeout"`
	StuckAfter     duration `toml:"stuck_after"`
	SweepInterval  duration `toml:"sweep_interval"`
}

// WalletConfig holds wallet ledger settings.
type WalletConfig struct {
	AllowFaucet bool `toml:"allow_faucet"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	PerMinute         int      `toml:"per_minute"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// TokenConfig adds or overrides one tracked asset.
type TokenConfig struct {
	SourceID string `toml:"source_id"` // CoinGecko id, e.g. "bitcoin"
	Symbol   string `toml:"symbol"`
	Name     string `toml:"name"`
	Address  string `toml:"address"` // contract address used for risk checks
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     ModeFull,
		LogLevel: "info",
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "swapguard",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			MirrorTTL:  duration{5 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "swapguard-archive",
			ForcePathStyle: true,
			ArchiveCron:    "5 0 * * *",
		},
		Ingest: IngestConfig{
			BaseURL:           "https://api.coingecko.com/api/v3",
			Interval:          duration{30 * time.Second},
			Timeout:           duration{10 * time.Second},
			RequestsPerMinute: 30,
		},
		Risk: RiskConfig{
			ScamThreshold: 70,
			MarketLookups: true,
			MarketDataURL: "https://api.dexscreener.com",
			LookupTimeout: duration{5 * time.Second},
			BatchWorkers:  4,
		},
		Quote: QuoteConfig{
			FeeRate:      0.003,
			Slippage:     0.02,
			EstimatedGas: 0.001,
			Validity:     duration{30 * time.Second},
		},
		Settlement: SettlementConfig{
			BlockThreshold: 80,
			WarnThreshold:  70,
			ConfirmDelay:   duration{5 * time.Second},
			SettleTimeout:  duration{30 * time.Second},
			StuckAfter:     duration{10 * time.Minute},
			SweepInterval:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:    []string{"swap_failed", "risk_rejected"},
			PerMinute: 20,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Operating modes.
const (
	ModeFull   = "full"   // HTTP API + ingestion + settlement on postgres/redis
	ModeIngest = "ingest" // ingestion and archival only
	ModeLocal  = "local"  // everything in memory, no external infrastructure
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeFull:   true,
	ModeIngest: true,
	ModeLocal:  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UsesInfra reports whether mode talks to postgres and redis.
func UsesInfra(mode string) bool {
	return strings.ToLower(mode) != ModeLocal
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, ingest, local)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if UsesInfra(c.Mode) {
		// Postgres
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.ArchiveCron == "" {
			errs = append(errs, "s3: archive_cron must not be empty")
		}
	}

	// Ingest
	if c.Ingest.Interval.Duration < time.Second {
		errs = append(errs, "ingest: interval must be >= 1s")
	}

	// Risk
	if c.Risk.ScamThreshold < 0 || c.Risk.ScamThreshold > 100 {
		errs = append(errs, fmt.Sprintf("risk: scam_threshold must be 0-100, got %d", c.Risk.ScamThreshold))
	}

	// Quote
	if c.Quote.FeeRate < 0 || c.Quote.FeeRate >= 1 {
		errs = append(errs, "quote: fee_rate must be in [0, 1)")
	}
	if c.Quote.Slippage < 0 || c.Quote.Slippage >= 1 {
		errs = append(errs, "quote: slippage must be in [0, 1)")
	}

	// Settlement
	s := c.Settlement
	if s.BlockThreshold < 0 || s.BlockThreshold > 100 || s.WarnThreshold < 0 || s.WarnThreshold > 100 {
		errs = append(errs, "settlement: thresholds must be 0-100")
	}
	if s.ConfirmDelay.Duration >= s.SettleTimeout.Duration {
		errs = append(errs, "settlement: confirm_delay must be shorter than settle_timeout")
	}
	if s.StuckAfter.Duration <= s.SettleTimeout.Duration {
		errs = append(errs, "settlement: stuck_after must exceed settle_timeout")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Tokens
	seen := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		if t.SourceID == "" || t.Symbol == "" {
			errs = append(errs, fmt.Sprintf("tokens[%d]: source_id and symbol are required", i))
			continue
		}
		sym := strings.ToUpper(t.Symbol)
		if seen[sym] {
			errs = append(errs, fmt.Sprintf("tokens[%d]: duplicate symbol %s", i, sym))
		}
		seen[sym] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
