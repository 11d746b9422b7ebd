package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWAPGUARD_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is
// empty. The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SWAPGUARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "SWAPGUARD_MODE")
	setStr(&cfg.LogLevel, "SWAPGUARD_LOG_LEVEL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SWAPGUARD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SWAPGUARD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SWAPGUARD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SWAPGUARD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SWAPGUARD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SWAPGUARD_SERVER_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias; SWAPGUARD_POSTGRES_DSN wins
	setStr(&cfg.Postgres.DSN, "SWAPGUARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SWAPGUARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPGUARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPGUARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPGUARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPGUARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPGUARD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SWAPGUARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SWAPGUARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWAPGUARD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SWAPGUARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWAPGUARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWAPGUARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWAPGUARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWAPGUARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWAPGUARD_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.MirrorTTL, "SWAPGUARD_REDIS_MIRROR_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SWAPGUARD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SWAPGUARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPGUARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPGUARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPGUARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPGUARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SWAPGUARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SWAPGUARD_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.KeyPrefix, "SWAPGUARD_S3_KEY_PREFIX")
	setStr(&cfg.S3.ArchiveCron, "SWAPGUARD_S3_ARCHIVE_CRON")

	// ── Ingest ──
	setStr(&cfg.Ingest.BaseURL, "SWAPGUARD_INGEST_BASE_URL")
	setStr(&cfg.Ingest.APIKey, "SWAPGUARD_INGEST_API_KEY")
	setDuration(&cfg.Ingest.Interval, "SWAPGUARD_INGEST_INTERVAL")
	setDuration(&cfg.Ingest.Timeout, "SWAPGUARD_INGEST_TIMEOUT")
	setInt(&cfg.Ingest.RequestsPerMinute, "SWAPGUARD_INGEST_REQUESTS_PER_MINUTE")

	// ── Risk ──
	setInt(&cfg.Risk.ScamThreshold, "SWAPGUARD_RISK_SCAM_THRESHOLD")
	setBool(&cfg.Risk.MarketLookups, "SWAPGUARD_RISK_MARKET_LOOKUPS")
	setStr(&cfg.Risk.MarketDataURL, "SWAPGUARD_RISK_MARKET_DATA_URL")
	setDuration(&cfg.Risk.LookupTimeout, "SWAPGUARD_RISK_LOOKUP_TIMEOUT")
	setInt(&cfg.Risk.BatchWorkers, "SWAPGUARD_RISK_BATCH_WORKERS")

	// ── Quote ──
	setFloat64(&cfg.Quote.FeeRate, "SWAPGUARD_QUOTE_FEE_RATE")
	setFloat64(&cfg.Quote.Slippage, "SWAPGUARD_QUOTE_SLIPPAGE")
	setFloat64(&cfg.Quote.EstimatedGas, "SWAPGUARD_QUOTE_ESTIMATED_GAS")
	setDuration(&cfg.Quote.Validity, "SWAPGUARD_QUOTE_VALIDITY")

	// ── Settlement ──
	setInt(&cfg.Settlement.BlockThreshold, "SWAPGUARD_SETTLEMENT_BLOCK_THRESHOLD")
	setInt(&cfg.Settlement.WarnThreshold, "SWAPGUARD_SETTLEMENT_WARN_THRESHOLD")
	setBool(&cfg.Settlement.AllowOverride, "SWAPGUARD_SETTLEMENT_ALLOW_OVERRIDE")
	setDuration(&cfg.Settlement.ConfirmDelay, "SWAPGUARD_SETTLEMENT_CONFIRM_DELAY")
	setDuration(&cfg.Settlement.SettleTimeout, "SWAPGUARD_SETTLEMENT_SETTLE_TIMEOUT")
	setDuration(&cfg.Settlement.StuckAfter, "SWAPGUARD_SETTLEMENT_STUCK_AFTER")
	setDuration(&cfg.Settlement.SweepInterval, "SWAPGUARD_SETTLEMENT_SWEEP_INTERVAL")

	// ── Wallet ──
	setBool(&cfg.Wallet.AllowFaucet, "SWAPGUARD_WALLET_ALLOW_FAUCET")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SWAPGUARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWAPGUARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SWAPGUARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SWAPGUARD_NOTIFY_EVENTS")
	setInt(&cfg.Notify.PerMinute, "SWAPGUARD_NOTIFY_PER_MINUTE")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "SWAPGUARD_METRICS_ENABLED")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
