package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/swapguard/internal/blob/s3"
	cachememory "github.com/alanyoungcy/swapguard/internal/cache/memory"
	"github.com/alanyoungcy/swapguard/internal/cache/redis"
	"github.com/alanyoungcy/swapguard/internal/config"
	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/metrics"
	"github.com/alanyoungcy/swapguard/internal/notify"
	"github.com/alanyoungcy/swapguard/internal/platform/coingecko"
	"github.com/alanyoungcy/swapguard/internal/platform/dexscreener"
	"github.com/alanyoungcy/swapguard/internal/server/handler"
	"github.com/alanyoungcy/swapguard/internal/store/memory"
	"github.com/alanyoungcy/swapguard/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Metrics *metrics.Metrics // nil when metrics are disabled

	// Stores
	SwapStore   domain.SwapStore
	SwapArchive s3blob.SwapArchiveStore
	AuditStore  domain.AuditStore
	Snapshots   domain.PriceSnapshotStore

	// Caches
	PriceCache  *cachememory.PriceCache
	PriceMirror domain.PriceMirror // optional
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager // optional
	SignalBus   domain.SignalBus

	// Upstreams
	PriceSource domain.ExternalPriceSource
	MarketData  domain.MarketDataProvider // optional

	// Blob storage
	Archiver domain.Archiver // optional

	Notifier *notify.Notifier
	Checks   map[string]handler.Check
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

	deps := &Dependencies{
		PriceCache: cachememory.NewPriceCache(),
		Checks:     make(map[string]handler.Check),
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
		cache := deps.PriceCache
		deps.Metrics.RegisterCacheDrops(func() float64 { return float64(cache.Dropped()) })
	}

	if config.UsesInfra(cfg.Mode) {
		// --- PostgreSQL ---
		pgClient, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "applied migrations", slog.Any("migrations", applied))
			}
		}

		pool := pgClient.Pool()
		swaps := postgres.NewSwapStore(pool)
		deps.SwapStore = swaps
		deps.SwapArchive = swaps
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Snapshots = postgres.NewPriceSnapshotStore(pool)
		deps.Checks["postgres"] = pgClient.Health

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceMirror = redis.NewPriceMirror(redisClient, cfg.Redis.MirrorTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		swaps := memory.NewSwapStore()
		deps.SwapStore = swaps
		deps.SwapArchive = swaps
		deps.AuditStore = memory.NewAuditStore()
		deps.Snapshots = memory.NewPriceSnapshotStore()
		deps.RateLimiter = cachememory.NewRateLimiter()
		deps.SignalBus = cachememory.NewSignalBus()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.SwapArchive,
			deps.AuditStore,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Upstreams ---
	deps.PriceSource = coingecko.New(coingecko.Config{
		BaseURL:           cfg.Ingest.BaseURL,
		APIKey:            cfg.Ingest.APIKey,
		Timeout:           cfg.Ingest.Timeout.Duration,
		RequestsPerMinute: cfg.Ingest.RequestsPerMinute,
	}, deps.Metrics)
	if cfg.Risk.MarketLookups {
		deps.MarketData = dexscreener.New(cfg.Risk.MarketDataURL, deps.Metrics)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIBase,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.PerMinute, logger)

	return deps, cleanup, nil
}

// OpenPostgres connects to the database described by cfg.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*postgres.Client, error) {
	c, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.DSN,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
		SSLMode:  cfg.SSLMode,
		MaxConns: cfg.PoolMaxConns,
		MinConns: cfg.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: postgres: %w", err)
	}
	return c, nil
}
