package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapguard/internal/broadcast"
	"github.com/alanyoungcy/swapguard/internal/config"
	"github.com/alanyoungcy/swapguard/internal/pipeline"
	"github.com/alanyoungcy/swapguard/internal/risk"
	"github.com/alanyoungcy/swapguard/internal/server"
	"github.com/alanyoungcy/swapguard/internal/server/handler"
	"github.com/alanyoungcy/swapguard/internal/server/ws"
	"github.com/alanyoungcy/swapguard/internal/service"
	"github.com/alanyoungcy/swapguard/internal/wallet"
)

const shutdownTimeout = 5 * time.Second

// ServeMode runs the full service: price ingestion, archival, the settlement
// sweeper, the price broadcaster, operator notifications and the HTTP API.
// It backs both the "full" and "local" modes; they differ only in what Wire
// put behind the stores and caches.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	g, ctx := errgroup.WithContext(ctx)

	riskSvc := risk.NewService(
		risk.NewScorer(cfg.Risk.ScamThreshold),
		deps.MarketData,
		risk.ServiceConfig{
			LookupTimeout: cfg.Risk.LookupTimeout.Duration,
			BatchWorkers:  cfg.Risk.BatchWorkers,
		},
		deps.Metrics,
		a.logger,
	)
	quotes := service.NewQuoteService(deps.PriceCache, quoteConfig(cfg.Quote))
	ledger := wallet.NewLedger()

	settlement := service.NewSettlementService(
		deps.SwapStore,
		ledger,
		riskSvc,
		deps.PriceCache,
		service.SimulatedConfirmer{Delay: cfg.Settlement.ConfirmDelay.Duration},
		service.SettlementConfig{
			BlockThreshold: cfg.Settlement.BlockThreshold,
			WarnThreshold:  cfg.Settlement.WarnThreshold,
			AllowOverride:  cfg.Settlement.AllowOverride,
			SettleTimeout:  cfg.Settlement.SettleTimeout.Duration,
			StuckAfter:     cfg.Settlement.StuckAfter.Duration,
			SweepInterval:  cfg.Settlement.SweepInterval.Duration,
			TokenAddresses: tokenAddresses(cfg.Tokens),
		},
		deps.Metrics,
		a.logger,
	).WithAudit(deps.AuditStore).WithNotifier(deps.Notifier)
	if deps.SignalBus != nil {
		settlement.WithSignalBus(deps.SignalBus)
	}
	if deps.LockManager != nil {
		settlement.WithLocks(deps.LockManager)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := settlement.Shutdown(sctx); err != nil {
			a.logger.Warn("settlement shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	orch := a.newOrchestrator(ctx, deps)
	orch.Add("settlement-sweeper", settlement.RunSweeper)
	g.Go(func() error { return orch.Run(ctx) })

	g.Go(func() error { return deps.Notifier.Run(ctx) })

	bcast := broadcast.New(deps.PriceCache, deps.Metrics, a.logger)
	g.Go(func() error { return bcast.Run(ctx) })

	if deps.SignalBus != nil {
		events, err := deps.SignalBus.Subscribe(ctx, service.SwapChannel)
		if err != nil {
			a.logger.WarnContext(ctx, "swap updates disabled", slog.String("error", err.Error()))
		} else {
			g.Go(func() error { return bcast.RelaySwaps(ctx, events) })
		}
	}

	if cfg.Server.Enabled {
		handlers := server.Handlers{
			Health:  handler.NewHealthHandler(deps.Checks, a.logger),
			Prices:  handler.NewPriceHandler(deps.PriceCache, quotes, a.logger),
			Risk:    handler.NewRiskHandler(riskSvc, a.logger),
			Swaps:   handler.NewSwapHandler(quotes, settlement, a.logger),
			Wallets: handler.NewWalletHandler(ledger, cfg.Wallet.AllowFaucet, a.logger),
		}
		if deps.Metrics != nil {
			handlers.Metrics = deps.Metrics.Handler()
		}
		hub := ws.NewHub(bcast, cfg.Server.CORSOrigins, a.logger)
		srv := server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   cfg.Server.RateLimit,
			RateWindow:  cfg.Server.RateWindow.Duration,
		}, handlers, hub, deps.RateLimiter, a.logger)
		a.startHTTPServer(ctx, g, srv)
	}

	return ignoreCanceled(g.Wait())
}

// IngestMode keeps the price cache, snapshot history and redis mirror fresh
// and runs archival, without serving the API.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	orch := a.newOrchestrator(ctx, deps)
	return ignoreCanceled(orch.Run(ctx))
}

// newOrchestrator builds the ingestion pipeline and warms the cache from the
// latest snapshots so quotes work before the first upstream fetch lands.
func (a *App) newOrchestrator(ctx context.Context, deps *Dependencies) *pipeline.Orchestrator {
	cfg := a.cfg
	extra := make([]pipeline.Token, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		extra = append(extra, pipeline.Token{SourceID: t.SourceID, Symbol: t.Symbol, Name: t.Name})
	}

	ingestor := pipeline.NewIngestor(
		deps.PriceSource,
		deps.PriceCache,
		pipeline.NewTokenTable(extra...),
		deps.Snapshots,
		deps.PriceMirror,
		deps.Metrics,
		a.logger,
	)
	if _, err := ingestor.Warm(ctx); err != nil {
		a.logger.WarnContext(ctx, "cache warm-up skipped", slog.String("error", err.Error()))
	}

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, deps.PriceCache, a.logger)
	}
	return pipeline.NewOrchestrator(ingestor, archiver, cfg.Ingest.Interval.Duration, cfg.S3.ArchiveCron, a.logger)
}

// startHTTPServer runs srv in g and shuts it down when ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, srv *server.Server) {
	g.Go(func() error {
		a.logger.Info("HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func quoteConfig(c config.QuoteConfig) service.QuoteConfig {
	return service.QuoteConfig{
		FeeRate:      decimal.NewFromFloat(c.FeeRate),
		Slippage:     decimal.NewFromFloat(c.Slippage),
		EstimatedGas: decimal.NewFromFloat(c.EstimatedGas),
		Validity:     c.Validity.Duration,
	}
}

func tokenAddresses(tokens []config.TokenConfig) map[string]string {
	out := make(map[string]string, len(tokens))
	for _, t := range tokens {
		if t.Address != "" {
			out[strings.ToUpper(t.Symbol)] = t.Address
		}
	}
	return out
}

// ignoreCanceled treats a cancelled context as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
