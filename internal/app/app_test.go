package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapguard/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWire_LocalModeNeedsNoInfra(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = config.ModeLocal
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:1/hook"

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.SwapStore)
	assert.NotNil(t, deps.AuditStore)
	assert.NotNil(t, deps.Snapshots)
	assert.NotNil(t, deps.RateLimiter)
	assert.NotNil(t, deps.Metrics)
	assert.Nil(t, deps.PriceMirror)
	assert.NotNil(t, deps.SignalBus, "local mode relays swap events in process")
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Archiver)
	assert.NotNil(t, deps.MarketData, "market lookups are on by default")
	assert.Empty(t, deps.Checks)
}

func TestWire_MetricsAndLookupsOff(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = config.ModeLocal
	cfg.Metrics.Enabled = false
	cfg.Risk.MarketLookups = false

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Metrics)
	assert.Nil(t, deps.MarketData)
}

func TestRun_LocalModeStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = config.ModeLocal
	cfg.Server.Enabled = false
	cfg.Ingest.BaseURL = "http://127.0.0.1:1"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(&cfg, discardLogger())
	defer a.Close()
	assert.NoError(t, a.Run(ctx))
}

func TestTokenAddresses(t *testing.T) {
	got := tokenAddresses([]config.TokenConfig{
		{Symbol: "sol", Address: "0xabc"},
		{Symbol: "BTC"},
	})
	assert.Equal(t, map[string]string{"SOL": "0xabc"}, got)
}

func TestQuoteConfig(t *testing.T) {
	cfg := config.Defaults()
	q := quoteConfig(cfg.Quote)
	assert.Equal(t, "0.003", q.FeeRate.String())
	assert.Equal(t, "0.02", q.Slippage.String())
	assert.Equal(t, cfg.Quote.Validity.Duration, q.Validity)
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.NoError(t, ignoreCanceled(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, ignoreCanceled(boom), boom)
}
