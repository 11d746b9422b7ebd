package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 70, cfg.Risk.ScamThreshold)
	assert.Equal(t, 80, cfg.Settlement.BlockThreshold)
	assert.Equal(t, 30*time.Second, cfg.Ingest.Interval.Duration)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swapguard.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "local"
log_level = "debug"

[server]
port = 9090

[ingest]
interval = "45s"

[settlement]
allow_override = true

[[tokens]]
source_id = "solana"
symbol = "sol"
name = "Solana"
address = "0x01"
`), 0o600))

	t.Setenv("SWAPGUARD_SERVER_PORT", "9191")
	t.Setenv("SWAPGUARD_NOTIFY_EVENTS", "swap_failed, ,swap_completed")
	t.Setenv("SWAPGUARD_QUOTE_FEE_RATE", "0.001")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "local", cfg.Mode)
	assert.Equal(t, 9191, cfg.Server.Port, "env wins over file")
	assert.Equal(t, 45*time.Second, cfg.Ingest.Interval.Duration)
	assert.True(t, cfg.Settlement.AllowOverride)
	assert.Equal(t, []string{"swap_failed", "swap_completed"}, cfg.Notify.Events)
	assert.InDelta(t, 0.001, cfg.Quote.FeeRate, 1e-9)
	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, "solana", cfg.Tokens[0].SourceID)
	assert.Equal(t, 5*time.Minute, cfg.Redis.MirrorTTL.Duration, "untouched defaults survive")
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[ingest]
interval = "soon"`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Server.Port = 0
	cfg.Quote.FeeRate = 1.5
	cfg.Settlement.ConfirmDelay.Duration = time.Minute
	cfg.Notify.TelegramToken = "t"
	cfg.Tokens = []TokenConfig{{SourceID: "a", Symbol: "X"}, {SourceID: "b", Symbol: "x"}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"server: port",
		"quote: fee_rate",
		"settlement: confirm_delay",
		"telegram_chat_id",
		"duplicate symbol X",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_LocalModeSkipsInfra(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "local"
	cfg.Redis.Addr = ""
	cfg.Postgres.Host = ""
	assert.NoError(t, cfg.Validate())

	cfg.Mode = "full"
	assert.Error(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "hunter2", cfg.Postgres.Password, "original untouched")

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
