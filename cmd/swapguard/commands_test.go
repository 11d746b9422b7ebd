package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScoreCommand(t *testing.T) {
	out, err := runRoot(t, "score", "MOONX1000GUARANTEED", "--name", "MOONX1000GUARANTEED", "--symbol", "MOONX1000GUARANTEED")
	require.NoError(t, err)

	var got domain.RiskAssessment
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 100, got.Score)
	assert.True(t, got.IsScam)
	assert.Contains(t, got.Reasons, "Suspicious keyword detected: guaranteed")
}

func TestScoreCommand_ThresholdFromEnv(t *testing.T) {
	t.Setenv("SWAPGUARD_RISK_SCAM_THRESHOLD", "20")
	out, err := runRoot(t, "score", "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984", "--name", "$$$ win !!! 777", "--symbol", "W")
	require.NoError(t, err)

	var got domain.RiskAssessment
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 20, got.Score)
	assert.True(t, got.IsScam, "score at the lowered threshold is a scam")
}

func TestScoreCommand_RequiresAddress(t *testing.T) {
	_, err := runRoot(t, "score")
	assert.Error(t, err)
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("debug").Enabled(ctx, -4))
	assert.False(t, newLogger("warn").Enabled(ctx, 0))
	assert.True(t, newLogger("bogus").Enabled(ctx, 0))
}
