package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2026, 4, 9, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "api:1.1.1.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := rl.Allow(ctx, "api:1.1.1.1", 3, time.Minute)
	assert.False(t, ok, "burst exhausted")

	other, _ := rl.Allow(ctx, "api:2.2.2.2", 3, time.Minute)
	assert.True(t, other, "keys are independent")

	now = now.Add(20 * time.Second)
	ok, _ = rl.Allow(ctx, "api:1.1.1.1", 3, time.Minute)
	assert.True(t, ok, "one token refilled after window/limit")
}

func TestRateLimiter_ZeroLimitDenies(t *testing.T) {
	ok, err := NewRateLimiter().Allow(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
