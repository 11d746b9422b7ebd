package redis

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

func TestLockManager_AcquireAndRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lm := NewLockManager(Wrap(db))
	lm.newToken = func() string { return "tok-1" }
	ctx := context.Background()

	mock.ExpectSetNX("swapguard:lock:settle:0xabc", "tok-1", 35*time.Second).SetVal(true)
	mock.ExpectEvalSha(lm.unlockSc.Hash(), []string{"swapguard:lock:settle:0xabc"}, "tok-1").SetVal(int64(1))

	unlock, err := lm.Acquire(ctx, "settle:0xabc", 35*time.Second)
	require.NoError(t, err)
	unlock()
	unlock()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockManager_Held(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lm := NewLockManager(Wrap(db))
	lm.newToken = func() string { return "tok-2" }

	mock.ExpectSetNX("swapguard:lock:k", "tok-2", time.Second).SetVal(false)

	_, err := lm.Acquire(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockManager_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lm := NewLockManager(Wrap(db))
	lm.newToken = func() string { return "tok-3" }

	mock.ExpectSetNX("swapguard:lock:k", "tok-3", time.Second).SetErr(errors.New("connection refused"))

	_, err := lm.Acquire(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrLockHeld)
}

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		result []interface{}
		want   bool
	}{
		{name: "under limit", result: []interface{}{int64(1), int64(4)}, want: true},
		{name: "over limit", result: []interface{}{int64(0), int64(5)}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			rl := NewRateLimiter(Wrap(db))
			rl.now = func() time.Time { return now }

			mock.ExpectEvalSha(rl.slidingWindow.Hash(), []string{"swapguard:ratelimit:ip:10.0.0.1"},
				now.UnixMicro(), time.Minute.Microseconds(), 5,
			).SetVal(tt.result)

			got, err := rl.Allow(context.Background(), "ip:10.0.0.1", 5, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRateLimiter_ZeroLimitDenies(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(Wrap(db))

	ok, err := rl.Allow(context.Background(), "k", 0, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalBus_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewSignalBus(Wrap(db))
	payload := []byte(`{"type":"swap_settled"}`)

	mock.ExpectPublish("swapguard:swaps", payload).SetVal(2)
	require.NoError(t, bus.Publish(context.Background(), "swaps", payload))

	mock.ExpectPublish("swapguard:swaps", payload).SetErr(redis.ErrClosed)
	assert.Error(t, bus.Publish(context.Background(), "swaps", payload))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceMirror_SetEntries(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pm := NewPriceMirror(Wrap(db), time.Minute)
	ts := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	entry := domain.PriceEntry{
		Symbol:      "eth",
		Name:        "Ethereum",
		Price:       decimal.RequireFromString("2500.5"),
		Change24h:   decimal.RequireFromString("-1.2"),
		Volume24h:   decimal.RequireFromString("1000000"),
		MarketCap:   decimal.RequireFromString("300000000000"),
		LastUpdated: ts,
	}

	mock.ExpectHSet("swapguard:price:ETH",
		"symbol", "ETH",
		"name", "Ethereum",
		"price", "2500.5",
		"change24h", "-1.2",
		"volume24h", "1000000",
		"marketCap", "300000000000",
		"ts", strconv.FormatInt(ts.UnixNano(), 10),
	).SetVal(7)
	mock.ExpectExpire("swapguard:price:ETH", time.Minute).SetVal(true)

	require.NoError(t, pm.SetEntries(context.Background(), []domain.PriceEntry{entry}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceMirror_GetEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pm := NewPriceMirror(Wrap(db), 0)
	ts := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectHGetAll("swapguard:price:BTC").SetVal(map[string]string{
		"symbol":    "BTC",
		"name":      "Bitcoin",
		"price":     "63000",
		"change24h": "2.5",
		"volume24h": "10",
		"marketCap": "20",
		"ts":        strconv.FormatInt(ts.UnixNano(), 10),
	})
	mock.ExpectHGetAll("swapguard:price:DOGE").SetVal(map[string]string{})

	got, err := pm.GetEntry(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin", got.Name)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(63000)))
	assert.True(t, got.Change24h.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, ts, got.LastUpdated)

	_, err = pm.GetEntry(context.Background(), "doge")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
