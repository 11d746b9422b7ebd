package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapguard/internal/cache/memory"
	"github.com/alanyoungcy/swapguard/internal/domain"
	storemem "github.com/alanyoungcy/swapguard/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Fetch(ctx context.Context, ids []string) (map[string]domain.PriceQuote, error) {
	args := m.Called(ctx, ids)
	quotes, _ := args.Get(0).(map[string]domain.PriceQuote)
	return quotes, args.Error(1)
}

type mockMirror struct {
	mock.Mock
}

func (m *mockMirror) SetEntries(ctx context.Context, entries []domain.PriceEntry) error {
	return m.Called(ctx, entries).Error(0)
}

func (m *mockMirror) GetEntry(ctx context.Context, symbol string) (domain.PriceEntry, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(domain.PriceEntry), args.Error(1)
}

func quote(price string) domain.PriceQuote {
	return domain.PriceQuote{Price: decimal.RequireFromString(price)}
}

func TestTokenTable(t *testing.T) {
	tbl := NewTokenTable(Token{SourceID: "Dogecoin", Symbol: "doge"}, Token{SourceID: "aptos", Symbol: "APT", Name: "Aptos Network"})

	assert.Equal(t, []string{"aptos", "bitcoin", "dogecoin", "ethereum", "tether", "usd-coin"}, tbl.IDs())

	doge, ok := tbl.Lookup("dogecoin")
	require.True(t, ok)
	assert.Equal(t, "DOGE", doge.Symbol)
	assert.Equal(t, "DOGE", doge.Name)

	apt, _ := tbl.Lookup("aptos")
	assert.Equal(t, "Aptos Network", apt.Name)

	_, ok = tbl.Lookup("shiba")
	assert.False(t, ok)
}

func TestIngestor_RunAppliesBatchAndPersists(t *testing.T) {
	source := new(mockSource)
	source.On("Fetch", mock.Anything, mock.Anything).Return(map[string]domain.PriceQuote{
		"bitcoin":  quote("63000"),
		"ethereum": quote("2500"),
	}, nil)
	mirror := new(mockMirror)
	mirror.On("SetEntries", mock.Anything, mock.MatchedBy(func(e []domain.PriceEntry) bool { return len(e) == 2 })).Return(nil).Once()

	cache := memory.NewPriceCache()
	snaps := storemem.NewPriceSnapshotStore()
	in := NewIngestor(source, cache, NewTokenTable(), snaps, mirror, nil, discardLogger())

	changed, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	btc, ok := cache.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, "Bitcoin", btc.Name)
	assert.True(t, btc.Price.Equal(decimal.NewFromInt(63000)))
	assert.Equal(t, 2, snaps.Inserted())
	mirror.AssertExpectations(t)

	changed, err = in.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestIngestor_FetchFailureLeavesCacheUnchanged(t *testing.T) {
	source := new(mockSource)
	source.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused"))

	cache := memory.NewPriceCache()
	cache.Upsert(domain.PriceEntry{Symbol: "BTC", Name: "Bitcoin", Price: decimal.NewFromInt(60000)})
	in := NewIngestor(source, cache, NewTokenTable(), nil, nil, nil, discardLogger())

	_, err := in.Run(context.Background())
	require.Error(t, err)

	all := cache.GetAll()
	require.Len(t, all, 1)
	assert.True(t, all[0].Price.Equal(decimal.NewFromInt(60000)))
}

func TestIngestor_InvalidBatchIsNotPartiallyApplied(t *testing.T) {
	tests := map[string]map[string]domain.PriceQuote{
		"negative price": {
			"bitcoin":  quote("63000"),
			"ethereum": quote("-1"),
		},
		"unknown id": {
			"bitcoin":  quote("63000"),
			"shiba-x":  quote("0.0001"),
			"ethereum": quote("2500"),
		},
	}
	for name, batch := range tests {
		t.Run(name, func(t *testing.T) {
			source := new(mockSource)
			source.On("Fetch", mock.Anything, mock.Anything).Return(batch, nil)
			cache := memory.NewPriceCache()
			in := NewIngestor(source, cache, NewTokenTable(), nil, nil, nil, discardLogger())

			_, err := in.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Empty(t, cache.GetAll())
		})
	}
}

type flakySource struct {
	calls atomic.Int32
}

func (f *flakySource) Fetch(context.Context, []string) (map[string]domain.PriceQuote, error) {
	if f.calls.Add(1) == 1 {
		return nil, errors.New("network unreachable")
	}
	return map[string]domain.PriceQuote{"bitcoin": quote("63000")}, nil
}

func TestIngestor_RunLoopSurvivesFailedCycle(t *testing.T) {
	source := &flakySource{}
	cache := memory.NewPriceCache()
	in := NewIngestor(source, cache, NewTokenTable(), nil, nil, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.RunLoop(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		_, ok := cache.Get("BTC")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, source.calls.Load(), int32(2))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunLoop did not stop")
	}
}

func TestIngestor_Warm(t *testing.T) {
	snaps := storemem.NewPriceSnapshotStore()
	require.NoError(t, snaps.InsertBatch(context.Background(), []domain.PriceSnapshot{
		{Entry: domain.PriceEntry{Symbol: "ETH", Name: "Ethereum", Price: decimal.NewFromInt(2400)}, CapturedAt: time.Now()},
	}))
	cache := memory.NewPriceCache()
	in := NewIngestor(new(mockSource), cache, NewTokenTable(), snaps, nil, nil, discardLogger())

	n, err := in.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := cache.Get("ETH")
	assert.True(t, ok)
}

func TestIngestor_WarmPrefersNewerMirrorEntries(t *testing.T) {
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	snaps := storemem.NewPriceSnapshotStore()
	require.NoError(t, snaps.InsertBatch(ctx, []domain.PriceSnapshot{
		{Entry: domain.PriceEntry{Symbol: "ETH", Name: "Ethereum", Price: decimal.NewFromInt(2400), LastUpdated: old}, CapturedAt: old},
		{Entry: domain.PriceEntry{Symbol: "BTC", Name: "Bitcoin", Price: decimal.NewFromInt(60000), LastUpdated: time.Now()}, CapturedAt: time.Now()},
	}))

	mirror := new(mockMirror)
	mirror.On("GetEntry", mock.Anything, "ETH").
		Return(domain.PriceEntry{Symbol: "ETH", Name: "Ethereum", Price: decimal.NewFromInt(2500), LastUpdated: time.Now()}, nil)
	mirror.On("GetEntry", mock.Anything, "BTC").
		Return(domain.PriceEntry{Symbol: "BTC", Name: "Bitcoin", Price: decimal.NewFromInt(50000), LastUpdated: old}, nil)
	mirror.On("GetEntry", mock.Anything, "APT").
		Return(domain.PriceEntry{Symbol: "APT", Name: "Aptos", Price: decimal.NewFromInt(-1), LastUpdated: time.Now()}, nil)
	mirror.On("GetEntry", mock.Anything, mock.Anything).Return(domain.PriceEntry{}, domain.ErrNotFound)

	cache := memory.NewPriceCache()
	in := NewIngestor(new(mockSource), cache, NewTokenTable(), snaps, mirror, nil, discardLogger())

	n, err := in.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "two snapshots plus one newer mirror entry")

	eth, ok := cache.Get("ETH")
	require.True(t, ok)
	assert.True(t, eth.Price.Equal(decimal.NewFromInt(2500)))
	btc, ok := cache.Get("BTC")
	require.True(t, ok)
	assert.True(t, btc.Price.Equal(decimal.NewFromInt(60000)), "stale mirror entry is ignored")
	_, ok = cache.Get("APT")
	assert.False(t, ok, "invalid mirror entry is ignored")
	mirror.AssertNumberOfCalls(t, "GetEntry", len(NewTokenTable().IDs()))
}

func TestIngestor_WarmMirrorOnly(t *testing.T) {
	mirror := new(mockMirror)
	mirror.On("GetEntry", mock.Anything, "USDC").
		Return(domain.PriceEntry{Symbol: "USDC", Name: "USD Coin", Price: decimal.NewFromInt(1), LastUpdated: time.Now()}, nil)
	mirror.On("GetEntry", mock.Anything, mock.Anything).Return(domain.PriceEntry{}, errors.New("redis down"))

	cache := memory.NewPriceCache()
	in := NewIngestor(new(mockSource), cache, NewTokenTable(), nil, mirror, nil, discardLogger())

	n, err := in.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := cache.Get("USDC")
	assert.True(t, ok)
}

type recordingArchiver struct {
	mu      sync.Mutex
	prices  int
	day     time.Time
	failErr error
}

func (r *recordingArchiver) ArchivePrices(_ context.Context, entries []domain.PriceEntry, _ time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = len(entries)
	return "prices/x.jsonl", nil
}

func (r *recordingArchiver) ArchiveSwaps(_ context.Context, day time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.day = day
	return 3, r.failErr
}

func TestArchiver_RunArchivesPreviousDay(t *testing.T) {
	cache := memory.NewPriceCache()
	cache.Upsert(domain.PriceEntry{Symbol: "BTC", Price: decimal.NewFromInt(1)})
	rec := &recordingArchiver{}
	a := NewArchiver(rec, cache, discardLogger())
	a.now = func() time.Time { return time.Date(2026, 4, 10, 0, 5, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 1, rec.prices)
	assert.Equal(t, time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC), rec.day)

	rec.failErr = errors.New("s3 down")
	assert.Error(t, a.Run(context.Background()))
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 4, 10, 10, 7, 30, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"5 0 * * *", time.Date(2026, 4, 11, 0, 5, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 4, 10, 10, 15, 0, 0, time.UTC)},
		{"0 9-11 * * *", time.Date(2026, 4, 10, 11, 0, 0, 0, time.UTC)},
		{"30 10,22 * * *", time.Date(2026, 4, 10, 10, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := nextCronTime("* * *", after)
	assert.Error(t, err)
	_, err = nextCronTime("*/0 * * * *", after)
	assert.Error(t, err)
}

func TestOrchestrator_StopsCleanlyOnCancel(t *testing.T) {
	source := new(mockSource)
	source.On("Fetch", mock.Anything, mock.Anything).Return(map[string]domain.PriceQuote{}, nil)
	in := NewIngestor(source, memory.NewPriceCache(), NewTokenTable(), nil, nil, nil, discardLogger())

	var extraRan atomic.Bool
	o := NewOrchestrator(in, nil, time.Hour, "", discardLogger())
	o.Add("sweeper", func(ctx context.Context) error {
		extraRan.Store(true)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, extraRan.Load, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
