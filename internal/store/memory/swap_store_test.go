package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func swap(id, owner string, offset time.Duration, status domain.SwapStatus, amount string, risk int) domain.SwapTransaction {
	return domain.SwapTransaction{
		ID:         id,
		Owner:      owner,
		FromSymbol: "ETH",
		ToSymbol:   "USDC",
		FromAmount: decimal.RequireFromString(amount),
		ToAmount:   decimal.RequireFromString(amount),
		Reference:  "ref-" + id,
		Status:     status,
		RiskScore:  risk,
		CreatedAt:  t0.Add(offset),
		UpdatedAt:  t0.Add(offset),
	}
}

func TestSwapStore_CreateRejectsDuplicateReference(t *testing.T) {
	s := NewSwapStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, swap("a", "alice", 0, domain.SwapStatusPending, "1", 0)))

	dup := swap("b", "alice", 0, domain.SwapStatusPending, "1", 0)
	dup.Reference = "ref-a"
	assert.ErrorIs(t, s.Create(ctx, dup), domain.ErrConflict)
	assert.ErrorIs(t, s.Create(ctx, swap("a", "bob", 0, domain.SwapStatusPending, "1", 0)), domain.ErrConflict)
}

func TestSwapStore_TransitionIsOneShot(t *testing.T) {
	s := NewSwapStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, swap("a", "alice", 0, domain.SwapStatusPending, "1", 0)))

	ok, err := s.Transition(ctx, "a", domain.SwapStatusCompleted, "", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Transition(ctx, "a", domain.SwapStatusFailed, "late", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.SwapStatusCompleted, got.Status)
	assert.Empty(t, got.FailureReason)
	assert.Equal(t, t0.Add(time.Minute), got.UpdatedAt)

	_, err = s.Transition(ctx, "missing", domain.SwapStatusFailed, "", t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Transition(ctx, "a", domain.SwapStatusPending, "", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSwapStore_ConcurrentTransitionsSingleWinner(t *testing.T) {
	s := NewSwapStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, swap("a", "alice", 0, domain.SwapStatusPending, "1", 0)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := domain.SwapStatusCompleted
			if i%2 == 0 {
				to = domain.SwapStatusFailed
			}
			ok, err := s.Transition(ctx, "a", to, "", t0)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSwapStore_ListNewestFirstWithPagination(t *testing.T) {
	s := NewSwapStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(ctx, swap(fmt.Sprintf("s%d", i), "alice", time.Duration(i)*time.Minute, domain.SwapStatusPending, "1", 0)))
	}
	require.NoError(t, s.Create(ctx, swap("other", "bob", time.Hour, domain.SwapStatusPending, "1", 0)))

	page, err := s.List(ctx, "alice", domain.SwapFilter{}, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	require.Len(t, page.Swaps, 2)
	assert.Equal(t, "s3", page.Swaps[0].ID)
	assert.Equal(t, "s2", page.Swaps[1].ID)

	page, err = s.List(ctx, "alice", domain.SwapFilter{}, domain.ListOpts{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	assert.Empty(t, page.Swaps)
}

func TestSwapStore_ListOutOfRangeOffsets(t *testing.T) {
	s := NewSwapStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Create(ctx, swap(fmt.Sprintf("s%d", i), "alice", time.Duration(i)*time.Minute, domain.SwapStatusPending, "1", 0)))
	}

	page, err := s.List(ctx, "alice", domain.SwapFilter{}, domain.ListOpts{Limit: 2, Offset: -8446744073709551616})
	require.NoError(t, err)
	require.Len(t, page.Swaps, 2, "negative offset reads from the start")
	assert.Equal(t, "s2", page.Swaps[0].ID)

	page, err = s.List(ctx, "alice", domain.SwapFilter{}, domain.ListOpts{Limit: math.MaxInt, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page.Swaps, 2, "offset plus limit must not wrap")
}

func TestSwapStore_ListFiltersByStatus(t *testing.T) {
	s := NewSwapStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, swap("p", "alice", 0, domain.SwapStatusPending, "1", 0)))
	require.NoError(t, s.Create(ctx, swap("c", "alice", time.Minute, domain.SwapStatusPending, "1", 0)))
	_, err := s.Transition(ctx, "c", domain.SwapStatusCompleted, "", t0)
	require.NoError(t, err)

	page, err := s.List(ctx, "alice", domain.SwapFilter{Status: domain.SwapStatusCompleted}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, page.Swaps, 1)
	assert.Equal(t, "c", page.Swaps[0].ID)
}

func TestSwapStore_Stats(t *testing.T) {
	s := NewSwapStore()
	ctx := context.Background()

	empty, err := s.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalSwaps)
	assert.True(t, empty.AverageRiskScore.IsZero())

	require.NoError(t, s.Create(ctx, swap("a", "alice", 0, domain.SwapStatusPending, "1.5", 10)))
	require.NoError(t, s.Create(ctx, swap("b", "alice", time.Minute, domain.SwapStatusPending, "2", 20)))
	require.NoError(t, s.Create(ctx, swap("c", "alice", 2*time.Minute, domain.SwapStatusPending, "3", 30)))
	require.NoError(t, s.Create(ctx, swap("d", "bob", 0, domain.SwapStatusPending, "100", 90)))
	_, _ = s.Transition(ctx, "a", domain.SwapStatusCompleted, "", t0)
	_, _ = s.Transition(ctx, "b", domain.SwapStatusFailed, "rejected", t0)

	st, err := s.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.TotalSwaps)
	assert.EqualValues(t, 1, st.CompletedSwaps)
	assert.EqualValues(t, 1, st.FailedSwaps)
	assert.EqualValues(t, 1, st.PendingSwaps)
	assert.True(t, st.TotalVolume.Equal(decimal.RequireFromString("6.5")), "volume %s", st.TotalVolume)
	assert.True(t, st.AverageRiskScore.Equal(decimal.NewFromInt(20)), "avg %s", st.AverageRiskScore)
}

func TestSwapStore_StaleAndWindowQueries(t *testing.T) {
	s := NewSwapStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, swap("old", "alice", 0, domain.SwapStatusPending, "1", 0)))
	require.NoError(t, s.Create(ctx, swap("oldDone", "alice", time.Minute, domain.SwapStatusPending, "1", 0)))
	require.NoError(t, s.Create(ctx, swap("new", "alice", time.Hour, domain.SwapStatusPending, "1", 0)))
	_, _ = s.Transition(ctx, "oldDone", domain.SwapStatusCompleted, "", t0)

	stale, err := s.ListStalePending(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)

	window, err := s.ListCreatedBetween(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "old", window[0].ID)
	assert.Equal(t, "oldDone", window[1].ID)
}

func TestAuditStore_ListNewestFirst(t *testing.T) {
	s := NewAuditStore()
	ctx := context.Background()
	require.NoError(t, s.Log(ctx, "first", nil))
	require.NoError(t, s.Log(ctx, "second", map[string]any{"k": "v"}))
	require.NoError(t, s.Log(ctx, "third", nil))

	got, err := s.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third", got[0].Event)
	assert.Equal(t, "second", got[1].Event)
	assert.Equal(t, "v", got[1].Detail["k"])

	got, err = s.List(ctx, domain.ListOpts{Limit: 1, Offset: -5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "third", got[0].Event)
}

func TestPriceSnapshotStore_KeepsNewestPerSymbol(t *testing.T) {
	s := NewPriceSnapshotStore()
	ctx := context.Background()

	entry := func(sym, price string) domain.PriceEntry {
		return domain.PriceEntry{Symbol: sym, Price: decimal.RequireFromString(price)}
	}
	require.NoError(t, s.InsertBatch(ctx, []domain.PriceSnapshot{
		{Entry: entry("ETH", "2500"), CapturedAt: t0.Add(time.Minute)},
		{Entry: entry("BTC", "63000"), CapturedAt: t0},
	}))
	require.NoError(t, s.InsertBatch(ctx, []domain.PriceSnapshot{
		{Entry: entry("ETH", "2400"), CapturedAt: t0},
	}))

	got, err := s.ListLatest(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BTC", got[0].Symbol)
	assert.True(t, got[1].Price.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, 3, s.Inserted())
}
