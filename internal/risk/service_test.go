package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

type mockMarket struct {
	mock.Mock
}

func (m *mockMarket) MarketSignals(ctx context.Context, address string) (*domain.MarketSignals, error) {
	args := m.Called(ctx, address)
	if fn, ok := args.Get(0).(func()); ok {
		fn()
	}
	sig, _ := args.Get(0).(*domain.MarketSignals)
	return sig, args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_AssessUsesMarketSignals(t *testing.T) {
	market := new(mockMarket)
	market.On("MarketSignals", mock.Anything, cleanAddress).
		Return(&domain.MarketSignals{Holders: holders(3)}, nil).Once()

	svc := NewService(NewScorer(0), market, ServiceConfig{}, nil, discardLogger())
	got := svc.Assess(context.Background(), domain.TokenSubject{Address: cleanAddress, Name: "Token", Symbol: "TKN"})

	assert.Equal(t, 25, got.Score)
	assert.Contains(t, got.Reasons, "Very few token holders")
	market.AssertExpectations(t)
}

func TestService_AssessDegradesOnProviderError(t *testing.T) {
	market := new(mockMarket)
	market.On("MarketSignals", mock.Anything, cleanAddress).
		Return(nil, errors.New("boom")).Once()

	svc := NewService(NewScorer(0), market, ServiceConfig{}, nil, discardLogger())
	got := svc.Assess(context.Background(), domain.TokenSubject{Address: cleanAddress, Name: "Token", Symbol: "TKN"})

	assert.Equal(t, 0, got.Score)
	assert.Empty(t, got.Reasons)
}

func TestService_AssessSkipsLookupForMalformedAddress(t *testing.T) {
	market := new(mockMarket)
	svc := NewService(NewScorer(0), market, ServiceConfig{}, nil, discardLogger())

	got := svc.Assess(context.Background(), domain.TokenSubject{Address: "ETH", Name: "Ethereum", Symbol: "ETH"})

	assert.Equal(t, 50, got.Score)
	market.AssertNotCalled(t, "MarketSignals", mock.Anything, mock.Anything)
}

func TestService_AssessBatchSubstitutesPlaceholderOnPanic(t *testing.T) {
	const badAddress = "0x00000000000000000000000000000000000000ff"
	market := new(mockMarket)
	market.On("MarketSignals", mock.Anything, cleanAddress).Return(nil, nil)
	market.On("MarketSignals", mock.Anything, badAddress).Return(func() { panic("provider exploded") }, nil)

	svc := NewService(NewScorer(0), market, ServiceConfig{BatchWorkers: 2}, nil, discardLogger())
	got := svc.AssessBatch(context.Background(), []domain.TokenSubject{
		{Address: cleanAddress, Name: "Uniswap", Symbol: "UNI"},
		{Address: badAddress, Name: "Bad", Symbol: "BAD"},
		{Address: cleanAddress, Name: "Uniswap", Symbol: "UNI"},
	})

	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Score)
	assert.Equal(t, 0, got[2].Score)

	assert.Equal(t, badAddress, got[1].Subject)
	assert.Equal(t, 100, got[1].Score)
	assert.Equal(t, 50, got[1].Confidence)
	assert.Equal(t, []string{"Analysis failed"}, got[1].Reasons)
	assert.True(t, got[1].IsScam)
}

func TestService_AssessBatchCancelledContext(t *testing.T) {
	svc := NewService(NewScorer(0), nil, ServiceConfig{}, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := svc.AssessBatch(ctx, []domain.TokenSubject{{Address: cleanAddress, Symbol: "UNI"}})
	require.Len(t, got, 1)
	assert.Equal(t, 100, got[0].Score)
}
