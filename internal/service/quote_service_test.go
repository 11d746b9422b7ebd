package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapguard/internal/cache/memory"
	"github.com/alanyoungcy/swapguard/internal/domain"
)

func seededCache(prices map[string]string) *memory.PriceCache {
	c := memory.NewPriceCache()
	for sym, p := range prices {
		c.Upsert(domain.PriceEntry{Symbol: sym, Name: sym, Price: decimal.RequireFromString(p)})
	}
	return c
}

func TestQuoteService_BTCToETH(t *testing.T) {
	prices := seededCache(map[string]string{"BTC": "63000", "ETH": "2500"})
	svc := NewQuoteService(prices, DefaultQuoteConfig())
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	q, err := svc.Quote(context.Background(), "btc", "eth", decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.True(t, q.ExchangeRate.Equal(decimal.RequireFromString("25.2")), "rate %s", q.ExchangeRate)
	assert.True(t, q.ToAmount.Equal(decimal.RequireFromString("25.1244")), "toAmount %s", q.ToAmount)
	assert.True(t, q.Fee.Equal(decimal.RequireFromString("0.003")))
	assert.True(t, q.FeeUSD.Equal(decimal.RequireFromString("189")))
	assert.True(t, q.PriceImpact.Equal(decimal.RequireFromString("0.3")), "impact %s", q.PriceImpact)
	assert.True(t, q.MinimumReceived.Equal(decimal.RequireFromString("24.621912")), "min %s", q.MinimumReceived)
	assert.Equal(t, fixed.Add(30*time.Second), q.ValidUntil)
	assert.Equal(t, "BTC", q.FromSymbol)
	assert.Equal(t, "ETH", q.ToSymbol)
}

func TestQuoteService_FormulaHolds(t *testing.T) {
	prices := seededCache(map[string]string{"APT": "8.75", "USDC": "1", "ETH": "2500"})
	svc := NewQuoteService(prices, DefaultQuoteConfig())
	keep := decimal.RequireFromString("0.997")
	tol := decimal.RequireFromString("0.000000001")

	cases := []struct{ from, to, amount string }{
		{"APT", "USDC", "12.5"},
		{"USDC", "ETH", "1000"},
		{"ETH", "APT", "0.0001"},
	}
	for _, c := range cases {
		t.Run(c.from+"-"+c.to, func(t *testing.T) {
			amount := decimal.RequireFromString(c.amount)
			q, err := svc.Quote(context.Background(), c.from, c.to, amount)
			require.NoError(t, err)

			pf, _ := prices.Get(c.from)
			pt, _ := prices.Get(c.to)
			want := amount.Mul(pf.Price.Div(pt.Price)).Mul(keep)
			assert.True(t, q.ToAmount.Sub(want).Abs().LessThan(tol), "got %s want %s", q.ToAmount, want)
		})
	}
}

func TestQuoteService_Errors(t *testing.T) {
	prices := seededCache(map[string]string{"BTC": "63000", "ZERO": "0"})
	svc := NewQuoteService(prices, DefaultQuoteConfig())
	ctx := context.Background()

	_, err := svc.Quote(ctx, "BTC", "ETH", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Quote(ctx, "BTC", "BTC", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Quote(ctx, "BTC", "BTC", decimal.NewFromInt(-3))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Quote(ctx, "", "BTC", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Quote(ctx, "BTC", "ZERO", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestQuoteService_ExchangeRate(t *testing.T) {
	prices := seededCache(map[string]string{"BTC": "63000", "ETH": "2500"})
	svc := NewQuoteService(prices, DefaultQuoteConfig())

	rate, err := svc.ExchangeRate(context.Background(), "ETH", "BTC")
	require.NoError(t, err)
	assert.True(t, rate.Mul(decimal.NewFromInt(63000)).Sub(decimal.NewFromInt(2500)).Abs().LessThan(decimal.RequireFromString("0.0001")))
}
