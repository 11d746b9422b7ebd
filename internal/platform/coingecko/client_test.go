package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, APIKey: "demo-key"}, nil)
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c, &hits
}

func TestClient_Fetch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "true", r.URL.Query().Get("include_market_cap"))
		assert.Equal(t, "demo-key", r.Header.Get("X-CG-Demo-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"bitcoin": {"usd": 63000.5, "usd_market_cap": 1240000000000, "usd_24h_vol": 28000000000, "usd_24h_change": -1.25},
			"ethereum": {"usd": 2500, "usd_24h_change": null}
		}`))
	})

	got, err := c.Fetch(context.Background(), []string{"ethereum", "bitcoin"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	btc := got["bitcoin"]
	assert.True(t, btc.Price.Equal(decimal.RequireFromString("63000.5")))
	assert.True(t, btc.Change24h.Equal(decimal.RequireFromString("-1.25")))
	assert.True(t, btc.MarketCap.Equal(decimal.RequireFromString("1240000000000")))

	eth := got["ethereum"]
	assert.True(t, eth.Price.Equal(decimal.NewFromInt(2500)))
	assert.True(t, eth.Change24h.IsZero())
	assert.True(t, eth.Volume24h.IsZero())
}

func TestClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"status":{"error_code":429}}`, wantErr: domain.ErrRateLimited},
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`},
		{name: "malformed json", status: http.StatusOK, body: `{"bitcoin": [1,2,3]}`},
		{name: "missing usd", status: http.StatusOK, body: `{"bitcoin": {"usd_24h_vol": 1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Fetch(context.Background(), []string{"bitcoin"})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), []string{"bitcoin"})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.breaker.State())

	_, err := c.Fetch(context.Background(), []string{"bitcoin"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.EqualValues(t, 3, atomic.LoadInt32(hits))
}

func TestClient_FetchNoIDs(t *testing.T) {
	c, hits := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	got, err := c.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, atomic.LoadInt32(hits))
}
