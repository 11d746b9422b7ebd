// Package dexscreener supplies on-market risk signals for token contract
// addresses from the DexScreener public API.
package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.dexscreener.com"

	sourceName         = "dexscreener"
	maxBodyBytes int64 = 2 << 20
)

// Client implements domain.MarketDataProvider. It is limited to 60 requests
// per minute, the public API's allowance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// New creates a Client. An empty baseURL uses DefaultBaseURL.
func New(baseURL string, m *metrics.Metrics) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/60), 1),
		metrics:    m,
	}
}

type tokenPairsResponse struct {
	Pairs []pair `json:"pairs"`
}

type pair struct {
	PairAddress string `json:"pairAddress"`
	Liquidity   *struct {
		USD *decimal.Decimal `json:"usd"`
	} `json:"liquidity"`
	Volume *struct {
		H24 *decimal.Decimal `json:"h24"`
	} `json:"volume"`
	PriceChange *struct {
		H24 *decimal.Decimal `json:"h24"`
	} `json:"priceChange"`
}

func (p pair) liquidity() decimal.Decimal {
	if p.Liquidity == nil || p.Liquidity.USD == nil {
		return decimal.Zero
	}
	return *p.Liquidity.USD
}

// MarketSignals returns signals from the deepest pair trading address. A
// token with no pairs yields nil signals. DexScreener does not report holder
// counts, so Holders is always nil.
func (c *Client) MarketSignals(ctx context.Context, address string) (*domain.MarketSignals, error) {
	body, err := c.doGet(ctx, "/latest/dex/tokens/"+url.PathEscape(address))
	if err != nil {
		c.metrics.Upstream(sourceName, "error")
		return nil, fmt.Errorf("dexscreener: market signals %s: %w: %w", address, domain.ErrUpstreamUnavailable, err)
	}
	c.metrics.Upstream(sourceName, "ok")

	var resp tokenPairsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dexscreener: decode pairs for %s: %w", address, err)
	}
	return toSignals(resp.Pairs), nil
}

func toSignals(pairs []pair) *domain.MarketSignals {
	if len(pairs) == 0 {
		return nil
	}

	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.liquidity().GreaterThan(best.liquidity()) {
			best = p
		}
	}

	var sig domain.MarketSignals
	if best.Liquidity != nil && best.Liquidity.USD != nil {
		sig.LiquidityUSD = best.Liquidity.USD
	}
	if best.Volume != nil {
		sig.Volume24h = best.Volume.H24
	}
	if best.PriceChange != nil {
		sig.PriceChange24h = best.PriceChange.H24
	}
	return &sig
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

var _ domain.MarketDataProvider = (*Client)(nil)
