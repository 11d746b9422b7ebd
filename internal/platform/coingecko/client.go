// Package coingecko is the REST client for the CoinGecko simple price API,
// the external price source behind the ingestion loop.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"

	sourceName         = "coingecko"
	defaultTimeout     = 10 * time.Second
	defaultRPM         = 30
	maxBodyBytes int64 = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string // sent as X-CG-Demo-API-Key when set
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client fetches USD quotes for CoinGecko asset ids. Requests are paced by a
// token bucket and guarded by a circuit breaker that opens after repeated
// upstream failures.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
}

// New creates a Client. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRPM
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		breaker:    gobreaker.NewCircuitBreaker(breakerSettings()),
		metrics:    m,
	}
}

func breakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        sourceName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			return counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
}

// simpleQuote mirrors one entry of the /simple/price response.
type simpleQuote struct {
	USD          *decimal.Decimal `json:"usd"`
	USDMarketCap *decimal.Decimal `json:"usd_market_cap"`
	USD24hVol    *decimal.Decimal `json:"usd_24h_vol"`
	USD24hChange *decimal.Decimal `json:"usd_24h_change"`
}

func (q simpleQuote) toDomain() domain.PriceQuote {
	return domain.PriceQuote{
		Price:     orZero(q.USD),
		Change24h: orZero(q.USD24hChange),
		Volume24h: orZero(q.USD24hVol),
		MarketCap: orZero(q.USDMarketCap),
	}
}

// Fetch returns quotes keyed by CoinGecko id. Every failure, including a
// malformed payload or an entry without a USD price, wraps
// domain.ErrUpstreamUnavailable so the caller can skip the whole batch.
func (c *Client) Fetch(ctx context.Context, ids []string) (map[string]domain.PriceQuote, error) {
	if len(ids) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	params := url.Values{}
	params.Set("ids", strings.Join(sorted, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_change", "true")
	params.Set("include_24hr_vol", "true")
	params.Set("include_market_cap", "true")

	out, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.doGet(ctx, "/simple/price?"+params.Encode())
		if err != nil {
			return nil, err
		}
		return decodeQuotes(body)
	})
	if err != nil {
		c.metrics.Upstream(sourceName, resultLabel(err))
		if ctx.Err() != nil {
			return nil, fmt.Errorf("coingecko: fetch: %w", ctx.Err())
		}
		return nil, fmt.Errorf("coingecko: fetch: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	c.metrics.Upstream(sourceName, "ok")
	return out.(map[string]domain.PriceQuote), nil
}

func decodeQuotes(body []byte) (map[string]domain.PriceQuote, error) {
	var raw map[string]simpleQuote
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode simple price: %w", err)
	}

	quotes := make(map[string]domain.PriceQuote, len(raw))
	for id, q := range raw {
		if q.USD == nil {
			return nil, fmt.Errorf("decode simple price: %s has no usd price", id)
		}
		quotes[id] = q.toDomain()
	}
	return quotes, nil
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
	if c.apiKey != "" {
		req.Header.Set("X-CG-Demo-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

var _ domain.ExternalPriceSource = (*Client)(nil)
