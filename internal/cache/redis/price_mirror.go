package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// DefaultMirrorTTL bounds how long a mirrored price outlives its last write.
const DefaultMirrorTTL = 10 * time.Minute

// PriceMirror implements domain.PriceMirror. Each symbol is a hash at
// "swapguard:price:{SYMBOL}" with decimal fields stored as strings and the
// update time as Unix nanoseconds.
type PriceMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceMirror creates a PriceMirror. A non-positive ttl uses
// DefaultMirrorTTL.
func NewPriceMirror(c *Client, ttl time.Duration) *PriceMirror {
	if ttl <= 0 {
		ttl = DefaultMirrorTTL
	}
	return &PriceMirror{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return keyPrefix + "price:" + strings.ToUpper(symbol)
}

// SetEntries writes every entry in one pipeline.
func (pm *PriceMirror) SetEntries(ctx context.Context, entries []domain.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := pm.rdb.Pipeline()
	for _, e := range entries {
		key := priceKey(e.Symbol)
		pipe.HSet(ctx, key,
			"symbol", strings.ToUpper(e.Symbol),
			"name", e.Name,
			"price", e.Price.String(),
			"change24h", e.Change24h.String(),
			"volume24h", e.Volume24h.String(),
			"marketCap", e.MarketCap.String(),
			"ts", strconv.FormatInt(e.LastUpdated.UnixNano(), 10),
		)
		pipe.Expire(ctx, key, pm.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: mirror %d prices: %w", len(entries), err)
	}
	return nil
}

// GetEntry reads one mirrored entry. It returns domain.ErrNotFound when the
// symbol has not been mirrored or has expired.
func (pm *PriceMirror) GetEntry(ctx context.Context, symbol string) (domain.PriceEntry, error) {
	vals, err := pm.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return domain.PriceEntry{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.PriceEntry{}, fmt.Errorf("redis: get price %s: %w", symbol, domain.ErrNotFound)
	}

	e := domain.PriceEntry{Symbol: vals["symbol"], Name: vals["name"]}
	for _, f := range []struct {
		field string
		dst   *decimal.Decimal
	}{
		{"price", &e.Price},
		{"change24h", &e.Change24h},
		{"volume24h", &e.Volume24h},
		{"marketCap", &e.MarketCap},
	} {
		raw, ok := vals[f.field]
		if !ok {
			return domain.PriceEntry{}, fmt.Errorf("redis: get price %s: missing %s: %w", symbol, f.field, domain.ErrNotFound)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.PriceEntry{}, fmt.Errorf("redis: parse %s for %s: %w", f.field, symbol, err)
		}
		*f.dst = d
	}

	if ts, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		e.LastUpdated = time.Unix(0, ts).UTC()
	}
	return e, nil
}

var _ domain.PriceMirror = (*PriceMirror)(nil)
