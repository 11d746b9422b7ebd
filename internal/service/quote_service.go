package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// QuoteConfig holds the pricing parameters applied to every quote.
type QuoteConfig struct {
	FeeRate      decimal.Decimal // proportional fee on the source amount
	Slippage     decimal.Decimal // tolerance used for MinimumReceived
	EstimatedGas decimal.Decimal
	Validity     time.Duration
}

// DefaultQuoteConfig returns 0.3% fee, 2% slippage and a 30 second validity.
func DefaultQuoteConfig() QuoteConfig {
	return QuoteConfig{
		FeeRate:      decimal.RequireFromString("0.003"),
		Slippage:     decimal.RequireFromString("0.02"),
		EstimatedGas: decimal.RequireFromString("0.001"),
		Validity:     30 * time.Second,
	}
}

var hundred = decimal.NewFromInt(100)

// QuoteService computes swap quotes from the price cache. It holds no
// mutable state.
type QuoteService struct {
	prices domain.PriceCache
	cfg    QuoteConfig
	now    func() time.Time
}

// NewQuoteService creates a QuoteService reading from prices.
func NewQuoteService(prices domain.PriceCache, cfg QuoteConfig) *QuoteService {
	def := DefaultQuoteConfig()
	if cfg.Validity <= 0 {
		cfg.Validity = def.Validity
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		cfg.FeeRate = def.FeeRate
	}
	return &QuoteService{prices: prices, cfg: cfg, now: time.Now}
}

// Quote prices a swap of amount units of from into to.
//
//	rate     = price(from) / price(to)
//	fee      = amount * feeRate
//	toAmount = (amount - fee) * rate
func (s *QuoteService) Quote(_ context.Context, from, to string, amount decimal.Decimal) (domain.Quote, error) {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return domain.Quote{}, fmt.Errorf("service: quote: symbols required: %w", domain.ErrInvalidArgument)
	}
	if !amount.IsPositive() {
		return domain.Quote{}, fmt.Errorf("service: quote: amount must be positive: %w", domain.ErrInvalidArgument)
	}

	pFrom, pTo, err := s.pair(from, to)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("service: quote: %w", err)
	}

	rate := pFrom.Div(pTo)
	fee := amount.Mul(s.cfg.FeeRate)
	toAmount := amount.Sub(fee).Mul(rate)

	fromUSD := amount.Mul(pFrom)
	toUSD := toAmount.Mul(pTo)
	impact := decimal.Zero
	if fromUSD.IsPositive() {
		impact = fromUSD.Sub(toUSD).Abs().Div(fromUSD).Mul(hundred)
	}

	return domain.Quote{
		FromSymbol:      from,
		ToSymbol:        to,
		FromAmount:      amount,
		ToAmount:        toAmount,
		ExchangeRate:    rate,
		Fee:             fee,
		FeeUSD:          fee.Mul(pFrom),
		FromValueUSD:    fromUSD,
		ToValueUSD:      toUSD,
		PriceImpact:     impact,
		MinimumReceived: toAmount.Mul(decimal.NewFromInt(1).Sub(s.cfg.Slippage)),
		EstimatedGas:    s.cfg.EstimatedGas,
		ValidUntil:      s.now().UTC().Add(s.cfg.Validity),
	}, nil
}

// ExchangeRate returns price(from) / price(to) without fees.
func (s *QuoteService) ExchangeRate(_ context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return decimal.Zero, fmt.Errorf("service: exchange rate: symbols required: %w", domain.ErrInvalidArgument)
	}
	pFrom, pTo, err := s.pair(from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("service: exchange rate: %w", err)
	}
	return pFrom.Div(pTo), nil
}

func (s *QuoteService) pair(from, to string) (decimal.Decimal, decimal.Decimal, error) {
	src, ok := s.prices.Get(from)
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price for %s: %w", from, domain.ErrNotFound)
	}
	dst, ok := s.prices.Get(to)
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price for %s: %w", to, domain.ErrNotFound)
	}
	if !dst.Price.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price for %s is zero: %w", to, domain.ErrInvalidArgument)
	}
	return src.Price, dst.Price, nil
}
