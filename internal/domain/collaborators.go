package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// ExternalPriceSource fetches current market data keyed by the source's own
// asset identifiers. Failures are transient and wrap ErrUpstreamUnavailable.
type ExternalPriceSource interface {
	Fetch(ctx context.Context, ids []string) (map[string]PriceQuote, error)
}

// WalletLedger tracks whether an owner's wallet is connected and refreshes
// balances after settlement.
type WalletLedger interface {
	IsReady(ctx context.Context, owner string) (bool, error)
	RefreshBalance(ctx context.Context, owner string) (decimal.Decimal, error)
}

// MarketDataProvider supplies on-market signals for a token address. A nil
// result with a nil error means nothing is known.
type MarketDataProvider interface {
	MarketSignals(ctx context.Context, address string) (*MarketSignals, error)
}
