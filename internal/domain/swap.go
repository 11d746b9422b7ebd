package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwapStatus tracks the settlement lifecycle.
type SwapStatus string

const (
	SwapStatusPending   SwapStatus = "pending"
	SwapStatusCompleted SwapStatus = "completed"
	SwapStatusFailed    SwapStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s SwapStatus) Terminal() bool {
	return s == SwapStatusCompleted || s == SwapStatusFailed
}

// Valid reports whether s is a known status.
func (s SwapStatus) Valid() bool {
	return s == SwapStatusPending || s.Terminal()
}

// SwapTransaction is a user's swap request and its settlement outcome.
// Records are append-only; only Status, FailureReason and UpdatedAt change,
// and only once, from pending to a terminal status.
type SwapTransaction struct {
	ID            string          `json:"id"`
	Owner         string          `json:"owner"`
	FromSymbol    string          `json:"fromToken"`
	ToSymbol      string          `json:"toToken"`
	FromAmount    decimal.Decimal `json:"fromAmount"`
	ToAmount      decimal.Decimal `json:"toAmount"`
	ExchangeRate  decimal.Decimal `json:"exchangeRate"`
	Reference     string          `json:"txHash"`
	Status        SwapStatus      `json:"status"`
	RiskScore     int             `json:"scamRiskScore"`
	FailureReason string          `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// SwapFilter narrows a history query.
type SwapFilter struct {
	Status SwapStatus // empty means any
}

// SwapPage is one page of a history query together with the total number of
// matching records.
type SwapPage struct {
	Swaps []SwapTransaction
	Total int64
}

// SwapStats aggregates one owner's swap records.
type SwapStats struct {
	TotalSwaps       int64           `json:"totalSwaps"`
	CompletedSwaps   int64           `json:"completedSwaps"`
	FailedSwaps      int64           `json:"failedSwaps"`
	PendingSwaps     int64           `json:"pendingSwaps"`
	TotalVolume      decimal.Decimal `json:"totalVolume"`
	AverageRiskScore decimal.Decimal `json:"averageRiskScore"`
}

// Quote is a time-bounded estimate of a swap's output. Staleness is checked
// by the caller against ValidUntil.
type Quote struct {
	FromSymbol      string          `json:"fromToken"`
	ToSymbol        string          `json:"toToken"`
	FromAmount      decimal.Decimal `json:"fromAmount"`
	ToAmount        decimal.Decimal `json:"toAmount"`
	ExchangeRate    decimal.Decimal `json:"exchangeRate"`
	Fee             decimal.Decimal `json:"fee"`
	FeeUSD          decimal.Decimal `json:"feeUsd"`
	FromValueUSD    decimal.Decimal `json:"fromValueUsd"`
	ToValueUSD      decimal.Decimal `json:"toValueUsd"`
	PriceImpact     decimal.Decimal `json:"priceImpact"` // percent
	MinimumReceived decimal.Decimal `json:"minimumReceived"`
	EstimatedGas    decimal.Decimal `json:"estimatedGas"`
	ValidUntil      time.Time       `json:"validUntil"`
}
