package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TokenSubject identifies the token being scored.
type TokenSubject struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// MarketSignals carries optional on-market data about a token. A nil field
// means the value is unknown and the matching check is skipped.
type MarketSignals struct {
	Volume24h      *decimal.Decimal
	Holders        *int64
	LiquidityUSD   *decimal.Decimal
	PriceChange24h *decimal.Decimal // signed percent
}

// RiskAssessment is the result of scoring one token. It is created fresh on
// every call and never mutated.
type RiskAssessment struct {
	Subject    string    `json:"subject"`
	Score      int       `json:"riskScore"`
	Confidence int       `json:"confidence"`
	Reasons    []string  `json:"reasons"`
	IsScam     bool      `json:"isScam"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// RiskRejectedError is returned when a swap is blocked by the risk scorer.
// It matches ErrRiskRejected under errors.Is.
type RiskRejectedError struct {
	Score     int
	Threshold int
	Reasons   []string
}

func (e *RiskRejectedError) Error() string {
	return fmt.Sprintf("risk rejected: score %d exceeds %d: %s",
		e.Score, e.Threshold, strings.Join(e.Reasons, "; "))
}

// Is reports whether target is ErrRiskRejected.
func (e *RiskRejectedError) Is(target error) bool {
	return target == ErrRiskRejected
}
