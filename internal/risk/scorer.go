// Package risk scores tokens for scam likelihood with additive heuristics
// over the token's name, symbol, address shape and market signals.
package risk

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// DefaultScamThreshold is the score at or above which a token is flagged.
const DefaultScamThreshold = 70

// Point values per heuristic.
const (
	keywordPoints      = 15
	punctuationPoints  = 10
	digitRunPoints     = 10
	capsSymbolPoints   = 5
	badAddressPoints   = 50
	trailingZeroPoints = 20
	vanityPoints       = 30
	lowVolumePoints    = 20
	fewHoldersPoints   = 25
	lowLiquidityPoints = 30
	volatilityPoints   = 20

	maxPunctuation   = 3
	maxTrailingZeros = 8
	repeatRunLength  = 7

	baseConfidence      = 60
	confidencePerReason = 8
	maxConfidenceBoost  = 40
)

var (
	hypeKeywords = []string{
		"moon", "rocket", "safe", "baby", "doge", "elon", "shiba", "floki",
		"pump", "gem", "x1000", "guaranteed", "profit", "investment", "return",
	}
	vanityFragments = []string{"dead", "beef", "babe", "cafe", "face"}

	addressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)
	digitRunPattern = regexp.MustCompile(`[0-9]{3,}`)

	minVolume    = decimal.NewFromInt(1000)
	minHolders   = int64(50)
	minLiquidity = decimal.NewFromInt(10000)
	maxMove      = decimal.NewFromInt(100)
)

// Scorer is the pure scoring function. It holds no mutable state and is safe
// for concurrent use.
type Scorer struct {
	threshold int
	now       func() time.Time
}

// NewScorer creates a Scorer that flags scores >= threshold as scams. A
// non-positive threshold selects DefaultScamThreshold.
func NewScorer(threshold int) *Scorer {
	if threshold <= 0 {
		threshold = DefaultScamThreshold
	}
	return &Scorer{threshold: threshold, now: time.Now}
}

// Threshold returns the scam threshold in use.
func (s *Scorer) Threshold() int { return s.threshold }

// Score evaluates subject and the optional signals. It never fails; checks
// whose input is missing contribute nothing.
func (s *Scorer) Score(subject domain.TokenSubject, signals *domain.MarketSignals) domain.RiskAssessment {
	var (
		score   int
		reasons []string
	)
	add := func(points int, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	scanText(subject, add)
	scanAddress(subject.Address, add)
	scanMarket(signals, add)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return domain.RiskAssessment{
		Subject:    subject.Address,
		Score:      score,
		Confidence: confidence(len(reasons)),
		Reasons:    nonNil(reasons),
		IsScam:     score >= s.threshold,
		CheckedAt:  s.now().UTC(),
	}
}

func scanText(subject domain.TokenSubject, add func(int, string)) {
	text := strings.ToLower(subject.Name + " " + subject.Symbol)

	for _, kw := range hypeKeywords {
		if strings.Contains(text, kw) {
			add(keywordPoints, fmt.Sprintf("Suspicious keyword detected: %s", kw))
		}
	}

	punct := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	if punct > maxPunctuation {
		add(punctuationPoints, "Excessive special characters")
	}

	if digitRunPattern.MatchString(text) {
		add(digitRunPoints, "Contains suspicious number patterns")
	}

	sym := subject.Symbol
	if len(sym) > 3 && sym == strings.ToUpper(sym) {
		add(capsSymbolPoints, "Unusually long all-caps symbol")
	}
}

func scanAddress(address string, add func(int, string)) {
	if !addressPattern.MatchString(address) {
		add(badAddressPoints, "Invalid contract address format")
		return
	}

	trailing := len(address) - len(strings.TrimRight(address, "0"))
	if trailing > maxTrailingZeros {
		add(trailingZeroPoints, "Address has suspicious trailing zeros")
	}

	lower := strings.ToLower(address)
	if longestRun(lower) >= repeatRunLength || containsAny(lower, vanityFragments) {
		add(vanityPoints, "Address contains suspicious patterns")
	}
}

func scanMarket(m *domain.MarketSignals, add func(int, string)) {
	if m == nil {
		return
	}
	if m.Volume24h != nil && m.Volume24h.LessThan(minVolume) {
		add(lowVolumePoints, "Very low trading volume")
	}
	if m.Holders != nil && *m.Holders < minHolders {
		add(fewHoldersPoints, "Very few token holders")
	}
	if m.LiquidityUSD != nil && m.LiquidityUSD.LessThan(minLiquidity) {
		add(lowLiquidityPoints, "Low liquidity")
	}
	if m.PriceChange24h != nil && m.PriceChange24h.Abs().GreaterThan(maxMove) {
		add(volatilityPoints, "Extreme price volatility")
	}
}

func confidence(reasons int) int {
	boost := confidencePerReason * reasons
	if boost > maxConfidenceBoost {
		boost = maxConfidenceBoost
	}
	c := baseConfidence + boost
	if c > 100 {
		c = 100
	}
	return c
}

// longestRun returns the length of the longest run of one repeated byte.
func longestRun(s string) int {
	best, run := 0, 0
	for i := 0; i < len(s); i++ {
		if i > 0 && s[i] == s[i-1] {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
