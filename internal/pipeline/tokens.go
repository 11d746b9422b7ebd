package pipeline

import (
	"sort"
	"strings"
)

// Token maps one external price source id onto this system's vocabulary.
type Token struct {
	SourceID string
	Symbol   string
	Name     string
}

// DefaultTokens is the built-in CoinGecko id table.
var DefaultTokens = []Token{
	{SourceID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
	{SourceID: "ethereum", Symbol: "ETH", Name: "Ethereum"},
	{SourceID: "aptos", Symbol: "APT", Name: "Aptos"},
	{SourceID: "tether", Symbol: "USDT", Name: "Tether"},
	{SourceID: "usd-coin", Symbol: "USDC", Name: "USD Coin"},
}

// TokenTable is an immutable id -> token lookup.
type TokenTable struct {
	byID map[string]Token
	ids  []string
}

// NewTokenTable builds a table from DefaultTokens plus extra. Entries in
// extra override defaults with the same source id. Symbols are uppercased.
func NewTokenTable(extra ...Token) TokenTable {
	byID := make(map[string]Token, len(DefaultTokens)+len(extra))
	for _, list := range [][]Token{DefaultTokens, extra} {
		for _, t := range list {
			id := strings.ToLower(strings.TrimSpace(t.SourceID))
			if id == "" || t.Symbol == "" {
				continue
			}
			t.SourceID = id
			t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
			if t.Name == "" {
				t.Name = t.Symbol
			}
			byID[id] = t
		}
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return TokenTable{byID: byID, ids: ids}
}

// IDs returns every source id, sorted.
func (t TokenTable) IDs() []string {
	return append([]string(nil), t.ids...)
}

// Lookup returns the token for a source id.
func (t TokenTable) Lookup(id string) (Token, bool) {
	tok, ok := t.byID[strings.ToLower(id)]
	return tok, ok
}
