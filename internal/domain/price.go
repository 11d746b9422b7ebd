package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceEntry is the latest known market data for one asset symbol.
type PriceEntry struct {
	Symbol      string          `json:"symbol"` // uppercase, unique
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Change24h   decimal.Decimal `json:"change24h"` // signed percent
	Volume24h   decimal.Decimal `json:"volume24h"`
	MarketCap   decimal.Decimal `json:"marketCap"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// SameValues reports whether e and o carry the same market values. The
// LastUpdated timestamp is not compared.
func (e PriceEntry) SameValues(o PriceEntry) bool {
	return e.Symbol == o.Symbol &&
		e.Name == o.Name &&
		e.Price.Equal(o.Price) &&
		e.Change24h.Equal(o.Change24h) &&
		e.Volume24h.Equal(o.Volume24h) &&
		e.MarketCap.Equal(o.MarketCap)
}

// Validate checks the non-negativity constraints on an entry.
func (e PriceEntry) Validate() error {
	switch {
	case e.Symbol == "":
		return ErrInvalidArgument
	case e.Price.IsNegative(), e.Volume24h.IsNegative(), e.MarketCap.IsNegative():
		return ErrInvalidArgument
	}
	return nil
}

// PriceEvent is emitted by the price cache when an upsert changes an entry.
type PriceEvent struct {
	Entry PriceEntry
	At    time.Time
}

// PriceQuote is one asset's raw market data as returned by an external price
// source, keyed by the source's own identifier.
type PriceQuote struct {
	Price     decimal.Decimal
	Change24h decimal.Decimal
	Volume24h decimal.Decimal
	MarketCap decimal.Decimal
}

// PriceSnapshot is a persisted copy of a price entry taken after an
// ingestion cycle.
type PriceSnapshot struct {
	Entry      PriceEntry
	CapturedAt time.Time
}
