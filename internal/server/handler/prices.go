package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// PriceReader is the read side of the price cache.
type PriceReader interface {
	Get(symbol string) (domain.PriceEntry, bool)
	GetAll() []domain.PriceEntry
}

// RateService computes exchange rates between cached symbols.
type RateService interface {
	ExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// PriceHandler serves the price endpoints.
type PriceHandler struct {
	prices PriceReader
	rates  RateService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceReader, rates RateService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, rates: rates, logger: logger}
}

type priceListResponse struct {
	Prices      []domain.PriceEntry `json:"prices"`
	Count       int                 `json:"count"`
	LastUpdated time.Time           `json:"lastUpdated"`
}

// List returns every cached price.
// GET /api/prices
func (h *PriceHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.prices.GetAll()
	resp := priceListResponse{Prices: all, Count: len(all), LastUpdated: time.Now().UTC()}
	for i, e := range all {
		if i == 0 || e.LastUpdated.After(resp.LastUpdated) {
			resp.LastUpdated = e.LastUpdated
		}
	}
	writeData(w, http.StatusOK, resp)
}

// Get returns one symbol's price.
// GET /api/prices/{symbol}
func (h *PriceHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	entry, ok := h.prices.Get(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "price not found for "+strings.ToUpper(symbol))
		return
	}
	writeData(w, http.StatusOK, map[string]any{"price": entry})
}

// ExchangeRate returns the fee-free rate between two symbols.
// GET /api/prices/exchange-rate?from=BTC&to=ETH
func (h *PriceHandler) ExchangeRate(w http.ResponseWriter, r *http.Request) {
	from := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("from")))
	to := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("to")))
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to query parameters are required")
		return
	}

	rate, err := h.rates.ExchangeRate(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, h.logger, "exchange rate", err)
		return
	}
	fromEntry, _ := h.prices.Get(from)
	toEntry, _ := h.prices.Get(to)

	writeData(w, http.StatusOK, map[string]any{
		"from":        from,
		"to":          to,
		"rate":        rate,
		"fromPrice":   fromEntry.Price,
		"toPrice":     toEntry.Price,
		"lastUpdated": time.Now().UTC(),
	})
}
