package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/service"
)

// Quoter prices swaps.
type Quoter interface {
	Quote(ctx context.Context, from, to string, amount decimal.Decimal) (domain.Quote, error)
}

// SwapService is the settlement surface the swap handler needs.
type SwapService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
	Get(ctx context.Context, owner, id string) (domain.SwapTransaction, error)
	History(ctx context.Context, owner string, filter domain.SwapFilter, opts domain.ListOpts) (domain.SwapPage, error)
	Stats(ctx context.Context, owner string) (domain.SwapStats, error)
}

// SwapHandler serves quote, submission and history endpoints.
type SwapHandler struct {
	quotes Quoter
	swaps  SwapService
	logger *slog.Logger
}

// NewSwapHandler creates a SwapHandler.
func NewSwapHandler(quotes Quoter, swaps SwapService, logger *slog.Logger) *SwapHandler {
	return &SwapHandler{quotes: quotes, swaps: swaps, logger: logger}
}

type quoteRequest struct {
	FromToken string          `json:"fromToken" validate:"required,max=16"`
	ToToken   string          `json:"toToken" validate:"required,max=16,nefield=FromToken"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
}

type submitRequest struct {
	FromToken       string          `json:"fromToken" validate:"required,max=16"`
	ToToken         string          `json:"toToken" validate:"required,max=16,nefield=FromToken"`
	FromAmount      decimal.Decimal `json:"fromAmount" validate:"gt=0"`
	ToAmount        decimal.Decimal `json:"toAmount" validate:"gt=0"`
	AcknowledgeRisk bool            `json:"acknowledgeRisk"`
}

type submitResponse struct {
	Transaction domain.SwapTransaction `json:"transaction"`
	RiskScore   int                    `json:"riskScore"`
	Warnings    []string               `json:"warnings,omitempty"`
}

type pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// Quote prices a prospective swap.
// POST /api/swaps/quote
func (h *SwapHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	q, err := h.quotes.Quote(r.Context(), req.FromToken, req.ToToken, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"quote": q})
}

// Submit admits a swap. The response carries the pending record; the
// outcome is read back through Get.
// POST /api/swaps
func (h *SwapHandler) Submit(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.swaps.Submit(r.Context(), service.SubmitRequest{
		Owner:           owner,
		FromSymbol:      req.FromToken,
		ToSymbol:        req.ToToken,
		FromAmount:      req.FromAmount,
		ToAmount:        req.ToAmount,
		AcknowledgeRisk: req.AcknowledgeRisk,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "submit swap", err)
		return
	}

	writeData(w, http.StatusAccepted, submitResponse{
		Transaction: res.Swap,
		RiskScore:   res.Risk.Score,
		Warnings:    res.Warnings,
	})
}

// List returns the caller's swaps, newest first.
// GET /api/swaps?page=1&limit=20&status=completed
func (h *SwapHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	opts, page, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page is out of range")
		return
	}

	var filter domain.SwapFilter
	if v := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))); v != "" {
		filter.Status = domain.SwapStatus(v)
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "status must be one of: pending, completed, failed")
			return
		}
	}

	res, err := h.swaps.History(r.Context(), owner, filter, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list swaps", err)
		return
	}
	swaps := res.Swaps
	if swaps == nil {
		swaps = []domain.SwapTransaction{}
	}

	writeData(w, http.StatusOK, map[string]any{
		"transactions": swaps,
		"pagination": pagination{
			Page:  page,
			Limit: opts.Limit,
			Total: res.Total,
			Pages: (res.Total + int64(opts.Limit) - 1) / int64(opts.Limit),
		},
	})
}

// Get returns one of the caller's swaps.
// GET /api/swaps/{id}
func (h *SwapHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	tx, err := h.swaps.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get swap", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"transaction": tx})
}

// Stats aggregates the caller's swaps.
// GET /api/swaps/stats
func (h *SwapHandler) Stats(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	stats, err := h.swaps.Stats(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, "swap stats", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"stats": stats})
}
