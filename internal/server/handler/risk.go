package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// RiskAnalyzer scores tokens. It never fails; lookups that go wrong fall
// back to a conservative assessment.
type RiskAnalyzer interface {
	Assess(ctx context.Context, subject domain.TokenSubject) domain.RiskAssessment
	AssessBatch(ctx context.Context, subjects []domain.TokenSubject) []domain.RiskAssessment
}

// RiskHandler serves the token analysis endpoints.
type RiskHandler struct {
	risk   RiskAnalyzer
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(risk RiskAnalyzer, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{risk: risk, logger: logger}
}

type analyzeRequest struct {
	TokenAddress string `json:"tokenAddress" validate:"required,max=128"`
	TokenName    string `json:"tokenName" validate:"max=128"`
	TokenSymbol  string `json:"tokenSymbol" validate:"max=32"`
}

type batchRequest struct {
	TokenAddresses []string `json:"tokenAddresses" validate:"required,min=1,max=10,dive,required,max=128"`
}

type batchSummary struct {
	TotalTokens int `json:"totalTokens"`
	ScamTokens  int `json:"scamTokens"`
	SafeTokens  int `json:"safeTokens"`
}

// Analyze scores one token.
// POST /api/risk/analyze
func (h *RiskHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a := h.risk.Assess(r.Context(), domain.TokenSubject{
		Address: req.TokenAddress,
		Name:    req.TokenName,
		Symbol:  req.TokenSymbol,
	})
	writeData(w, http.StatusOK, map[string]any{"analysis": a})
}

// Batch scores up to ten addresses concurrently.
// POST /api/risk/batch
func (h *RiskHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	subjects := make([]domain.TokenSubject, len(req.TokenAddresses))
	for i, addr := range req.TokenAddresses {
		subjects[i] = domain.TokenSubject{Address: addr}
	}

	analyses := h.risk.AssessBatch(r.Context(), subjects)
	summary := batchSummary{TotalTokens: len(analyses)}
	for _, a := range analyses {
		if a.IsScam {
			summary.ScamTokens++
		} else {
			summary.SafeTokens++
		}
	}
	writeData(w, http.StatusOK, map[string]any{
		"analyses": analyses,
		"count":    len(analyses),
		"summary":  summary,
	})
}
