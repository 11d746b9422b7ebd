package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/wallet"
)

// WalletService manages connected wallets.
type WalletService interface {
	Connect(ctx context.Context, owner, address, publicKey string) (wallet.Wallet, error)
	Disconnect(ctx context.Context, owner string) error
	Get(ctx context.Context, owner string) (wallet.Wallet, error)
	Credit(ctx context.Context, owner string, delta decimal.Decimal) (decimal.Decimal, error)
}

// WalletHandler serves the wallet endpoints.
type WalletHandler struct {
	wallets     WalletService
	allowFaucet bool
	logger      *slog.Logger
}

// NewWalletHandler creates a WalletHandler. allowFaucet enables the fund
// endpoint, which credits test balances.
func NewWalletHandler(wallets WalletService, allowFaucet bool, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, allowFaucet: allowFaucet, logger: logger}
}

type connectRequest struct {
	Address   string `json:"address" validate:"required,startswith=0x,max=66"`
	PublicKey string `json:"publicKey" validate:"required,max=256"`
}

type fundRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type validateAddressRequest struct {
	Address string `json:"address" validate:"required"`
}

// Connect registers the caller's wallet.
// POST /api/wallet/connect
func (h *WalletHandler) Connect(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req connectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wl, err := h.wallets.Connect(r.Context(), owner, req.Address, req.PublicKey)
	if err != nil {
		writeServiceError(w, r, h.logger, "connect wallet", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"wallet": wl})
}

// Disconnect marks the caller's wallet disconnected.
// POST /api/wallet/disconnect
func (h *WalletHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if err := h.wallets.Disconnect(r.Context(), owner); err != nil {
		writeServiceError(w, r, h.logger, "disconnect wallet", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"disconnected": true})
}

// Get returns the caller's wallet.
// GET /api/wallet
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	wl, err := h.wallets.Get(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, "get wallet", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"wallet": wl})
}

// Fund credits the caller's balance when the faucet is enabled.
// POST /api/wallet/fund
func (h *WalletHandler) Fund(w http.ResponseWriter, r *http.Request) {
	if !h.allowFaucet {
		writeError(w, http.StatusForbidden, "faucet disabled")
		return
	}
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req fundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bal, err := h.wallets.Credit(r.Context(), owner, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "fund wallet", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"balance": bal})
}

// ValidateAddress reports whether an address is well formed and returns its
// canonical form.
// POST /api/wallet/validate-address
func (h *WalletHandler) ValidateAddress(w http.ResponseWriter, r *http.Request) {
	var req validateAddressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	norm, err := wallet.NormalizeAddress(req.Address)
	if err != nil {
		writeData(w, http.StatusOK, map[string]any{"address": req.Address, "isValid": false})
		return
	}
	writeData(w, http.StatusOK, map[string]any{"address": norm, "isValid": true})
}
