// Package wallet keeps per-owner wallet connection state and balances.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// addressBytes is the width of an account address.
const addressBytes = 32

// Wallet is one owner's connected account.
type Wallet struct {
	Owner       string          `json:"owner"`
	Address     string          `json:"address"`
	PublicKey   string          `json:"publicKey"`
	Balance     decimal.Decimal `json:"balance"`
	Connected   bool            `json:"isConnected"`
	ConnectedAt time.Time       `json:"connectedAt"`
	RefreshedAt time.Time       `json:"lastRefreshed,omitempty"`
}

// Ledger implements domain.WalletLedger in memory.
type Ledger struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
	now     func() time.Time
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{wallets: make(map[string]*Wallet), now: time.Now}
}

// Connect associates address with owner and marks the wallet ready.
// Reconnecting replaces the address and keeps the known balance.
func (l *Ledger) Connect(_ context.Context, owner, address, publicKey string) (Wallet, error) {
	if strings.TrimSpace(owner) == "" {
		return Wallet{}, fmt.Errorf("wallet: connect: owner required: %w", domain.ErrInvalidArgument)
	}
	canonical, err := NormalizeAddress(address)
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet: connect: %w", err)
	}
	if strings.TrimSpace(publicKey) == "" {
		return Wallet{}, fmt.Errorf("wallet: connect: public key required: %w", domain.ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[owner]
	if !ok {
		w = &Wallet{Owner: owner, Balance: decimal.Zero}
		l.wallets[owner] = w
	}
	w.Address = canonical
	w.PublicKey = publicKey
	w.Connected = true
	w.ConnectedAt = l.now().UTC()
	return *w, nil
}

// Disconnect marks the owner's wallet as not ready.
func (l *Ledger) Disconnect(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[owner]
	if !ok || !w.Connected {
		return fmt.Errorf("wallet: disconnect %s: %w", owner, domain.ErrNotFound)
	}
	w.Connected = false
	return nil
}

// Get returns the owner's wallet.
func (l *Ledger) Get(_ context.Context, owner string) (Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.wallets[owner]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet: get %s: %w", owner, domain.ErrNotFound)
	}
	return *w, nil
}

// IsReady reports whether the owner has a connected wallet.
func (l *Ledger) IsReady(_ context.Context, owner string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.wallets[owner]
	return ok && w.Connected, nil
}

// RefreshBalance stamps and returns the owner's current balance.
func (l *Ledger) RefreshBalance(_ context.Context, owner string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[owner]
	if !ok {
		return decimal.Zero, fmt.Errorf("wallet: refresh balance %s: %w", owner, domain.ErrNotFound)
	}
	w.RefreshedAt = l.now().UTC()
	return w.Balance, nil
}

// Credit adjusts the owner's balance by delta, which may be negative.
func (l *Ledger) Credit(_ context.Context, owner string, delta decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[owner]
	if !ok {
		return decimal.Zero, fmt.Errorf("wallet: credit %s: %w", owner, domain.ErrNotFound)
	}
	next := w.Balance.Add(delta)
	if next.IsNegative() {
		return w.Balance, fmt.Errorf("wallet: credit %s: balance would go negative: %w", owner, domain.ErrPreconditionFailed)
	}
	w.Balance = next
	return next, nil
}

// NormalizeAddress validates a 0x-prefixed hex account address of up to 32
// bytes and returns it left-padded to its canonical 64 hex digits.
func NormalizeAddress(address string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(address))
	if !strings.HasPrefix(a, "0x") || len(a) == 2 || len(a) > 2+2*addressBytes {
		return "", fmt.Errorf("invalid address %q: %w", address, domain.ErrInvalidArgument)
	}
	padded := "0x" + strings.Repeat("0", 2*addressBytes-(len(a)-2)) + a[2:]
	raw, err := hexutil.Decode(padded)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, domain.ErrInvalidArgument)
	}
	return hexutil.Encode(raw), nil
}

var _ domain.WalletLedger = (*Ledger)(nil)
