package domain

import (
	"context"
	"time"
)

// PriceCache is the in-process store of the latest price per symbol.
type PriceCache interface {
	Get(symbol string) (PriceEntry, bool)
	GetAll() []PriceEntry
	Upsert(entry PriceEntry) (changed bool)
}

// PriceMirror copies price entries to a shared cache so other processes can
// read them.
type PriceMirror interface {
	SetEntries(ctx context.Context, entries []PriceEntry) error
	GetEntry(ctx context.Context, symbol string) (PriceEntry, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for events other processes may react to.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
