package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SwapStore persists swap transactions.
type SwapStore interface {
	// Create inserts a new record. It returns ErrConflict when the settlement
	// reference is already taken.
	Create(ctx context.Context, tx SwapTransaction) error
	// Transition moves a pending record to a terminal status. It reports
	// false without error when the record is already terminal.
	Transition(ctx context.Context, id string, to SwapStatus, reason string, at time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (SwapTransaction, error)
	// List returns the owner's records newest first.
	List(ctx context.Context, owner string, filter SwapFilter, opts ListOpts) (SwapPage, error)
	Stats(ctx context.Context, owner string) (SwapStats, error)
	ListStalePending(ctx context.Context, createdBefore time.Time) ([]SwapTransaction, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]SwapTransaction, error)
}

// PriceSnapshotStore persists price entries captured after each ingestion
// cycle.
type PriceSnapshotStore interface {
	InsertBatch(ctx context.Context, snaps []PriceSnapshot) error
	// ListLatest returns the most recent snapshot per symbol.
	ListLatest(ctx context.Context) ([]PriceEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
