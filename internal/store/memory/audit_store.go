package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// AuditStore is an append-only in-memory audit log.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts), nil
}

// PriceSnapshotStore keeps every captured snapshot in memory.
type PriceSnapshotStore struct {
	mu     sync.RWMutex
	latest map[string]domain.PriceSnapshot
	count  int
}

// NewPriceSnapshotStore creates an empty PriceSnapshotStore.
func NewPriceSnapshotStore() *PriceSnapshotStore {
	return &PriceSnapshotStore{latest: make(map[string]domain.PriceSnapshot)}
}

// InsertBatch records snaps. Only the newest snapshot per symbol is retained.
func (s *PriceSnapshotStore) InsertBatch(_ context.Context, snaps []domain.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snaps {
		key := strings.ToUpper(snap.Entry.Symbol)
		if cur, ok := s.latest[key]; ok && cur.CapturedAt.After(snap.CapturedAt) {
			continue
		}
		s.latest[key] = snap
	}
	s.count += len(snaps)
	return nil
}

// ListLatest returns the newest entry per symbol, sorted by symbol.
func (s *PriceSnapshotStore) ListLatest(_ context.Context) ([]domain.PriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PriceEntry, 0, len(s.latest))
	for _, snap := range s.latest {
		out = append(out, snap.Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Inserted returns the number of snapshots recorded so far.
func (s *PriceSnapshotStore) Inserted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	offset := max(opts.Offset, 0)
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
