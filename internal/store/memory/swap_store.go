// Package memory provides process-local implementations of the store
// interfaces for local mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// SwapStore keeps swap records in memory.
type SwapStore struct {
	mu    sync.RWMutex
	byID  map[string]*domain.SwapTransaction
	byRef map[string]string
}

// NewSwapStore creates an empty SwapStore.
func NewSwapStore() *SwapStore {
	return &SwapStore{
		byID:  make(map[string]*domain.SwapTransaction),
		byRef: make(map[string]string),
	}
}

// Create inserts tx. Duplicate ids or settlement references are rejected
// with domain.ErrConflict.
func (s *SwapStore) Create(_ context.Context, tx domain.SwapTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[tx.ID]; ok {
		return fmt.Errorf("memory: create swap %s: %w", tx.ID, domain.ErrConflict)
	}
	if _, ok := s.byRef[tx.Reference]; ok {
		return fmt.Errorf("memory: create swap %s: reference taken: %w", tx.ID, domain.ErrConflict)
	}
	cp := tx
	s.byID[tx.ID] = &cp
	s.byRef[tx.Reference] = tx.ID
	return nil
}

// Transition moves a pending record to a terminal status.
func (s *SwapStore) Transition(_ context.Context, id string, to domain.SwapStatus, reason string, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("memory: transition %s to %q: %w", id, to, domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("memory: transition %s: %w", id, domain.ErrNotFound)
	}
	if tx.Status != domain.SwapStatusPending {
		return false, nil
	}
	tx.Status = to
	tx.FailureReason = reason
	tx.UpdatedAt = at
	return true, nil
}

// GetByID returns a copy of the record.
func (s *SwapStore) GetByID(_ context.Context, id string) (domain.SwapTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byID[id]
	if !ok {
		return domain.SwapTransaction{}, fmt.Errorf("memory: get swap %s: %w", id, domain.ErrNotFound)
	}
	return *tx, nil
}

// List returns the owner's records newest first.
func (s *SwapStore) List(_ context.Context, owner string, filter domain.SwapFilter, opts domain.ListOpts) (domain.SwapPage, error) {
	matched := s.collect(func(tx *domain.SwapTransaction) bool {
		if tx.Owner != owner {
			return false
		}
		if filter.Status != "" && tx.Status != filter.Status {
			return false
		}
		if opts.Since != nil && tx.CreatedAt.Before(*opts.Since) {
			return false
		}
		if opts.Until != nil && tx.CreatedAt.After(*opts.Until) {
			return false
		}
		return true
	})
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := domain.SwapPage{Total: int64(len(matched)), Swaps: []domain.SwapTransaction{}}
	offset := max(opts.Offset, 0)
	if offset >= len(matched) {
		return page, nil
	}
	end := len(matched)
	if opts.Limit > 0 && opts.Limit < end-offset {
		end = offset + opts.Limit
	}
	page.Swaps = matched[offset:end]
	return page, nil
}

// Stats aggregates the owner's records.
func (s *SwapStore) Stats(_ context.Context, owner string) (domain.SwapStats, error) {
	owned := s.collect(func(tx *domain.SwapTransaction) bool { return tx.Owner == owner })
	return aggregate(owned), nil
}

// ListStalePending returns pending records created before createdBefore.
func (s *SwapStore) ListStalePending(_ context.Context, createdBefore time.Time) ([]domain.SwapTransaction, error) {
	return s.collect(func(tx *domain.SwapTransaction) bool {
		return tx.Status == domain.SwapStatusPending && tx.CreatedAt.Before(createdBefore)
	}), nil
}

// ListCreatedBetween returns records with from <= CreatedAt < to, oldest first.
func (s *SwapStore) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.SwapTransaction, error) {
	out := s.collect(func(tx *domain.SwapTransaction) bool {
		return !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SwapStore) collect(keep func(*domain.SwapTransaction) bool) []domain.SwapTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SwapTransaction, 0)
	for _, tx := range s.byID {
		if keep(tx) {
			out = append(out, *tx)
		}
	}
	return out
}

// aggregate computes SwapStats over every record regardless of status.
func aggregate(txs []domain.SwapTransaction) domain.SwapStats {
	st := domain.SwapStats{TotalVolume: decimal.Zero, AverageRiskScore: decimal.Zero}
	var riskSum int64
	for _, tx := range txs {
		st.TotalSwaps++
		riskSum += int64(tx.RiskScore)
		st.TotalVolume = st.TotalVolume.Add(tx.FromAmount)
		switch tx.Status {
		case domain.SwapStatusCompleted:
			st.CompletedSwaps++
		case domain.SwapStatusFailed:
			st.FailedSwaps++
		case domain.SwapStatusPending:
			st.PendingSwaps++
		}
	}
	if st.TotalSwaps > 0 {
		st.AverageRiskScore = decimal.NewFromInt(riskSum).DivRound(decimal.NewFromInt(st.TotalSwaps), 2)
	}
	return st
}
