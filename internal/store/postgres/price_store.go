package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// PriceSnapshotStore implements domain.PriceSnapshotStore using PostgreSQL.
type PriceSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewPriceSnapshotStore creates a new PriceSnapshotStore backed by the given
// connection pool.
func NewPriceSnapshotStore(pool *pgxpool.Pool) *PriceSnapshotStore {
	return &PriceSnapshotStore{pool: pool}
}

// InsertBatch writes every snapshot in a single round trip.
func (s *PriceSnapshotStore) InsertBatch(ctx context.Context, snaps []domain.PriceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	const query = `
		INSERT INTO price_snapshots (
			symbol, name, price, change_24h, volume_24h, market_cap, updated_at, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		e := snap.Entry
		batch.Queue(query,
			e.Symbol, e.Name,
			e.Price.String(), e.Change24h.String(), e.Volume24h.String(), e.MarketCap.String(),
			e.LastUpdated, snap.CapturedAt,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert %d price snapshots: %w", len(snaps), err)
	}
	return nil
}

// ListLatest returns the most recent snapshot per symbol, ordered by symbol.
func (s *PriceSnapshotStore) ListLatest(ctx context.Context) ([]domain.PriceEntry, error) {
	const query = `
		SELECT DISTINCT ON (symbol)
			symbol, name, price::text, change_24h::text, volume_24h::text, market_cap::text, updated_at
		FROM price_snapshots
		ORDER BY symbol, captured_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list latest prices: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.PriceEntry, 0)
	for rows.Next() {
		var (
			e                         domain.PriceEntry
			price, change, vol, mcap string
		)
		if err := rows.Scan(&e.Symbol, &e.Name, &price, &change, &vol, &mcap, &e.LastUpdated); err != nil {
			return nil, fmt.Errorf("postgres: scan price snapshot: %w", err)
		}
		if e.Price, err = parseDecimal("price", price); err != nil {
			return nil, err
		}
		if e.Change24h, err = parseDecimal("change_24h", change); err != nil {
			return nil, err
		}
		if e.Volume24h, err = parseDecimal("volume_24h", vol); err != nil {
			return nil, err
		}
		if e.MarketCap, err = parseDecimal("market_cap", mcap); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list latest prices rows: %w", err)
	}
	return entries, nil
}
