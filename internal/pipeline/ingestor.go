package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/metrics"
)

const persistTimeout = 10 * time.Second

// Ingestor refreshes the price cache from an external source on a fixed
// interval. A cycle either applies the whole fetched batch or nothing.
type Ingestor struct {
	source domain.ExternalPriceSource
	cache  domain.PriceCache
	tokens TokenTable

	snapshots domain.PriceSnapshotStore // optional
	mirror    domain.PriceMirror        // optional

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewIngestor creates an Ingestor. snapshots and mirror may be nil.
func NewIngestor(
	source domain.ExternalPriceSource,
	cache domain.PriceCache,
	tokens TokenTable,
	snapshots domain.PriceSnapshotStore,
	mirror domain.PriceMirror,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		source:    source,
		cache:     cache,
		tokens:    tokens,
		snapshots: snapshots,
		mirror:    mirror,
		metrics:   m,
		logger:    logger.With(slog.String("component", "ingestor")),
		now:       time.Now,
	}
}

// Run executes one ingestion cycle and returns the number of entries whose
// values changed. On error the cache is untouched.
func (in *Ingestor) Run(ctx context.Context) (int, error) {
	quotes, err := in.source.Fetch(ctx, in.tokens.IDs())
	if err != nil {
		in.metrics.IngestResult("fetch_error")
		return 0, fmt.Errorf("pipeline: ingest: fetch: %w", err)
	}

	entries, err := in.buildBatch(quotes)
	if err != nil {
		in.metrics.IngestResult("invalid_batch")
		return 0, fmt.Errorf("pipeline: ingest: %w", err)
	}

	changed := 0
	for _, e := range entries {
		if in.cache.Upsert(e) {
			changed++
		}
	}
	in.metrics.IngestResult("ok")
	in.metrics.PriceChanged(changed)

	in.persist(ctx, entries)

	in.logger.InfoContext(ctx, "ingestion cycle complete",
		slog.Int("fetched", len(entries)),
		slog.Int("changed", changed),
	)
	return changed, nil
}

// RunLoop runs a cycle immediately and then every interval until ctx is
// cancelled. Cycle failures are logged; the next tick is the retry.
func (in *Ingestor) RunLoop(ctx context.Context, interval time.Duration) error {
	in.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("ingestion loop stopped")
			return ctx.Err()
		case <-ticker.C:
			in.runLogged(ctx)
		}
	}
}

func (in *Ingestor) runLogged(ctx context.Context) {
	if _, err := in.Run(ctx); err != nil && ctx.Err() == nil {
		in.logger.ErrorContext(ctx, "ingestion cycle skipped", slog.String("error", err.Error()))
	}
}

// buildBatch maps and validates every quote before anything is applied.
func (in *Ingestor) buildBatch(quotes map[string]domain.PriceQuote) ([]domain.PriceEntry, error) {
	at := in.now().UTC()
	entries := make([]domain.PriceEntry, 0, len(quotes))

	for id, q := range quotes {
		tok, ok := in.tokens.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("unknown source id %q: %w", id, domain.ErrInvalidArgument)
		}
		e := domain.PriceEntry{
			Symbol:      tok.Symbol,
			Name:        tok.Name,
			Price:       q.Price,
			Change24h:   q.Change24h,
			Volume24h:   q.Volume24h,
			MarketCap:   q.MarketCap,
			LastUpdated: at,
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %s: %w", tok.Symbol, err)
		}
		entries = append(entries, e)
	}

	if missing := len(in.tokens.IDs()) - len(entries); missing > 0 {
		in.logger.Warn("source omitted configured tokens", slog.Int("missing", missing))
	}
	return entries, nil
}

// persist records the applied batch. Failures are logged only; the cache is
// the source of truth for reads.
func (in *Ingestor) persist(ctx context.Context, entries []domain.PriceEntry) {
	if len(entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if in.snapshots != nil {
		snaps := make([]domain.PriceSnapshot, len(entries))
		for i, e := range entries {
			snaps[i] = domain.PriceSnapshot{Entry: e, CapturedAt: e.LastUpdated}
		}
		if err := in.snapshots.InsertBatch(ctx, snaps); err != nil {
			in.logger.WarnContext(ctx, "persist price snapshots failed", slog.String("error", err.Error()))
		}
	}
	if in.mirror != nil {
		if err := in.mirror.SetEntries(ctx, entries); err != nil {
			in.logger.WarnContext(ctx, "mirror prices failed", slog.String("error", err.Error()))
		}
	}
}

// Warm seeds the cache from the latest persisted snapshots, then from the
// shared mirror where another instance has fresher data, so quotes work
// before the first successful fetch.
func (in *Ingestor) Warm(ctx context.Context) (int, error) {
	n := 0
	if in.snapshots != nil {
		latest, err := in.snapshots.ListLatest(ctx)
		if err != nil {
			return 0, fmt.Errorf("pipeline: warm cache: %w", err)
		}
		for _, e := range latest {
			if e.Validate() != nil {
				continue
			}
			in.cache.Upsert(e)
			n++
		}
		in.logger.InfoContext(ctx, "price cache warmed from snapshots", slog.Int("entries", n))
	}
	if in.mirror != nil {
		n += in.warmFromMirror(ctx)
	}
	return n, nil
}

// warmFromMirror upserts mirrored entries newer than what the cache holds.
// A missing or unreadable entry is skipped.
func (in *Ingestor) warmFromMirror(ctx context.Context) int {
	n := 0
	for _, id := range in.tokens.IDs() {
		tok, _ := in.tokens.Lookup(id)
		e, err := in.mirror.GetEntry(ctx, tok.Symbol)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				in.logger.WarnContext(ctx, "read mirrored price failed",
					slog.String("symbol", tok.Symbol),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if e.Validate() != nil {
			continue
		}
		if cur, ok := in.cache.Get(e.Symbol); ok && !e.LastUpdated.After(cur.LastUpdated) {
			continue
		}
		in.cache.Upsert(e)
		n++
	}
	if n > 0 {
		in.logger.InfoContext(ctx, "price cache warmed from mirror", slog.Int("entries", n))
	}
	return n
}
