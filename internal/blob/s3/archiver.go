package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// SwapArchiveStore is the query the archiver needs from the swap store.
type SwapArchiveStore interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.SwapTransaction, error)
}

// ArchiveImpl implements domain.Archiver by serialising price snapshots and
// daily swap history to JSONL objects.
//
// Archived swaps stay in the primary store. Each day is written once; a
// rerun for a day whose object already exists is a no-op.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	swaps  SwapArchiveStore
	audit  domain.AuditStore // optional
}

// NewArchiver creates a new ArchiveImpl. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	swaps SwapArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		swaps:  swaps,
		audit:  audit,
	}
}

// ArchivePrices uploads entries as one JSONL object keyed by capture time
// and returns its path.
func (a *ArchiveImpl) ArchivePrices(ctx context.Context, entries []domain.PriceEntry, at time.Time) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	buf, err := marshalJSONL(entries)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive prices marshal: %w", err)
	}

	path := pricesPath(at)
	if err := a.upload(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: archive prices upload: %w", err)
	}
	return path, nil
}

// ArchiveSwaps uploads every swap created during the UTC day containing day
// and returns how many records were written.
func (a *ArchiveImpl) ArchiveSwaps(ctx context.Context, day time.Time) (int64, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)
	path := swapsPath(from)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive swaps: %w", err)
	}
	if exists {
		return 0, nil
	}

	swaps, err := a.swaps.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive swaps query: %w", err)
	}
	if len(swaps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(swaps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive swaps marshal: %w", err)
	}
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive swaps upload: %w", err)
	}

	count := int64(len(swaps))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.swaps", map[string]any{
			"path":  path,
			"count": count,
			"day":   from.Format(time.DateOnly),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive swaps audit log: %w", err)
		}
	}
	return count, nil
}

// Archives lists archived objects of one kind ("prices" or "swaps").
func (a *ArchiveImpl) Archives(ctx context.Context, kind string) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, "archive/"+kind+"/")
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
}

// swapsPath partitions swap archives by day.
//
//	archive/swaps/2026-04-09.jsonl
func swapsPath(day time.Time) string {
	return fmt.Sprintf("archive/swaps/%s.jsonl", day.Format(time.DateOnly))
}

//	archive/prices/2026-04-10/000500.jsonl
func pricesPath(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("archive/prices/%s/%s.jsonl", at.Format(time.DateOnly), at.Format("150405"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
