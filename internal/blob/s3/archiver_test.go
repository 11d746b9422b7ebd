package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/store/memory"
)

// memBlob is an in-memory BlobWriter and BlobReader.
type memBlob struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
	putErr    error
}

func newMemBlob() *memBlob { return &memBlob{objects: make(map[string][]byte)} }

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart++
	m.mu.Unlock()
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func seedSwaps(t *testing.T, store *memory.SwapStore, day time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := day.Format("0102") + "-" + string(rune('a'+i))
		require.NoError(t, store.Create(context.Background(), domain.SwapTransaction{
			ID:         id,
			Owner:      "alice",
			FromSymbol: "BTC",
			ToSymbol:   "ETH",
			FromAmount: decimal.NewFromInt(1),
			ToAmount:   decimal.NewFromInt(25),
			Reference:  "0x" + id,
			Status:     domain.SwapStatusPending,
			CreatedAt:  day.Add(time.Duration(i) * time.Hour),
			UpdatedAt:  day.Add(time.Duration(i) * time.Hour),
		}))
	}
}

func TestArchiveSwaps_WritesDayOnce(t *testing.T) {
	blob := newMemBlob()
	swaps := memory.NewSwapStore()
	audit := memory.NewAuditStore()
	day := time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC)
	seedSwaps(t, swaps, day, 3)
	seedSwaps(t, swaps, day.Add(24*time.Hour), 2)

	a := NewArchiver(blob, blob, swaps, audit)
	n, err := a.ArchiveSwaps(context.Background(), day.Add(13*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	raw, ok := blob.objects["archive/swaps/2026-04-09.jsonl"]
	require.True(t, ok)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.Len(t, lines, 3)
	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "0x0409-a", first["txHash"])

	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.swaps", entries[0].Event)

	n, err = a.ArchiveSwaps(context.Background(), day)
	require.NoError(t, err)
	assert.Zero(t, n, "second run for the same day is a no-op")
}

func TestArchiveSwaps_EmptyDayWritesNothing(t *testing.T) {
	blob := newMemBlob()
	a := NewArchiver(blob, blob, memory.NewSwapStore(), nil)

	n, err := a.ArchiveSwaps(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)
}

func TestArchivePrices(t *testing.T) {
	blob := newMemBlob()
	a := NewArchiver(blob, blob, memory.NewSwapStore(), nil)
	at := time.Date(2026, 4, 10, 0, 5, 0, 0, time.UTC)

	path, err := a.ArchivePrices(context.Background(), []domain.PriceEntry{
		{Symbol: "BTC", Price: decimal.NewFromInt(63000)},
		{Symbol: "ETH", Price: decimal.NewFromInt(2500)},
	}, at)
	require.NoError(t, err)
	assert.Equal(t, "archive/prices/2026-04-10/000500.jsonl", path)
	assert.Equal(t, 2, bytes.Count(blob.objects[path], []byte("\n")))

	infos, err := a.Archives(context.Background(), "prices")
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	blob.putErr = errors.New("access denied")
	_, err = a.ArchivePrices(context.Background(), []domain.PriceEntry{{Symbol: "BTC"}}, at.Add(time.Minute))
	assert.Error(t, err)
}

func TestUpload_LargePayloadUsesMultipart(t *testing.T) {
	blob := newMemBlob()
	a := NewArchiver(blob, blob, memory.NewSwapStore(), nil)

	require.NoError(t, a.upload(context.Background(), "big", make([]byte, multipartThreshold+1)))
	require.NoError(t, a.upload(context.Background(), "small", []byte("x")))
	assert.Equal(t, 1, blob.multipart)
}

func TestClientKeys(t *testing.T) {
	c := &Client{prefix: normalisePrefix(" /swapguard/ ")}
	assert.Equal(t, "swapguard/archive/swaps/x.jsonl", c.key("/archive/swaps/x.jsonl"))
	assert.Equal(t, "archive/swaps/x.jsonl", c.path("swapguard/archive/swaps/x.jsonl"))

	bare := &Client{prefix: normalisePrefix("")}
	assert.Equal(t, "archive/a", bare.key("archive/a"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
