// Package memory holds the in-process price cache that sits between the
// ingestor and every reader (quotes, broadcast, risk naming).
package memory

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// PriceCache implements domain.PriceCache. Each symbol maps to an immutable
// *domain.PriceEntry that is replaced wholesale, so readers never observe a
// partially written record and no global lock guards the read path.
type PriceCache struct {
	entries sync.Map // string -> *domain.PriceEntry

	subMu  sync.RWMutex
	subs   map[uint64]chan domain.PriceEvent
	nextID uint64

	dropped atomic.Uint64
	now     func() time.Time
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{
		subs: make(map[uint64]chan domain.PriceEvent),
		now:  time.Now,
	}
}

func normSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Get returns the entry for symbol. Lookups are case-insensitive.
func (c *PriceCache) Get(symbol string) (domain.PriceEntry, bool) {
	v, ok := c.entries.Load(normSymbol(symbol))
	if !ok {
		return domain.PriceEntry{}, false
	}
	return *v.(*domain.PriceEntry), true
}

// GetAll returns every cached entry ordered by symbol.
func (c *PriceCache) GetAll() []domain.PriceEntry {
	out := make([]domain.PriceEntry, 0, 8)
	c.entries.Range(func(_, v any) bool {
		out = append(out, *v.(*domain.PriceEntry))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Upsert stores entry under its symbol and reports whether any market value
// differs from the previous entry. A refresh that only moves LastUpdated is
// stored but reported as unchanged. Changed entries are emitted to every
// subscriber before Upsert returns.
func (c *PriceCache) Upsert(entry domain.PriceEntry) bool {
	entry.Symbol = normSymbol(entry.Symbol)
	if entry.LastUpdated.IsZero() {
		entry.LastUpdated = c.now().UTC()
	}
	next := &entry

	for {
		prev, loaded := c.entries.Load(entry.Symbol)
		if !loaded {
			if _, raced := c.entries.LoadOrStore(entry.Symbol, next); raced {
				continue
			}
			c.emit(entry)
			return true
		}

		old := prev.(*domain.PriceEntry)
		changed := !old.SameValues(entry)
		if !c.entries.CompareAndSwap(entry.Symbol, old, next) {
			continue
		}
		if changed {
			c.emit(entry)
		}
		return changed
	}
}

// Subscribe registers a change listener with the given channel buffer. Events
// that do not fit in the buffer are dropped for that listener only. The
// returned cancel func unregisters and closes the channel.
func (c *PriceCache) Subscribe(buffer int) (<-chan domain.PriceEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.PriceEvent, buffer)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Dropped returns how many events were discarded because a subscriber's
// buffer was full.
func (c *PriceCache) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *PriceCache) emit(entry domain.PriceEntry) {
	ev := domain.PriceEvent{Entry: entry, At: c.now().UTC()}

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.dropped.Add(1)
		}
	}
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
