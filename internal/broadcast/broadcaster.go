// Package broadcast fans price changes out to connected push clients. It
// knows nothing about the wire: transports implement Client.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/metrics"
)

// Message types sent to clients.
const (
	TypeInitialPrices  = "initial_prices"
	TypePriceUpdate    = "price_update"
	TypeSubscribed     = "subscription_success"
	TypeUnsubscribed   = "unsubscription_success"
	TypeSwapUpdate     = "swap_update"
	TopicAll           = "ALL"
	defaultEventBuffer = 256
)

// Client is a push-capable connection. Enqueue must never block; it returns
// false when the message could not be queued.
type Client interface {
	ID() string
	// Owner is the account the connection identified as, empty when
	// anonymous. Only owned connections receive swap updates.
	Owner() string
	Enqueue(msg []byte) bool
	Close()
}

// PriceSource is the cache the broadcaster snapshots and listens to.
type PriceSource interface {
	GetAll() []domain.PriceEntry
	Subscribe(buffer int) (<-chan domain.PriceEvent, func())
}

// Envelope is the JSON frame sent to clients.
type Envelope struct {
	Type         string    `json:"type"`
	Success      *bool     `json:"success,omitempty"`
	Data         any       `json:"data,omitempty"`
	Subscribed   []string  `json:"subscribed,omitempty"`
	Unsubscribed []string  `json:"unsubscribed,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type subscription struct {
	client   Client
	topics   map[string]struct{}
	explicit bool // set by the first Subscribe
}

// wants reports whether the subscription should receive an update for
// symbol. A client that never subscribed is on the implicit all topic; once
// it has subscribed, only its topics count, and an empty set receives nothing.
func (s *subscription) wants(symbol string) bool {
	if !s.explicit {
		return true
	}
	if _, ok := s.topics[TopicAll]; ok {
		return true
	}
	_, ok := s.topics[symbol]
	return ok
}

// Broadcaster tracks client subscriptions and pushes price updates.
type Broadcaster struct {
	prices      PriceSource
	metrics     *metrics.Metrics
	logger      *slog.Logger
	eventBuffer int

	mu      sync.RWMutex
	clients map[string]*subscription

	sent    atomic.Uint64
	dropped atomic.Uint64
	now     func() time.Time
}

// New creates a Broadcaster reading from prices.
func New(prices PriceSource, m *metrics.Metrics, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		prices:      prices,
		metrics:     m,
		logger:      logger.With(slog.String("component", "broadcast")),
		eventBuffer: defaultEventBuffer,
		clients:     make(map[string]*subscription),
		now:         time.Now,
	}
}

// Run consumes price change events until ctx is cancelled, then closes every
// connected client.
func (b *Broadcaster) Run(ctx context.Context) error {
	events, cancel := b.prices.Subscribe(b.eventBuffer)
	defer cancel()

	b.logger.Info("broadcaster started")
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			b.logger.Info("broadcaster stopped")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				b.closeAll()
				return nil
			}
			b.Publish(ev)
		}
	}
}

// Connect registers c and queues the current price snapshot for it. A client
// reconnecting under the same id replaces its previous registration.
func (b *Broadcaster) Connect(c Client) {
	b.mu.Lock()
	if prev, ok := b.clients[c.ID()]; ok && prev.client != c {
		prev.client.Close()
	}
	b.clients[c.ID()] = &subscription{client: c, topics: make(map[string]struct{})}
	n := len(b.clients)
	b.mu.Unlock()

	b.metrics.ClientsConnected(n)
	b.logger.Info("client connected", slog.String("client", c.ID()), slog.Int("total_clients", n))

	ok := true
	b.send(c, Envelope{Type: TypeInitialPrices, Success: &ok, Data: b.prices.GetAll()})
}

// Disconnect removes the client's subscription and closes it. Unknown ids
// are ignored.
func (b *Broadcaster) Disconnect(id string) {
	b.mu.Lock()
	sub, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	n := len(b.clients)
	b.mu.Unlock()

	if !ok {
		return
	}
	sub.client.Close()
	b.metrics.ClientsConnected(n)
	b.logger.Info("client disconnected", slog.String("client", id), slog.Int("total_clients", n))
}

// Subscribe adds symbols to the client's topic set and acknowledges.
func (b *Broadcaster) Subscribe(id string, symbols []string) error {
	return b.mutate(id, symbols, TypeSubscribed, func(topics map[string]struct{}, s string) {
		topics[s] = struct{}{}
	})
}

// Unsubscribe removes symbols from the client's topic set and acknowledges.
func (b *Broadcaster) Unsubscribe(id string, symbols []string) error {
	return b.mutate(id, symbols, TypeUnsubscribed, func(topics map[string]struct{}, s string) {
		delete(topics, s)
	})
}

func (b *Broadcaster) mutate(id string, symbols []string, ack string, apply func(map[string]struct{}, string)) error {
	norm := normalizeSymbols(symbols)

	b.mu.Lock()
	sub, ok := b.clients[id]
	if ok {
		for _, s := range norm {
			apply(sub.topics, s)
		}
		if ack == TypeSubscribed {
			sub.explicit = true
		}
	}
	b.mu.Unlock()

	if !ok {
		return domain.ErrNotFound
	}

	env := Envelope{Type: ack}
	if ack == TypeSubscribed {
		env.Subscribed = norm
	} else {
		env.Unsubscribed = norm
	}
	b.send(sub.client, env)
	b.logger.Debug(ack, slog.String("client", id), slog.Any("symbols", norm))
	return nil
}

// Publish delivers a price_update for ev to every interested client, at most
// once per client. Clients with a full queue lose the message.
func (b *Broadcaster) Publish(ev domain.PriceEvent) {
	msg, err := b.encode(Envelope{Type: TypePriceUpdate, Data: ev.Entry, Timestamp: ev.At})
	if err != nil {
		b.logger.Error("encode price update failed", slog.String("error", err.Error()))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.clients {
		if sub.wants(ev.Entry.Symbol) {
			b.deliver(sub.client, msg)
		}
	}
}

// PublishSwap sends a swap_update frame for tx to every connection owned by
// tx.Owner. It returns the number of connections the frame was queued for.
func (b *Broadcaster) PublishSwap(event string, tx domain.SwapTransaction) int {
	if tx.Owner == "" {
		return 0
	}
	msg, err := b.encode(Envelope{Type: TypeSwapUpdate, Data: swapUpdate{Event: event, Swap: tx}})
	if err != nil {
		b.logger.Error("encode swap update failed", slog.String("error", err.Error()))
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.clients {
		if sub.client.Owner() == tx.Owner {
			b.deliver(sub.client, msg)
			n++
		}
	}
	return n
}

type swapUpdate struct {
	Event string                 `json:"event"`
	Swap  domain.SwapTransaction `json:"swap"`
}

// RelaySwaps forwards swap lifecycle events read from events (JSON objects
// with "type" and "swap") to their owners until ctx ends or events closes.
// Malformed payloads are skipped.
func (b *Broadcaster) RelaySwaps(ctx context.Context, events <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var ev struct {
				Type string                 `json:"type"`
				Swap domain.SwapTransaction `json:"swap"`
			}
			if err := json.Unmarshal(payload, &ev); err != nil {
				b.logger.Warn("skipping malformed swap event", slog.String("error", err.Error()))
				continue
			}
			b.PublishSwap(ev.Type, ev.Swap)
		}
	}
}

// Topics returns the client's explicit topics, sorted.
func (b *Broadcaster) Topics(id string) ([]string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.clients[id]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(sub.topics))
	for t := range sub.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, true
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many messages were discarded for slow clients.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Sent returns how many messages were queued successfully.
func (b *Broadcaster) Sent() uint64 { return b.sent.Load() }

func (b *Broadcaster) send(c Client, env Envelope) {
	msg, err := b.encode(env)
	if err != nil {
		b.logger.Error("encode message failed", slog.String("type", env.Type), slog.String("error", err.Error()))
		return
	}
	b.deliver(c, msg)
}

func (b *Broadcaster) deliver(c Client, msg []byte) {
	if c.Enqueue(msg) {
		b.sent.Add(1)
		return
	}
	b.dropped.Add(1)
	b.metrics.BroadcastDrop()
	b.logger.Warn("dropping message for slow client", slog.String("client", c.ID()))
}

func (b *Broadcaster) encode(env Envelope) ([]byte, error) {
	if env.Timestamp.IsZero() {
		env.Timestamp = b.now().UTC()
	}
	return json.Marshal(env)
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	subs := b.clients
	b.clients = make(map[string]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.client.Close()
	}
	b.metrics.ClientsConnected(0)
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
