package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

const subscriberBuffer = 128

// SignalBus implements domain.SignalBus in process, for single-instance
// deployments without Redis. Channels match exactly. Like Redis Pub/Sub,
// delivery is best effort: a subscriber whose buffer is full misses the
// message.
type SignalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan []byte
	nextID uint64
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string]map[uint64]chan []byte)}
}

// Publish copies payload to every current subscriber of channel.
func (sb *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	for _, ch := range sb.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel after the
// call. The returned channel closes when ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	sb.mu.Lock()
	id := sb.nextID
	sb.nextID++
	if sb.subs[channel] == nil {
		sb.subs[channel] = make(map[uint64]chan []byte)
	}
	sb.subs[channel][id] = ch
	sb.mu.Unlock()

	go func() {
		<-ctx.Done()
		sb.mu.Lock()
		delete(sb.subs[channel], id)
		if len(sb.subs[channel]) == 0 {
			delete(sb.subs, channel)
		}
		sb.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
