package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/swapguard/internal/domain"
)

// RateLimiter implements domain.RateLimiter with one token bucket per key,
// for single-instance deployments without Redis. Buckets refill at
// limit/window and burst up to limit.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*rate.Limiter), now: time.Now}
}

// Allow reports whether one more request for key is admitted.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, nil
	}

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok || b.Burst() != limit {
		b = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	return b.AllowN(rl.now(), 1), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
