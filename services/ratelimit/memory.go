package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one token bucket per key in process memory
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Take consumes one token when available
func (m *MemoryStore) Take(_ context.Context, key string, policy Policy) (*RateLimitResult, error) {
	now := m.now()
	limiter := m.limiter(key, policy, now)

	result := &RateLimitResult{Limit: policy.capacity()}
	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return result, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		result.RetryAfter = delay
		return result, nil
	}

	result.Allowed = true
	result.Remaining = int(limiter.TokensAt(now))
	return result, nil
}

func (m *MemoryStore) limiter(key string, policy Policy, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(policy.perSecond()), policy.capacity())}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Len returns the number of tracked buckets
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// CleanupIdle drops buckets unused for longer than idle
func (m *MemoryStore) CleanupIdle(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idle)
	removed := 0
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops idle buckets until ctx is cancelled
func (m *MemoryStore) StartCleanupWorker(ctx context.Context, interval, idle time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := m.CleanupIdle(idle); removed > 0 {
				logger.Debug("dropped idle rate limit buckets", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}
