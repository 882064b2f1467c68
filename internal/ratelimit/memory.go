package ratelimit

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

type window struct {
	count     int
	expiresAt time.Time
}

// MemoryLimiter is the single-process counterpart of RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]window
	markers map[string]time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		now:     time.Now,
		windows: make(map[string]window),
		markers: make(map[string]time.Time),
	}
}

func memoryKey(scope, subject string) string {
	return strings.TrimSpace(scope) + "\x00" + strings.ToLower(strings.TrimSpace(subject))
}

func (m *MemoryLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, span time.Duration) (int, int, error) {
	if limit <= 0 || span <= 0 || strings.TrimSpace(scope) == "" || strings.TrimSpace(subject) == "" {
		return 0, 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := memoryKey(scope, subject)
	w := m.windows[key]
	if !now.Before(w.expiresAt) {
		w = window{expiresAt: now.Add(span)}
	}
	w.count++
	m.windows[key] = w

	retryAfter := int(math.Ceil(w.expiresAt.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return w.count, retryAfter, nil
}

func (m *MemoryLimiter) MarkOnce(ctx context.Context, scope, subject string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := memoryKey(scope, subject)
	if expiresAt, ok := m.markers[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	m.markers[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryLimiter) Marked(ctx context.Context, scope, subject string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt, ok := m.markers[memoryKey(scope, subject)]
	return ok && m.now().Before(expiresAt), nil
}
