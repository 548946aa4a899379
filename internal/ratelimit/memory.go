package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	staleThreshold  = 10 * time.Minute
	cleanupInterval = time.Minute
)

type bucket struct {
	tokens     float64
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with one in-memory token bucket per key.
// Buckets idle for longer than ten minutes are evicted in the background.
type MemoryLimiter struct {
	rate  float64 // tokens per second
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter refilling at rate tokens
// per second up to burst. Call Close to stop the eviction goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	return newMemoryLimiter(rate, burst, time.Now)
}

func newMemoryLimiter(rate float64, burst int, now func() time.Time) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		now:     now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one token from the bucket for key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &bucket{tokens: m.burst - 1, lastAccess: now}
		return true, nil
	}

	if elapsed := now.Sub(b.lastAccess).Seconds(); elapsed > 0 {
		b.tokens = min(m.burst, b.tokens+elapsed*m.rate)
	}
	b.lastAccess = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleThreshold)
	for key, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
