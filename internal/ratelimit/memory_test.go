package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := newMemoryLimiter(rate, burst, clock.Now)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, clock
}

func allow(t *testing.T, m *MemoryLimiter, key string) bool {
	t.Helper()
	ok, err := m.Allow(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 3)
	for i := range 3 {
		assert.True(t, allow(t, m, "k1"), "request %d within burst", i)
	}
	assert.False(t, allow(t, m, "k1"))
}

func TestMemoryLimiterRefill(t *testing.T) {
	m, clock := newTestLimiter(t, 2, 2)
	allow(t, m, "k1")
	allow(t, m, "k1")
	require.False(t, allow(t, m, "k1"))

	clock.Advance(500 * time.Millisecond)
	assert.True(t, allow(t, m, "k1"))
	assert.False(t, allow(t, m, "k1"))
}

func TestMemoryLimiterTokensCapAtBurst(t *testing.T) {
	m, clock := newTestLimiter(t, 1000, 3)
	allow(t, m, "k1")
	clock.Advance(time.Hour)

	for i := range 3 {
		assert.True(t, allow(t, m, "k1"), "request %d after idle", i)
	}
	assert.False(t, allow(t, m, "k1"))
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 1)
	assert.True(t, allow(t, m, "a"))
	assert.False(t, allow(t, m, "a"))
	assert.True(t, allow(t, m, "b"))
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m, _ := newTestLimiter(t, 100, 50)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if ok, _ := m.Allow(context.Background(), "shared"); ok {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	// The clock is frozen, so exactly the burst is admitted.
	assert.Equal(t, int64(50), allowed.Load())
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m, clock := newTestLimiter(t, 10, 5)
	allow(t, m, "stale")
	clock.Advance(5 * time.Minute)
	allow(t, m, "recent")
	clock.Advance(6 * time.Minute)

	m.evictStale()

	assert.Equal(t, 1, m.Len())
	m.mu.Lock()
	_, exists := m.buckets["recent"]
	m.mu.Unlock()
	assert.True(t, exists)
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	for range 100 {
		ok, err := l.Allow(context.Background(), "anything")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, l.Close())
}
