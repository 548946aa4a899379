package ingest

import (
	"sync"
	"time"
)

// Deduper remembers (session, metric, page) keys for a TTL so repeated
// deliveries of the same report are dropped at the door. The aggregator
// de-duplicates again per window, so a Deduper miss after a restart only
// costs storage, never correctness.
type Deduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewDeduper creates a Deduper with the given TTL. Call Close to stop the
// background eviction goroutine.
func NewDeduper(ttl time.Duration) *Deduper {
	return newDeduper(ttl, time.Now)
}

func newDeduper(ttl time.Duration, now func() time.Time) *Deduper {
	d := &Deduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     now,
		done:    make(chan struct{}),
	}
	go d.evictLoop()
	return d
}

// DedupeKey builds the key for one sample.
func DedupeKey(sessionID, metric, pagePath string) string {
	return sessionID + "|" + metric + "|" + pagePath
}

// Seen marks key and reports whether it was already marked and unexpired.
func (d *Deduper) Seen(key string) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.entries[key]; ok && now.Before(exp) {
		return true
	}
	d.entries[key] = now.Add(d.ttl)
	return false
}

// Forget unmarks key so a later delivery is accepted.
func (d *Deduper) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
}

// Len returns the number of tracked keys, including expired ones not yet
// evicted.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Close stops the background eviction goroutine. Safe to call twice.
func (d *Deduper) Close() {
	d.once.Do(func() { close(d.done) })
}

func (d *Deduper) evictLoop() {
	interval := d.ttl / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.evictExpired()
		}
	}
}

func (d *Deduper) evictExpired() {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, k)
		}
	}
}
