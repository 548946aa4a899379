package aggregate

import (
	"slices"
	"sync"
	"time"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/stats"
)

// History keeps the last N window results per key for the history charts.
// Each ring retains twice N points so that re-aggregating any of the last N
// windows sees the same older points it saw the first time. Safe for
// concurrent use.
type History struct {
	mu    sync.Mutex
	size  int
	rings map[Key]*stats.Ring[model.HistoryPoint]
}

// NewHistory returns a History reporting size points per key.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{size: size, rings: make(map[Key]*stats.Ring[model.HistoryPoint])}
}

// Record stores p in k's ring in timestamp order, replacing any point with
// the same timestamp, and returns up to size points ending at p, oldest
// first. Points newer than p are not part of p's history, so recording the
// same point twice returns the same slice even after later windows.
func (h *History) Record(k Key, p model.HistoryPoint) []model.HistoryPoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rings[k]
	if !ok {
		r = stats.NewRing[model.HistoryPoint](2 * h.size)
		h.rings[k] = r
	}

	last, ok := r.Last()
	switch {
	case !ok || last.Timestamp.Before(p.Timestamp):
		r.Push(p)
		return h.tail(r.Items())
	case last.Timestamp.Equal(p.Timestamp):
		r.ReplaceLast(p)
		return h.tail(r.Items())
	}

	// p belongs before the newest point: rebuild the ring in order.
	items := r.Items()
	i, found := slices.BinarySearchFunc(items, p.Timestamp, func(hp model.HistoryPoint, t time.Time) int {
		return hp.Timestamp.Compare(t)
	})
	if found {
		items[i] = p
	} else {
		items = slices.Insert(items, i, p)
	}
	rebuilt := stats.NewRing[model.HistoryPoint](r.Cap())
	for _, it := range items {
		rebuilt.Push(it)
	}
	h.rings[k] = rebuilt
	return h.tail(items[:i+1])
}

func (h *History) tail(points []model.HistoryPoint) []model.HistoryPoint {
	if len(points) > h.size {
		points = points[len(points)-h.size:]
	}
	return slices.Clone(points)
}

// Get returns a copy of k's latest size points, oldest first.
func (h *History) Get(k Key) []model.HistoryPoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rings[k]
	if !ok {
		return nil
	}
	return h.tail(r.Items())
}

// Prune drops rings whose newest point is older than cutoff. Pages that stop
// receiving traffic would otherwise hold memory forever.
func (h *History) Prune(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for k, r := range h.rings {
		if last, ok := r.Last(); !ok || last.Timestamp.Before(cutoff) {
			delete(h.rings, k)
			removed++
		}
	}
	return removed
}

// Size returns the number of points retained per key.
func (h *History) Size() int { return h.size }

// Len returns the number of tracked keys.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rings)
}
