// Package readmodel serves dashboard queries from immutable snapshots. Each
// materialized window produces one Snapshot; publishing swaps a single
// pointer, so a reader sees either the old window or the new one in full.
package readmodel

import (
	"sync/atomic"
	"time"

	"github.com/ashita-ai/vitals/internal/model"
)

// DeviceView is everything the read API serves for one device class.
type DeviceView struct {
	Summary      model.VitalsSummary
	Score        *model.PerformanceScoreBreakdown // nil when no metric was measured
	Pages        []model.PageWebVitals            // sorted by PagePath
	PageScores   map[string]model.PerformanceScoreBreakdown
	SessionCount int
}

// Snapshot is one published window. Never modify a Snapshot after Publish.
type Snapshot struct {
	WindowStart time.Time
	WindowEnd   time.Time
	GeneratedAt time.Time
	Devices     map[model.DeviceClass]*DeviceView
}

var emptyView = &DeviceView{}

// Device returns the view for d, or an empty view when the window had no
// samples for it.
func (s *Snapshot) Device(d model.DeviceClass) *DeviceView {
	if v, ok := s.Devices[d]; ok && v != nil {
		return v
	}
	return emptyView
}

// Meta returns the window bounds for response metadata.
func (s *Snapshot) Meta() model.WindowMeta {
	return model.WindowMeta{
		WindowStart: s.WindowStart,
		WindowEnd:   s.WindowEnd,
		GeneratedAt: s.GeneratedAt,
	}
}

// Store holds the current snapshot.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

// NewStore returns an empty Store. Queries fail with ErrNoSnapshot until the
// first Publish.
func NewStore() *Store {
	return &Store{}
}

// Publish makes snap the current snapshot. A snapshot for an older window
// than the current one is ignored, so a slow backfill cannot roll readers
// back. Returns whether snap was installed.
func (s *Store) Publish(snap *Snapshot) bool {
	for {
		old := s.cur.Load()
		if old != nil && snap.WindowEnd.Before(old.WindowEnd) {
			return false
		}
		if s.cur.CompareAndSwap(old, snap) {
			return true
		}
	}
}

// Current returns the published snapshot, or nil before the first Publish.
func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}
