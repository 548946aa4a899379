package readmodel

import (
	"cmp"
	"errors"
	"slices"
	"strings"

	"github.com/ashita-ai/vitals/internal/model"
)

var (
	// ErrNoSnapshot is returned before the first window has been published.
	ErrNoSnapshot = errors.New("readmodel: no snapshot published yet")
	// ErrNotFound is returned for an unknown page, or a page or site with no
	// scorable metrics.
	ErrNotFound = errors.New("readmodel: not found")
)

// Query answers read requests. Every method loads the snapshot pointer once,
// so a single response never mixes two windows.
type Query struct {
	store *Store
}

// NewQuery creates a Query over store.
func NewQuery(store *Store) *Query {
	return &Query{store: store}
}

func (q *Query) snapshot() (*Snapshot, error) {
	snap := q.store.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// AggregatedVitals returns the site-wide summary for device.
func (q *Query) AggregatedVitals(device model.DeviceClass) (model.SummaryResponse, error) {
	snap, err := q.snapshot()
	if err != nil {
		return model.SummaryResponse{}, err
	}
	return model.SummaryResponse{
		Device: device,
		Vitals: snap.Device(device).Summary,
		Window: snap.Meta(),
	}, nil
}

// ListPagePerformance filters, sorts and paginates the page breakdown.
func (q *Query) ListPagePerformance(pq model.PageQuery) (model.PageList, model.WindowMeta, error) {
	snap, err := q.snapshot()
	if err != nil {
		return model.PageList{}, model.WindowMeta{}, err
	}
	pq = pq.Normalize()

	all := snap.Device(pq.Device).Pages
	rows := make([]model.PageWebVitals, 0, len(all))
	needle := strings.ToLower(pq.Search)
	for _, p := range all {
		if needle == "" || strings.Contains(strings.ToLower(p.PagePath), needle) {
			rows = append(rows, p)
		}
	}
	sortPages(rows, pq.SortBy, pq.SortOrder)

	total := len(rows)
	start := min(pq.Offset, total)
	end := min(start+pq.Limit, total)
	return model.PageList{
		Pages:   rows[start:end],
		Total:   total,
		Limit:   pq.Limit,
		Offset:  pq.Offset,
		HasMore: end < total,
	}, snap.Meta(), nil
}

// ScoreBreakdown returns the score for one page, or for the site when
// pagePath is empty.
func (q *Query) ScoreBreakdown(pagePath string, device model.DeviceClass) (model.PerformanceScoreBreakdown, model.WindowMeta, error) {
	snap, err := q.snapshot()
	if err != nil {
		return model.PerformanceScoreBreakdown{}, model.WindowMeta{}, err
	}
	view := snap.Device(device)
	if pagePath == "" {
		if view.Score == nil {
			return model.PerformanceScoreBreakdown{}, snap.Meta(), ErrNotFound
		}
		return *view.Score, snap.Meta(), nil
	}
	b, ok := view.PageScores[model.NormalizePagePath(pagePath)]
	if !ok {
		return model.PerformanceScoreBreakdown{}, snap.Meta(), ErrNotFound
	}
	return b, snap.Meta(), nil
}

// sortValue extracts the sort key of p. ok is false when p has no value for
// the field, which always sorts last.
func sortValue(p model.PageWebVitals, f model.SortField) (float64, bool) {
	switch f {
	case model.SortPageLoads:
		return float64(p.PageLoads), true
	case model.SortPerformanceScore:
		if p.PerformanceScore == nil {
			return 0, false
		}
		return float64(*p.PerformanceScore), true
	case model.SortOpportunity:
		if p.Opportunity == nil {
			return 0, false
		}
		return float64(*p.Opportunity), true
	}
	if m, ok := f.Metric(); ok {
		if av := p.Get(m); av != nil {
			return av.P75, true
		}
	}
	return 0, false
}

func sortPages(rows []model.PageWebVitals, f model.SortField, order model.SortOrder) {
	slices.SortFunc(rows, func(a, b model.PageWebVitals) int {
		av, aok := sortValue(a, f)
		bv, bok := sortValue(b, f)
		switch {
		case aok && !bok:
			return -1
		case !aok && bok:
			return 1
		case aok && bok && av != bv:
			if order == model.SortAsc {
				return cmp.Compare(av, bv)
			}
			return cmp.Compare(bv, av)
		}
		return strings.Compare(a.PagePath, b.PagePath)
	})
}

// Current returns the published snapshot, or nil before the first window.
func (q *Query) Current() *Snapshot {
	return q.store.Current()
}
