// Package aggregate turns raw vital samples for a window into per-page and
// site-wide AggregatedVital values: p75, rating, trend against the previous
// window, and a bounded history.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/stats"
	"github.com/ashita-ai/vitals/internal/thresholds"
)

// Defaults for a zero-configured Aggregator.
const (
	DefaultTrendEpsilon = 1.0 // percent
	DefaultHistorySize  = 24
	DefaultParallelism  = 8
)

// Aggregator computes AggregatedVital values. It owns the history rings, so
// one Aggregator should serve a process for its lifetime.
type Aggregator struct {
	table   *thresholds.Table
	epsilon float64
	policy  OutlierPolicy
	history *History
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTrendEpsilon sets the percentage band inside which a change is stable.
func WithTrendEpsilon(pct float64) Option {
	return func(a *Aggregator) {
		if pct >= 0 {
			a.epsilon = pct
		}
	}
}

// WithOutlierPolicy sets how values above a metric's outlier ceiling are
// handled.
func WithOutlierPolicy(p OutlierPolicy) Option {
	return func(a *Aggregator) { a.policy = p }
}

// WithHistorySize sets how many windows of history are kept per key.
func WithHistorySize(n int) Option {
	return func(a *Aggregator) { a.history = NewHistory(n) }
}

// New creates an Aggregator rating values against table.
func New(table *thresholds.Table, opts ...Option) *Aggregator {
	a := &Aggregator{
		table:   table,
		epsilon: DefaultTrendEpsilon,
		policy:  OutlierNone,
		history: NewHistory(DefaultHistorySize),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// History exposes the aggregator's history rings.
func (a *Aggregator) History() *History { return a.history }

// Aggregate summarizes one key for window. current holds the window's values
// and previous the preceding window's. It returns false when current is empty
// (after outlier handling): an absent metric is never reported as zero.
func (a *Aggregator) Aggregate(key Key, window Window, current, previous []float64) (model.AggregatedVital, bool) {
	values := a.applyOutliers(key.Metric, current)
	p75, ok := stats.P75(values)
	if !ok {
		return model.AggregatedVital{}, false
	}
	rating := a.table.Classify(key.Metric, key.Device, p75)

	av := model.AggregatedVital{
		Name:        key.Metric,
		Device:      key.Device,
		PagePath:    key.PagePath,
		P75:         p75,
		Rating:      rating,
		Count:       len(values),
		Trend:       model.TrendStable,
		WindowStart: window.Start,
		WindowEnd:   window.End,
	}
	if prev, ok := stats.P75(a.applyOutliers(key.Metric, previous)); ok {
		av.PreviousP75 = &prev
		av.Trend, av.TrendPercentage = Trend(p75, prev, a.epsilon)
	}
	av.History = a.history.Record(key, model.HistoryPoint{
		Timestamp: window.End,
		Value:     p75,
		Rating:    rating,
	})
	return av, true
}

// Trend compares current against previous. The percentage is rounded to one
// decimal before it is compared with epsilon. From a previous value of 0 the
// relative change is undefined, so the percentage is 0: any rise is
// declining and staying at 0 is stable.
func Trend(current, previous, epsilon float64) (model.Trend, float64) {
	if previous == 0 {
		if current > 0 {
			return model.TrendDeclining, 0
		}
		return model.TrendStable, 0
	}
	pct := round1((current - previous) / previous * 100)
	switch {
	case pct < -epsilon:
		return model.TrendImproving, pct
	case pct > epsilon:
		return model.TrendDeclining, pct
	default:
		return model.TrendStable, pct
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func (a *Aggregator) applyOutliers(m model.Metric, values []float64) []float64 {
	if a.policy == OutlierNone || len(values) == 0 {
		return values
	}
	ceiling := a.table.OutlierCeiling(m)
	if ceiling <= 0 {
		return values
	}
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v <= ceiling {
			out = append(out, v)
			continue
		}
		if a.policy == OutlierClamp {
			out = append(out, ceiling)
		}
	}
	return out
}

// AggregateAll aggregates every key in current, fanning shards out across at
// most parallelism goroutines. Keys only in previous produce nothing. The
// result does not depend on scheduling order because each key touches only
// its own history ring.
func (a *Aggregator) AggregateAll(ctx context.Context, window Window, current, previous map[Key][]float64, parallelism int) (map[Key]model.AggregatedVital, error) {
	if parallelism < 1 {
		parallelism = DefaultParallelism
	}
	var (
		mu  sync.Mutex
		out = make(map[Key]model.AggregatedVital, len(current))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for key, values := range current {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			av, ok := a.Aggregate(key, window, values, previous[key])
			if !ok {
				return nil
			}
			mu.Lock()
			out[key] = av
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate: window %s: %w", window, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregate: window %s: %w", window, err)
	}
	return out, nil
}
