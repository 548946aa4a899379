package aggregate_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/service/aggregate"
	"github.com/ashita-ai/vitals/internal/thresholds"
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window = aggregate.Window{Start: t0, End: t0.Add(time.Hour)}
	lcpKey = aggregate.Key{PagePath: "/chat", Metric: model.MetricLCP, Device: model.DeviceDesktop}
)

func newAggregator(opts ...aggregate.Option) *aggregate.Aggregator {
	return aggregate.New(thresholds.Default(), opts...)
}

func uniform(n int, lo, hi float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + float64(i)*(hi-lo)/float64(n-1)
	}
	return out
}

func TestAggregate_EndToEndWindow(t *testing.T) {
	a := newAggregator()
	av, ok := a.Aggregate(lcpKey, window, uniform(100, 1000, 3000), nil)
	require.True(t, ok)

	assert.InDelta(t, 2510.1, av.P75, 0.05)
	assert.Equal(t, model.RatingNeedsImprovement, av.Rating)
	assert.Equal(t, 100, av.Count)
	assert.Equal(t, model.TrendStable, av.Trend)
	assert.Equal(t, 0.0, av.TrendPercentage)
	assert.Nil(t, av.PreviousP75)
	assert.Equal(t, window.Start, av.WindowStart)
	assert.Equal(t, window.End, av.WindowEnd)
	require.Len(t, av.History, 1)
	assert.Equal(t, window.End, av.History[0].Timestamp)
}

func TestAggregate_EmptyIsAbsent(t *testing.T) {
	a := newAggregator()
	_, ok := a.Aggregate(lcpKey, window, nil, []float64{1, 2, 3})
	assert.False(t, ok)
	assert.Empty(t, a.History().Get(lcpKey), "absent windows record no history")
}

func TestAggregate_Trend(t *testing.T) {
	tests := []struct {
		name    string
		cur     float64
		prev    float64
		want    model.Trend
		wantPct float64
	}{
		{"improving", 2000, 2500, model.TrendImproving, -20},
		{"declining", 3000, 2500, model.TrendDeclining, 20},
		{"within epsilon", 2510, 2500, model.TrendStable, 0.4},
		{"boundary is stable", 2525, 2500, model.TrendStable, 1},
		{"rounding", 1001.26, 1000, model.TrendDeclining, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eps := aggregate.DefaultTrendEpsilon
			if tt.name == "rounding" {
				eps = 0
			}
			a := newAggregator(aggregate.WithTrendEpsilon(eps))
			av, ok := a.Aggregate(lcpKey, window, []float64{tt.cur}, []float64{tt.prev})
			require.True(t, ok)
			assert.Equal(t, tt.want, av.Trend)
			assert.InDelta(t, tt.wantPct, av.TrendPercentage, 1e-9)
			require.NotNil(t, av.PreviousP75)
			assert.Equal(t, tt.prev, *av.PreviousP75)
		})
	}
}

func TestTrend_ZeroPrevious(t *testing.T) {
	trend, pct := aggregate.Trend(0.3, 0, 1)
	assert.Equal(t, model.TrendDeclining, trend, "CLS rising from 0 is a regression")
	assert.Equal(t, 0.0, pct)

	trend, pct = aggregate.Trend(0, 0, 1)
	assert.Equal(t, model.TrendStable, trend)
	assert.Equal(t, 0.0, pct)

	trend, pct = aggregate.Trend(0, 0.2, 1)
	assert.Equal(t, model.TrendImproving, trend)
	assert.Equal(t, -100.0, pct)
}

func TestAggregate_DecreasingLCPIsImprovingEveryWindow(t *testing.T) {
	a := newAggregator()
	p75s := []float64{4000, 3600, 3100, 2700, 2400, 2000}
	w := window
	var prev []float64
	for i, v := range p75s {
		cur := []float64{v}
		av, ok := a.Aggregate(lcpKey, w, cur, prev)
		require.True(t, ok)
		if i == 0 {
			assert.Equal(t, model.TrendStable, av.Trend, "no previous window")
		} else {
			assert.Equal(t, model.TrendImproving, av.Trend, "window %d", i)
			assert.Negative(t, av.TrendPercentage)
		}
		prev = cur
		w = aggregate.Window{Start: w.End, End: w.End.Add(time.Hour)}
	}
}

func TestAggregate_ReaggregationIsByteIdentical(t *testing.T) {
	a := newAggregator()
	w1 := window
	w2 := aggregate.Window{Start: w1.End, End: w1.End.Add(time.Hour)}
	w1Values := uniform(40, 1500, 2500)
	w2Values := uniform(40, 1200, 2200)

	marshal := func(av model.AggregatedVital) string {
		b, err := json.Marshal(av)
		require.NoError(t, err)
		return string(b)
	}

	first, ok := a.Aggregate(lcpKey, w1, w1Values, nil)
	require.True(t, ok)

	again, ok := a.Aggregate(lcpKey, w1, w1Values, nil)
	require.True(t, ok)
	assert.Equal(t, marshal(first), marshal(again), "same window twice in a row")

	latest, ok := a.Aggregate(lcpKey, w2, w2Values, w1Values)
	require.True(t, ok)

	// An older window after a newer one.
	older, ok := a.Aggregate(lcpKey, w1, w1Values, nil)
	require.True(t, ok)
	assert.Equal(t, marshal(first), marshal(older))

	hist := a.History().Get(lcpKey)
	require.Len(t, hist, 2)
	assert.Equal(t, w1.End, hist[0].Timestamp)
	assert.Equal(t, w2.End, hist[1].Timestamp)

	latestAgain, ok := a.Aggregate(lcpKey, w2, w2Values, w1Values)
	require.True(t, ok)
	assert.Equal(t, marshal(latest), marshal(latestAgain))
}

func TestAggregate_OlderWindowInsertedInOrder(t *testing.T) {
	a := newAggregator(aggregate.WithHistorySize(4))
	w := window
	windows := make([]aggregate.Window, 4)
	for i := range windows {
		windows[i] = w
		w = aggregate.Window{Start: w.End, End: w.End.Add(time.Hour)}
	}
	// Windows 0, 1 and 3 first; window 2 arrives late.
	for _, i := range []int{0, 1, 3} {
		_, ok := a.Aggregate(lcpKey, windows[i], []float64{float64(1000 * (i + 1))}, nil)
		require.True(t, ok)
	}
	av, ok := a.Aggregate(lcpKey, windows[2], []float64{3000}, nil)
	require.True(t, ok)

	require.Len(t, av.History, 3, "history ends at the aggregated window")
	assert.Equal(t, windows[2].End, av.History[2].Timestamp)

	hist := a.History().Get(lcpKey)
	require.Len(t, hist, 4)
	for i, hp := range hist {
		assert.Equal(t, windows[i].End, hp.Timestamp)
		assert.Equal(t, float64(1000*(i+1)), hp.Value)
	}
}

func TestAggregate_HistoryBoundedAndIdempotent(t *testing.T) {
	a := newAggregator(aggregate.WithHistorySize(3))
	w := window
	for i := 0; i < 5; i++ {
		_, ok := a.Aggregate(lcpKey, w, []float64{float64(1000 + i)}, nil)
		require.True(t, ok)
		w = aggregate.Window{Start: w.End, End: w.End.Add(time.Hour)}
	}
	last := aggregate.Window{Start: w.Start.Add(-time.Hour), End: w.Start}

	hist := a.History().Get(lcpKey)
	require.Len(t, hist, 3)
	assert.Equal(t, 1002.0, hist[0].Value)
	assert.Equal(t, 1004.0, hist[2].Value)

	// Re-aggregating the same window replaces the point instead of appending.
	av, ok := a.Aggregate(lcpKey, last, []float64{1500}, nil)
	require.True(t, ok)
	require.Len(t, av.History, 3)
	assert.Equal(t, 1003.0, av.History[1].Value)
	assert.Equal(t, 1500.0, av.History[2].Value)
}

func TestAggregate_OutlierPolicies(t *testing.T) {
	ceiling := thresholds.Default().OutlierCeiling(model.MetricLCP)
	values := []float64{1000, 1000, 1000, ceiling * 10}

	none, ok := newAggregator().Aggregate(lcpKey, window, values, nil)
	require.True(t, ok)
	assert.InDelta(t, 1000+0.75*(ceiling*10-1000), none.P75, 1e-6)

	clamped, ok := newAggregator(aggregate.WithOutlierPolicy(aggregate.OutlierClamp)).Aggregate(lcpKey, window, values, nil)
	require.True(t, ok)
	assert.InDelta(t, 1000+0.75*(ceiling-1000), clamped.P75, 1e-6)
	assert.Equal(t, 4, clamped.Count)

	discarded, ok := newAggregator(aggregate.WithOutlierPolicy(aggregate.OutlierDiscard)).Aggregate(lcpKey, window, values, nil)
	require.True(t, ok)
	assert.Equal(t, 1000.0, discarded.P75)
	assert.Equal(t, 3, discarded.Count)

	_, ok = newAggregator(aggregate.WithOutlierPolicy(aggregate.OutlierDiscard)).Aggregate(lcpKey, window, []float64{ceiling + 1}, nil)
	assert.False(t, ok, "all-outlier shard is absent under discard")
}

func TestParseOutlierPolicy(t *testing.T) {
	p, err := aggregate.ParseOutlierPolicy("")
	require.NoError(t, err)
	assert.Equal(t, aggregate.OutlierNone, p)

	p, err = aggregate.ParseOutlierPolicy("Clamp")
	require.NoError(t, err)
	assert.Equal(t, aggregate.OutlierClamp, p)

	_, err = aggregate.ParseOutlierPolicy("trim")
	assert.Error(t, err)
}

func TestAggregateAll_MatchesSequential(t *testing.T) {
	current := make(map[aggregate.Key][]float64)
	previous := make(map[aggregate.Key][]float64)
	for i := 0; i < 50; i++ {
		for _, m := range model.AllMetrics {
			k := aggregate.Key{PagePath: fmt.Sprintf("/p/%d", i), Metric: m, Device: model.DeviceMobile}
			current[k] = uniform(10, float64(i+1), float64(i+1)*10)
			previous[k] = uniform(10, float64(i+1), float64(i+1)*12)
		}
	}
	current[lcpKey] = nil

	parallel, err := newAggregator().AggregateAll(context.Background(), window, current, previous, 4)
	require.NoError(t, err)

	seq := newAggregator()
	require.Len(t, parallel, len(current)-1, "empty shard is absent")
	for k, v := range current {
		want, ok := seq.Aggregate(k, window, v, previous[k])
		got, present := parallel[k]
		assert.Equal(t, ok, present, k.String())
		if ok {
			assert.Equal(t, want, got, k.String())
		}
	}
}

func TestAggregateAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newAggregator().AggregateAll(ctx, window, map[aggregate.Key][]float64{lcpKey: {1}}, nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
