package score_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/service/score"
	"github.com/ashita-ai/vitals/internal/thresholds"
)

func vital(m model.Metric, p75 float64) *model.AggregatedVital {
	return &model.AggregatedVital{Name: m, Device: model.DeviceDesktop, P75: p75}
}

func summary(values map[model.Metric]float64) model.VitalsSummary {
	var v model.VitalsSummary
	for m, p75 := range values {
		v.Set(m, vital(m, p75))
	}
	return v
}

func TestScore_AllGoodAtBoundaries(t *testing.T) {
	s := score.New(thresholds.Default())
	res, err := s.Score(model.DeviceDesktop, summary(map[model.Metric]float64{
		model.MetricLCP:  2500,
		model.MetricINP:  200,
		model.MetricCLS:  0.1,
		model.MetricFCP:  1800,
		model.MetricTTFB: 800,
	}))
	require.NoError(t, err)
	assert.Equal(t, 90, res.Score)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Missing)
	require.Len(t, res.Metrics, 5)

	var wsum float64
	for i, ms := range res.Metrics {
		assert.Equal(t, model.AllMetrics[i], ms.Name, "metrics in display order")
		assert.Equal(t, model.RatingGood, ms.Rating)
		wsum += ms.Weight
	}
	assert.InDelta(t, 1.0, wsum, 1e-9)
}

func TestScore_Perfect(t *testing.T) {
	s := score.New(thresholds.Default())
	res, err := s.Score(model.DeviceDesktop, summary(map[model.Metric]float64{
		model.MetricLCP: 0, model.MetricINP: 0, model.MetricCLS: 0, model.MetricFCP: 0, model.MetricTTFB: 0,
	}))
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, 0, score.Opportunity(res.Score))
}

func TestScore_AllPoorIsBelowFifty(t *testing.T) {
	s := score.New(thresholds.Default())
	res, err := s.Score(model.DeviceDesktop, summary(map[model.Metric]float64{
		model.MetricLCP: 4500, model.MetricINP: 600, model.MetricCLS: 0.3, model.MetricFCP: 3500, model.MetricTTFB: 2000,
	}))
	require.NoError(t, err)
	assert.Less(t, res.Score, 50)
	assert.GreaterOrEqual(t, res.Score, 0)
}

func TestScore_AllAtCeilingIsZero(t *testing.T) {
	table := thresholds.Default()
	s := score.New(table)
	for _, d := range model.AllDevices {
		t.Run(string(d), func(t *testing.T) {
			var v model.VitalsSummary
			for _, m := range model.AllMetrics {
				b, ok := table.Bounds(m, d)
				require.True(t, ok)
				v.Set(m, &model.AggregatedVital{Name: m, Device: d, P75: b.Ceiling})
			}
			res, err := s.Score(d, v)
			require.NoError(t, err)
			assert.Equal(t, 0, res.Score)
			assert.Equal(t, 100, score.Opportunity(res.Score))
			for _, ms := range res.Metrics {
				assert.Equal(t, 0.0, ms.Score, "%s sub-score", ms.Name)
			}
		})
	}
}

func TestScore_RenormalizesMissing(t *testing.T) {
	s := score.New(thresholds.Default())
	// LCP at Good (90) and INP at NeedsImprovement (50) with equal weights.
	res, err := s.Score(model.DeviceDesktop, summary(map[model.Metric]float64{
		model.MetricLCP: 2500,
		model.MetricINP: 500,
	}))
	require.NoError(t, err)
	assert.Equal(t, 70, res.Score)
	assert.True(t, res.Partial)
	assert.Equal(t, []model.Metric{model.MetricCLS, model.MetricFCP, model.MetricTTFB}, res.Missing)
	require.Len(t, res.Metrics, 2)
	assert.InDelta(t, 0.5, res.Metrics[0].Weight, 1e-9)
	assert.InDelta(t, 0.5, res.Metrics[1].Weight, 1e-9)
}

func TestScore_NoMetrics(t *testing.T) {
	s := score.New(thresholds.Default())
	_, err := s.Score(model.DeviceDesktop, model.VitalsSummary{})
	assert.ErrorIs(t, err, score.ErrNoMetrics)

	_, err = s.Breakdown(model.DeviceDesktop, "/chat", 0, model.VitalsSummary{})
	assert.ErrorIs(t, err, score.ErrNoMetrics)
}

func TestScore_DeviceThresholds(t *testing.T) {
	s := score.New(thresholds.Default())
	v := summary(map[model.Metric]float64{model.MetricLCP: 3000})

	desktop, err := s.Score(model.DeviceDesktop, v)
	require.NoError(t, err)
	mobile, err := s.Score(model.DeviceMobile, v)
	require.NoError(t, err)

	assert.Greater(t, mobile.Score, desktop.Score)
	assert.Equal(t, model.RatingNeedsImprovement, desktop.Metrics[0].Rating)
	assert.Equal(t, model.RatingGood, mobile.Metrics[0].Rating)
}

func TestBreakdown(t *testing.T) {
	s := score.New(thresholds.Default())
	b, err := s.Breakdown(model.DeviceMobile, "/chat", 42, summary(map[model.Metric]float64{
		model.MetricCLS: 0.05,
	}))
	require.NoError(t, err)
	assert.Equal(t, model.DeviceMobile, b.Device)
	assert.Equal(t, "/chat", b.PagePath)
	assert.Equal(t, 42, b.SampleCount)
	assert.True(t, b.Partial)
	assert.Equal(t, 95, b.Score)
	assert.Len(t, b.Missing, 4)
}

func TestOpportunity(t *testing.T) {
	assert.Equal(t, 13, score.Opportunity(87))
	assert.Equal(t, 100, score.Opportunity(0))
	assert.Equal(t, 0, score.Opportunity(150))
}
