// Package score computes the composite performance score from a set of
// aggregated vitals.
package score

import (
	"errors"
	"math"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/thresholds"
)

// ErrNoMetrics is returned when none of the five vitals is present, so no
// score can be computed. Callers omit the score rather than report 0.
var ErrNoMetrics = errors.New("score: no metrics present")

// Result is a computed composite score.
type Result struct {
	Score   int
	Metrics []model.MetricScore
	Partial bool
	Missing []model.Metric
}

// Scorer maps vitals to sub-scores and combines them with the table weights.
type Scorer struct {
	table *thresholds.Table
}

// New creates a Scorer for table.
func New(table *thresholds.Table) *Scorer {
	return &Scorer{table: table}
}

// Score computes the weighted composite for device. Missing metrics are left
// out and the remaining weights renormalized; the result is then marked
// Partial and the absentees listed in Missing.
//
//	score = round( Σ wᵢ·sᵢ / Σ wᵢ ), clamped to [0, 100]
func (s *Scorer) Score(device model.DeviceClass, vitals model.VitalsSummary) (Result, error) {
	var (
		res     Result
		present []*model.AggregatedVital
		wsum    float64
	)
	for _, m := range model.AllMetrics {
		av := vitals.Get(m)
		if av == nil {
			res.Missing = append(res.Missing, m)
			continue
		}
		present = append(present, av)
		wsum += s.table.Weight(m)
	}
	if len(present) == 0 || wsum <= 0 {
		return Result{}, ErrNoMetrics
	}

	var total float64
	for _, av := range present {
		sub := s.table.SubScore(av.Name, device, av.P75)
		w := s.table.Weight(av.Name) / wsum
		total += w * sub
		res.Metrics = append(res.Metrics, model.MetricScore{
			Name:   av.Name,
			Value:  av.P75,
			Rating: s.table.Classify(av.Name, device, av.P75),
			Weight: w,
			Score:  math.Round(sub*10) / 10,
		})
	}
	res.Score = clamp(int(math.Round(total)), 0, 100)
	res.Partial = len(res.Missing) > 0
	return res, nil
}

// Breakdown builds the API view of a score for the site (empty pagePath) or
// one page.
func (s *Scorer) Breakdown(device model.DeviceClass, pagePath string, sampleCount int, vitals model.VitalsSummary) (model.PerformanceScoreBreakdown, error) {
	res, err := s.Score(device, vitals)
	if err != nil {
		return model.PerformanceScoreBreakdown{}, err
	}
	return model.PerformanceScoreBreakdown{
		Score:       res.Score,
		Device:      device,
		PagePath:    pagePath,
		SampleCount: sampleCount,
		Partial:     res.Partial,
		Missing:     res.Missing,
		Metrics:     res.Metrics,
	}, nil
}

// Opportunity is the headroom left in a score.
func Opportunity(score int) int {
	return 100 - clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
