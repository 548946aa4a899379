// Package thresholds holds the Core Web Vitals threshold table: the rating
// boundaries per metric and device class, the composite score weights, and
// the value-to-score curve used by the scorer.
package thresholds

import (
	"errors"
	"fmt"
	"math"

	"github.com/ashita-ai/vitals/internal/model"
)

// weightTolerance is how far the weight sum may drift from 1.0.
const weightTolerance = 1e-6

// Bounds are the rating boundaries for one metric on one device class.
// Good and NeedsImprovement are inclusive upper bounds. Ceiling is the value
// at or above which the metric contributes a sub-score of 0.
type Bounds struct {
	Good             float64 `yaml:"good" json:"good"`
	NeedsImprovement float64 `yaml:"needsImprovement" json:"needsImprovement"`
	Ceiling          float64 `yaml:"ceiling" json:"ceiling"`
}

// Table is the complete threshold configuration. A Table is read-only after
// construction and safe for concurrent use.
type Table struct {
	bounds          map[model.DeviceClass]map[model.Metric]Bounds
	weights         map[model.Metric]float64
	outlierCeilings map[model.Metric]float64
}

func newBounds(good, ni float64) Bounds {
	return Bounds{Good: good, NeedsImprovement: ni, Ceiling: ni * 1.5}
}

// Default returns the built-in table. Desktop uses the published Web Vitals
// boundaries; mobile is more lenient to account for slower devices and links.
func Default() *Table {
	return &Table{
		bounds: map[model.DeviceClass]map[model.Metric]Bounds{
			model.DeviceDesktop: {
				model.MetricLCP:  newBounds(2500, 4000),
				model.MetricINP:  newBounds(200, 500),
				model.MetricCLS:  newBounds(0.1, 0.25),
				model.MetricFCP:  newBounds(1800, 3000),
				model.MetricTTFB: newBounds(800, 1800),
			},
			model.DeviceMobile: {
				model.MetricLCP:  newBounds(3000, 5000),
				model.MetricINP:  newBounds(250, 600),
				model.MetricCLS:  newBounds(0.1, 0.25),
				model.MetricFCP:  newBounds(2300, 3800),
				model.MetricTTFB: newBounds(1000, 2200),
			},
		},
		weights: map[model.Metric]float64{
			model.MetricLCP:  0.30,
			model.MetricINP:  0.30,
			model.MetricCLS:  0.15,
			model.MetricFCP:  0.15,
			model.MetricTTFB: 0.10,
		},
		// Values above these are treated as measurement garbage (tab left in
		// the background, clock jumps) when an outlier policy is active.
		outlierCeilings: map[model.Metric]float64{
			model.MetricLCP:  60000,
			model.MetricINP:  30000,
			model.MetricCLS:  10,
			model.MetricFCP:  60000,
			model.MetricTTFB: 30000,
		},
	}
}

// Bounds returns the boundaries for metric on device. Unknown devices fall
// back to desktop.
func (t *Table) Bounds(m model.Metric, d model.DeviceClass) (Bounds, bool) {
	byMetric, ok := t.bounds[d]
	if !ok {
		byMetric = t.bounds[model.DeviceDesktop]
	}
	b, ok := byMetric[m]
	return b, ok
}

// Classify rates value: good iff value <= Good, needs-improvement iff
// Good < value <= NeedsImprovement, poor otherwise.
func (t *Table) Classify(m model.Metric, d model.DeviceClass, value float64) model.Rating {
	b, ok := t.Bounds(m, d)
	if !ok {
		return model.RatingPoor
	}
	switch {
	case value <= b.Good:
		return model.RatingGood
	case value <= b.NeedsImprovement:
		return model.RatingNeedsImprovement
	default:
		return model.RatingPoor
	}
}

// SubScore maps value to [0,100] along a piecewise-linear curve through
// (0,100), (Good,90), (NeedsImprovement,50) and (Ceiling,0). The curve is
// monotone non-increasing, so a good value always scores at least 90 and a
// poor one always below 50.
func (t *Table) SubScore(m model.Metric, d model.DeviceClass, value float64) float64 {
	b, ok := t.Bounds(m, d)
	if !ok {
		return 0
	}
	switch {
	case value <= 0:
		return 100
	case value <= b.Good:
		return lerp(value, 0, b.Good, 100, 90)
	case value <= b.NeedsImprovement:
		return lerp(value, b.Good, b.NeedsImprovement, 90, 50)
	case value < b.Ceiling:
		// Strictly below 50 once past the needs-improvement bound.
		return math.Min(lerp(value, b.NeedsImprovement, b.Ceiling, 50, 0), math.Nextafter(50, 0))
	default:
		return 0
	}
}

func lerp(x, x0, x1, y0, y1 float64) float64 {
	if x1 == x0 {
		return y1
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}

// Weight returns the composite-score weight of m.
func (t *Table) Weight(m model.Metric) float64 {
	return t.weights[m]
}

// OutlierCeiling returns the value above which a sample of m is an outlier.
func (t *Table) OutlierCeiling(m model.Metric) float64 {
	return t.outlierCeilings[m]
}

// Validate checks that every metric has ordered positive bounds on every
// device and that the weights sum to 1.
func (t *Table) Validate() error {
	var errs []error
	for _, d := range model.AllDevices {
		byMetric, ok := t.bounds[d]
		if !ok {
			errs = append(errs, fmt.Errorf("thresholds: missing device %s", d))
			continue
		}
		for _, m := range model.AllMetrics {
			b, ok := byMetric[m]
			if !ok {
				errs = append(errs, fmt.Errorf("thresholds: %s/%s: missing bounds", d, m))
				continue
			}
			if b.Good <= 0 || !(b.Good < b.NeedsImprovement && b.NeedsImprovement < b.Ceiling) {
				errs = append(errs, fmt.Errorf("thresholds: %s/%s: bounds must satisfy 0 < good < needsImprovement < ceiling (got %v/%v/%v)",
					d, m, b.Good, b.NeedsImprovement, b.Ceiling))
			}
		}
	}
	var sum float64
	for _, m := range model.AllMetrics {
		w, ok := t.weights[m]
		if !ok || w <= 0 {
			errs = append(errs, fmt.Errorf("thresholds: weight for %s must be positive", m))
		}
		sum += w
		if c := t.outlierCeilings[m]; c <= 0 {
			errs = append(errs, fmt.Errorf("thresholds: outlier ceiling for %s must be positive", m))
		}
	}
	if math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("thresholds: weights must sum to 1.0 (got %.6f)", sum))
	}
	return errors.Join(errs...)
}

func (t *Table) clone() *Table {
	c := &Table{
		bounds:          make(map[model.DeviceClass]map[model.Metric]Bounds, len(t.bounds)),
		weights:         make(map[model.Metric]float64, len(t.weights)),
		outlierCeilings: make(map[model.Metric]float64, len(t.outlierCeilings)),
	}
	for d, byMetric := range t.bounds {
		c.bounds[d] = make(map[model.Metric]Bounds, len(byMetric))
		for m, b := range byMetric {
			c.bounds[d][m] = b
		}
	}
	for m, w := range t.weights {
		c.weights[m] = w
	}
	for m, v := range t.outlierCeilings {
		c.outlierCeilings[m] = v
	}
	return c
}
