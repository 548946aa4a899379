// Package stats provides the small numeric helpers the aggregator needs: an
// interpolated percentile and a fixed-capacity ring buffer for history.
package stats

import (
	"math"
	"slices"
)

// Percentile returns the p-th percentile (0 < p < 1) of values using the
// exclusive linear-interpolation rule: rank h = p*(n+1), 1-based. Ranks at or
// below 1 return the minimum and ranks at or above n return the maximum.
// The input is not modified. Empty input returns false.
//
// For [100, 200, 300, 400] the p75 is 375.
func Percentile(values []float64, p float64) (float64, bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	h := p * float64(n+1)
	switch {
	case h <= 1:
		return sorted[0], true
	case h >= float64(n):
		return sorted[n-1], true
	}
	lo := math.Floor(h)
	i := int(lo) - 1
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i]), true
}

// P75 is Percentile(values, 0.75).
func P75(values []float64) (float64, bool) {
	return Percentile(values, 0.75)
}
