package stats_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vitals/internal/stats"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"four values", []float64{100, 200, 300, 400}, 0.75, 375},
		{"unsorted input", []float64{400, 100, 300, 200}, 0.75, 375},
		{"single value", []float64{42}, 0.75, 42},
		{"two values clamps to max", []float64{1, 2}, 0.75, 2},
		{"low rank clamps to min", []float64{10, 20, 30}, 0.1, 10},
		{"median of odd count", []float64{3, 1, 2}, 0.5, 2},
		{"duplicates", []float64{5, 5, 5, 5, 5}, 0.75, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := stats.Percentile(tt.values, tt.p)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPercentile_Empty(t *testing.T) {
	_, ok := stats.P75(nil)
	assert.False(t, ok)
}

func TestPercentile_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	_, _ = stats.P75(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestP75_UniformSpread(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = 1000 + float64(i)*2000/99
	}
	got, ok := stats.P75(values)
	require.True(t, ok)
	assert.InDelta(t, 2510.1, math.Round(got*10)/10, 0.05)
}

func TestRing_PushAndWrap(t *testing.T) {
	r := stats.NewRing[int](3)
	assert.Equal(t, 3, r.Cap())
	assert.Empty(t, r.Items())

	_, ok := r.Last()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestRing_ReplaceLast(t *testing.T) {
	r := stats.NewRing[string](2)
	r.ReplaceLast("a")
	assert.Equal(t, []string{"a"}, r.Items())

	r.Push("b")
	r.ReplaceLast("c")
	assert.Equal(t, []string{"a", "c"}, r.Items())

	r.Push("d")
	r.ReplaceLast("e")
	assert.Equal(t, []string{"c", "e"}, r.Items())
}

func TestRing_ItemsIsACopy(t *testing.T) {
	r := stats.NewRing[int](2)
	r.Push(1)
	items := r.Items()
	items[0] = 99
	assert.Equal(t, []int{1}, r.Items())
}

func TestNewRing_MinimumCapacity(t *testing.T) {
	r := stats.NewRing[int](0)
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.Items())
}
