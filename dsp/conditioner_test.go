package dsp

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmoothSeedsWithFirstValue(t *testing.T) {
	c := NewConditioner()
	assert.Equal(t, []float64{4}, c.Smooth(ChannelAcc, 0.5, []float64{4}))
	assert.Equal(t, []float64{3}, c.Smooth(ChannelAcc, 0.5, []float64{2}))
}

func TestSmoothZeroMemoryPassesThrough(t *testing.T) {
	c := NewConditioner()
	assert.Equal(t, []float64{1, 2}, c.Smooth("x", 0, []float64{1, 2}))
	assert.Equal(t, []float64{7, 9}, c.Smooth("x", 0, []float64{7, 9}))
	assert.Empty(t, c.heavy)
}

func TestSmoothConvergesMonotonically(t *testing.T) {
	for _, m := range []float64{0.1, 0.5, 0.9, 0.99} {
		c := NewConditioner()
		c.Smooth("acc", m, []float64{0})

		prevGap := 10.0
		for i := 0; i < 500; i++ {
			got := c.Smooth("acc", m, []float64{10})[0]
			gap := 10 - got
			require.GreaterOrEqual(t, gap, -1e-9, "overshoot with m=%v", m)
			require.LessOrEqual(t, gap, prevGap+1e-12, "non-monotonic with m=%v", m)
			prevGap = gap
		}
		assert.InDelta(t, 10, c.Smooth("acc", m, []float64{10})[0], 0.1, "m=%v", m)
	}
}

func TestSmoothChannelsAreIndependent(t *testing.T) {
	c := NewConditioner()
	c.Smooth("a", 0.5, []float64{10})
	assert.Equal(t, []float64{-2}, c.Smooth("b", 0.5, []float64{-2}))

	c.Reset()
	assert.Equal(t, []float64{0}, c.Smooth("a", 0.5, []float64{0}))
}

func TestDerivative(t *testing.T) {
	c := NewConditioner()
	assert.Equal(t, []float64{0, 0}, c.Derivative("d", []float64{3, 5}))
	assert.Equal(t, []float64{1, -5}, c.Derivative("d", []float64{4, 0}))
	assert.Equal(t, []float64{-4, 2}, c.Derivative("d", []float64{0, 2}))
}

func TestGroupAverage(t *testing.T) {
	tests := []struct {
		name  string
		in    []float64
		group int
		abs   bool
		want  []float64
	}{
		{"identity", []float64{1, -2, 3}, 1, true, []float64{1, -2, 3}},
		{"zero group", []float64{1, 2}, 0, false, []float64{1, 2}},
		{"pairs", []float64{1, 3, 5, 7}, 2, false, []float64{2, 6}},
		{"absolute", []float64{-1, -3, 5, -7}, 2, true, []float64{2, 6}},
		{"partial run dropped", []float64{2, 4, 6, 8, 100}, 2, false, []float64{3, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, GroupAverage(tt.in, tt.group, tt.abs)); diff != "" {
				t.Errorf("GroupAverage() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{0.25, -0.25, 0.5}, Normalize([]float64{1, -1, 2}))
	assert.Equal(t, []float64{0, 0}, Normalize([]float64{0, 0}))
	assert.Empty(t, Normalize(nil))
}

func TestDistanceAndSimilarity(t *testing.T) {
	assert.Equal(t, 4.0, Distance([]float64{1, 2}, []float64{3, 0}))
	assert.True(t, math.IsInf(Distance([]float64{1}, []float64{1, 2}), 1))

	assert.InDelta(t, 1.0, Similarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	assert.InDelta(t, 0.0, Similarity([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.Equal(t, 0.0, Similarity([]float64{1}, []float64{1, 1}))
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.5, Mean([]float64{1, 2, 3, 4}))
}
