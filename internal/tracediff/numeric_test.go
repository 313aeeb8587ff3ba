package tracediff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeDiff(t *testing.T) {
	a := []float64{0, 1, 2, 3}
	b := []float64{0, 1.5, 2, 1}

	d := summarizeDiff(a, b)
	assert.Equal(t, 2.0, d.MaxAbs)
	assert.InDelta(t, (0+0.5+0+2)/4.0, d.MAE, 1e-12)
	assert.GreaterOrEqual(t, d.P99, d.MAE)
	assert.LessOrEqual(t, d.P99, d.MaxAbs)
}

func TestSummarizeDiff_Identical(t *testing.T) {
	a := []float64{1, 2, 3}
	d := summarizeDiff(a, a)
	assert.Zero(t, d.MaxAbs)
	assert.Zero(t, d.MAE)
	assert.Zero(t, d.P99)
}

func TestSummarizeDiff_Empty(t *testing.T) {
	assert.Equal(t, DiffSummary{}, summarizeDiff(nil, nil))
}

func TestSummarizeDiff_NaNIsDrift(t *testing.T) {
	// NaN against a number has no finite magnitude but is still drift.
	d := summarizeDiff([]float64{0.5, math.NaN(), 0.25}, []float64{0.5, 1.0, 0.25})
	assert.True(t, d.Diverged())
	assert.Equal(t, 1, d.NonFinite)
	// Finite statistics stay finite so the report remains serialisable.
	assert.False(t, math.IsNaN(d.MAE))
	assert.False(t, math.IsNaN(d.P99))
	assert.Zero(t, d.MaxAbs)
}

func TestSummarizeDiff_NaNBothSides(t *testing.T) {
	// NaN minus NaN is NaN; without a hash match there is no proof the
	// payloads agree, so this still counts as drift.
	d := summarizeDiff([]float64{math.NaN()}, []float64{math.NaN()})
	assert.True(t, d.Diverged())
	assert.Equal(t, 1, d.NonFinite)
}

func TestSummarizeDiff_InfIsDrift(t *testing.T) {
	d := summarizeDiff([]float64{math.Inf(1), 2}, []float64{1, 2})
	assert.True(t, d.Diverged())
	assert.Equal(t, 1, d.NonFinite)
	assert.Zero(t, d.MaxAbs)
}

func TestSummarizeDiff_SingleULP(t *testing.T) {
	// A one-bit float32 difference must register as drift.
	x := float32(1.0)
	y := math.Nextafter32(x, 2)
	d := summarizeDiff([]float64{float64(x)}, []float64{float64(y)})
	assert.Greater(t, d.MaxAbs, 0.0)
}
