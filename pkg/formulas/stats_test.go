package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	assert.InDelta(t, 4.0, SMA(values, 3), 1e-9)
	assert.InDelta(t, 3.0, SMA(values, 5), 1e-9)
	assert.True(t, math.IsNaN(SMA(values, 6)), "not enough data")
	assert.True(t, math.IsNaN(SMA(values, 0)))
}

func TestStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	// Known population stdev of this series is exactly 2.
	assert.InDelta(t, 2.0, StdDev(values, 8), 1e-9)
	assert.True(t, math.IsNaN(StdDev(values, 1)))
	assert.True(t, math.IsNaN(StdDev(values[:1], 2)))
}

func TestMomentum(t *testing.T) {
	values := []float64{100, 101, 102, 110}

	assert.InDelta(t, 0.10, Momentum(values, 3), 1e-9)
	assert.True(t, math.IsNaN(Momentum(values, 4)), "lookback beyond history")
	assert.True(t, math.IsNaN(Momentum([]float64{0, 5}, 1)), "zero base")
}

func TestMaxDrawdown(t *testing.T) {
	flat := []float64{100, 100, 100}
	assert.Equal(t, 0.0, MaxDrawdown(flat))

	curve := []float64{100, 120, 90, 110, 80}
	// Peak 120, trough 80.
	assert.InDelta(t, (120.0-80.0)/120.0, MaxDrawdown(curve), 1e-9)

	rising := []float64{50, 60, 70}
	assert.Equal(t, 0.0, MaxDrawdown(rising))
}

func TestSharpeLike(t *testing.T) {
	assert.Equal(t, 0.0, SharpeLike([]float64{0.01}, 252), "too short")
	assert.Equal(t, 0.0, SharpeLike([]float64{0.01, 0.01, 0.01}, 252), "zero deviation")

	up := []float64{0.01, 0.02, 0.015, 0.012}
	down := make([]float64, len(up))
	for i, r := range up {
		down[i] = -r
	}
	assert.Positive(t, SharpeLike(up, 252))
	assert.InDelta(t, -SharpeLike(up, 252), SharpeLike(down, 252), 1e-9)
}
