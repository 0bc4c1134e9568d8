package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
)

func tickAt(ts time.Time, price, volDelta float64) (domain.Tick, float64) {
	return domain.Tick{
		Symbol:    "ACME",
		Price:     price,
		Timestamp: ts.UnixMilli(),
	}, volDelta
}

func TestAggregatorFoldsWithinInterval(t *testing.T) {
	agg := newAggregator()
	base := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	closed := agg.Apply(tickAt(base, 100, 10))
	assert.Empty(t, closed)
	closed = agg.Apply(tickAt(base.Add(20*time.Second), 104, 5))
	assert.Empty(t, closed)
	closed = agg.Apply(tickAt(base.Add(40*time.Second), 98, 5))
	assert.Empty(t, closed, "no rollover inside the minute")

	c, ok := agg.Current("ACME", "1m")
	require.True(t, ok)
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 104.0, c.High)
	assert.Equal(t, 98.0, c.Low)
	assert.Equal(t, 98.0, c.Close)
	assert.Equal(t, 20.0, c.Volume)
	assert.Equal(t, base.UnixMilli(), c.OpenTime, "open time is boundary-aligned")
}

func TestAggregatorRollover(t *testing.T) {
	agg := newAggregator()
	base := time.Date(2025, 6, 2, 14, 0, 30, 0, time.UTC)

	agg.Apply(tickAt(base, 100, 1))
	closed := agg.Apply(tickAt(base.Add(time.Minute), 101, 1))

	// The 1m candle closes; 5m and longer intervals are still open.
	require.Len(t, closed, 1)
	assert.Equal(t, "1m", closed[0].Interval)
	assert.Equal(t, 100.0, closed[0].Close)

	// Crossing a 5m boundary closes both 1m and 5m.
	closed = agg.Apply(tickAt(base.Add(5*time.Minute), 102, 1))
	intervals := make([]string, 0, len(closed))
	for _, c := range closed {
		intervals = append(intervals, c.Interval)
	}
	assert.Contains(t, intervals, "1m")
	assert.Contains(t, intervals, "5m")
	assert.NotContains(t, intervals, "1h")
}

func TestAggregatorCurrentReturnsCopy(t *testing.T) {
	agg := newAggregator()
	base := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	agg.Apply(tickAt(base, 100, 1))

	c, ok := agg.Current("ACME", "1m")
	require.True(t, ok)
	c.Close = -1

	again, _ := agg.Current("ACME", "1m")
	assert.Equal(t, 100.0, again.Close, "mutating the copy must not touch the aggregate")

	_, ok = agg.Current("OTHER", "1m")
	assert.False(t, ok)
}

func TestValidInterval(t *testing.T) {
	for _, interval := range Intervals {
		assert.True(t, ValidInterval(interval))
	}
	assert.False(t, ValidInterval("2m"))
	assert.False(t, ValidInterval(""))
}

func TestAlignOpenTime(t *testing.T) {
	ts := time.Date(2025, 6, 2, 14, 7, 42, 0, time.UTC).UnixMilli()
	assert.Equal(t, time.Date(2025, 6, 2, 14, 7, 0, 0, time.UTC).UnixMilli(), alignOpenTime(ts, "1m"))
	assert.Equal(t, time.Date(2025, 6, 2, 14, 5, 0, 0, time.UTC).UnixMilli(), alignOpenTime(ts, "5m"))
	assert.Equal(t, time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC).UnixMilli(), alignOpenTime(ts, "1h"))
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC).UnixMilli(), alignOpenTime(ts, "1d"))
}
