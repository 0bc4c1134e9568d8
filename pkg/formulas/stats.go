// Package formulas provides small statistical helpers shared by the
// strategy handlers and the backtester.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SMA returns the simple moving average of the last period values.
// Returns NaN when there is not enough data.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}
	window := values[len(values)-period:]
	return stat.Mean(window, nil)
}

// StdDev returns the population standard deviation of the last period values.
func StdDev(values []float64, period int) float64 {
	if period <= 1 || len(values) < period {
		return math.NaN()
	}
	window := values[len(values)-period:]
	mean := stat.Mean(window, nil)
	var sum float64
	for _, v := range window {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(window)))
}

// Momentum returns (last - lookback-ago) / lookback-ago.
func Momentum(values []float64, lookback int) float64 {
	if lookback <= 0 || len(values) <= lookback {
		return math.NaN()
	}
	prev := values[len(values)-1-lookback]
	if prev == 0 {
		return math.NaN()
	}
	return (values[len(values)-1] - prev) / prev
}

// MaxDrawdown returns the largest peak-to-trough decline of an equity
// curve, as a positive fraction.
func MaxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// SharpeLike returns mean(returns)/stdev(returns) * sqrt(annualisation).
// Returns 0 when the deviation is degenerate.
func SharpeLike(returns []float64, annualisation float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(annualisation)
}
