package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// SMA returns the simple moving average of values over period. Entries before
// the window is full, or whose window contains a NaN, are NaN.
func SMA(values []float64, period int) []float64 {
	out := nan(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	var (
		sum  float64
		nans int
	)

	for i, v := range values {
		if math.IsNaN(v) {
			nans++
		} else {
			sum += v
		}

		if i >= period {
			old := values[i-period]
			if math.IsNaN(old) {
				nans--
			} else {
				sum -= old
			}
		}

		if i >= period-1 && nans == 0 {
			out[i] = sum / float64(period)
		}
	}

	return out
}

// MovingAverage writes sma_N for every fixed window.
type MovingAverage struct {
	windows []int
}

// NewMovingAverage creates the SMA feature over the given windows.
func NewMovingAverage(windows ...int) Indicator {
	if len(windows) == 0 {
		windows = types.MovingAverageWindows
	}

	return &MovingAverage{windows: windows}
}

// Name returns the name of the indicator.
func (m *MovingAverage) Name() string {
	return "sma"
}

// Columns returns the sma_N columns.
func (m *MovingAverage) Columns() []types.Column {
	cols := make([]types.Column, 0, len(m.windows))
	for _, n := range m.windows {
		cols = append(cols, types.SMAColumn(n))
	}

	return cols
}

// Lookback returns the largest window.
func (m *MovingAverage) Lookback() int {
	return maxInt(m.windows)
}

// Compute writes the latest SMA values.
func (m *MovingAverage) Compute(w *Window, out map[types.Column]float64) {
	closes := w.Closes()
	for _, n := range m.windows {
		out[types.SMAColumn(n)] = smaLast(closes, n)
	}
}

// smaLast is the final element of SMA without building the full series.
func smaLast(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}

	var sum float64

	for _, v := range values[len(values)-period:] {
		if math.IsNaN(v) {
			return math.NaN()
		}

		sum += v
	}

	return sum / float64(period)
}

func maxInt(values []int) int {
	m := 0
	for _, v := range values {
		if v > m {
			m = v
		}
	}

	return m
}
