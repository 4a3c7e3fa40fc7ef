package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// EMA returns the exponential moving average of values over period with
// alpha = 2/(period+1). Leading NaNs are skipped; the first defined value is
// the SMA of the first period defined values. A NaN after seeding yields NaN
// for that entry and leaves the running average untouched.
func EMA(values []float64, period int) []float64 {
	out := nan(len(values))
	if period <= 0 {
		return out
	}

	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}

	seedEnd := start + period - 1
	if seedEnd >= len(values) {
		return out
	}

	var sum float64

	for _, v := range values[start : seedEnd+1] {
		if math.IsNaN(v) {
			return out
		}

		sum += v
	}

	alpha := 2.0 / float64(period+1)
	prev := sum / float64(period)
	out[seedEnd] = prev

	for i := seedEnd + 1; i < len(values); i++ {
		v := values[i]
		if math.IsNaN(v) {
			continue
		}

		prev = alpha*v + (1-alpha)*prev
		out[i] = prev
	}

	return out
}

// ExponentialMovingAverage writes ema_N for every fixed window.
type ExponentialMovingAverage struct {
	windows []int
}

// NewExponentialMovingAverage creates the EMA feature over the given windows.
func NewExponentialMovingAverage(windows ...int) Indicator {
	if len(windows) == 0 {
		windows = types.MovingAverageWindows
	}

	return &ExponentialMovingAverage{windows: windows}
}

// Name returns the name of the indicator.
func (e *ExponentialMovingAverage) Name() string {
	return "ema"
}

// Columns returns the ema_N columns.
func (e *ExponentialMovingAverage) Columns() []types.Column {
	cols := make([]types.Column, 0, len(e.windows))
	for _, n := range e.windows {
		cols = append(cols, types.EMAColumn(n))
	}

	return cols
}

// Lookback returns the largest window.
func (e *ExponentialMovingAverage) Lookback() int {
	return maxInt(e.windows)
}

// Compute writes the latest EMA values.
func (e *ExponentialMovingAverage) Compute(w *Window, out map[types.Column]float64) {
	closes := w.Closes()
	for _, n := range e.windows {
		out[types.EMAColumn(n)] = last(EMA(closes, n))
	}
}
