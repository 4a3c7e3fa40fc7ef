package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// TrueRange returns the true range series. The first entry has no previous
// close and is NaN.
func TrueRange(highs, lows, closes []float64) []float64 {
	out := nan(len(closes))
	for i := 1; i < len(closes); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}

	return out
}

// wilder smooths values with Wilder's method. The seed is the mean of the
// first period values starting at from; entries before the seed are NaN.
func wilder(values []float64, period, from int) []float64 {
	out := nan(len(values))

	seedEnd := from + period - 1
	if period <= 0 || seedEnd >= len(values) {
		return out
	}

	var sum float64

	for _, v := range values[from : seedEnd+1] {
		if math.IsNaN(v) {
			return out
		}

		sum += v
	}

	p := float64(period)
	prev := sum / p
	out[seedEnd] = prev

	for i := seedEnd + 1; i < len(values); i++ {
		if math.IsNaN(values[i]) {
			continue
		}

		prev = (prev*(p-1) + values[i]) / p
		out[i] = prev
	}

	return out
}

// ATRSeries returns the Wilder average true range.
func ATRSeries(highs, lows, closes []float64, period int) []float64 {
	return wilder(TrueRange(highs, lows, closes), period, 1)
}

// ATR writes atr_14.
type ATR struct {
	period int
}

// NewATR creates an ATR indicator with period 14.
func NewATR() Indicator {
	return &ATR{period: 14}
}

// Name returns the name of the indicator.
func (a *ATR) Name() string {
	return "atr"
}

// Columns returns the ATR column.
func (a *ATR) Columns() []types.Column {
	return []types.Column{types.ColumnATR14}
}

// Lookback returns the bars needed for the first ATR value.
func (a *ATR) Lookback() int {
	return a.period + 1
}

// Compute writes the latest ATR value.
func (a *ATR) Compute(w *Window, out map[types.Column]float64) {
	out[types.ColumnATR14] = last(ATRSeries(w.Highs(), w.Lows(), w.Closes(), a.period))
}
