package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// Returns returns simple one-bar returns; the first entry is NaN.
func Returns(closes []float64) []float64 {
	out := nan(len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			out[i] = closes[i]/closes[i-1] - 1
		}
	}

	return out
}

// LogReturns returns one-bar log returns; the first entry is NaN.
func LogReturns(closes []float64) []float64 {
	out := nan(len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			out[i] = math.Log(closes[i] / closes[i-1])
		}
	}

	return out
}

// ReturnFeatures writes return_1, log_return_1 and volatility_20, the sample
// standard deviation of the last 20 log returns.
type ReturnFeatures struct {
	volatilityPeriod int
}

// NewReturnFeatures creates the return and volatility feature.
func NewReturnFeatures() Indicator {
	return &ReturnFeatures{volatilityPeriod: 20}
}

// Name returns the name of the indicator.
func (r *ReturnFeatures) Name() string {
	return "returns"
}

// Columns returns the return columns.
func (r *ReturnFeatures) Columns() []types.Column {
	return []types.Column{types.ColumnReturn1, types.ColumnLogReturn1, types.ColumnVolatility}
}

// Lookback returns the bars needed for the volatility column.
func (r *ReturnFeatures) Lookback() int {
	return r.volatilityPeriod + 1
}

// Compute writes the latest return values.
func (r *ReturnFeatures) Compute(w *Window, out map[types.Column]float64) {
	closes := w.Closes()
	if len(closes) > r.volatilityPeriod+1 {
		closes = closes[len(closes)-r.volatilityPeriod-1:]
	}

	logs := LogReturns(closes)
	out[types.ColumnReturn1] = last(Returns(closes))
	out[types.ColumnLogReturn1] = last(logs)
	out[types.ColumnVolatility] = last(StdDev(logs, r.volatilityPeriod))
}
