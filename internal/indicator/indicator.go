package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// Indicator computes one group of feature columns from a rolling window of bars.
// Compute writes the value for the newest bar of the window into out; columns
// whose lookback is not yet satisfied are written as NaN.
type Indicator interface {
	// Name returns the registry key of the indicator.
	Name() string
	// Columns returns the feature columns the indicator writes.
	Columns() []types.Column
	// Lookback returns the number of bars needed before every column is defined.
	Lookback() int
	// Compute writes the latest values into out.
	Compute(w *Window, out map[types.Column]float64)
}

// nan returns a slice of n NaN values.
func nan(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	return out
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}

	return values[len(values)-1]
}
