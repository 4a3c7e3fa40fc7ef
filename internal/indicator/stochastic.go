package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// StochasticSeries returns %K over kPeriod and %D, the SMA of %K over dPeriod.
// A flat range (highest high equals lowest low) yields 50.
func StochasticSeries(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d []float64) {
	k = nan(len(closes))

	for i := kPeriod - 1; i < len(closes) && kPeriod > 0; i++ {
		hh, ll := math.Inf(-1), math.Inf(1)

		for j := i - kPeriod + 1; j <= i; j++ {
			hh = math.Max(hh, highs[j])
			ll = math.Min(ll, lows[j])
		}

		switch {
		case math.IsNaN(hh) || math.IsNaN(ll) || math.IsNaN(closes[i]):
		case hh == ll:
			k[i] = 50
		default:
			k[i] = 100 * (closes[i] - ll) / (hh - ll)
		}
	}

	return k, SMA(k, dPeriod)
}

// Stochastic writes stoch_k and stoch_d.
type Stochastic struct {
	kPeriod int
	dPeriod int
}

// NewStochastic creates a 14/3 stochastic oscillator.
func NewStochastic() Indicator {
	return &Stochastic{kPeriod: 14, dPeriod: 3}
}

// Name returns the name of the indicator.
func (s *Stochastic) Name() string {
	return "stochastic"
}

// Columns returns the stochastic columns.
func (s *Stochastic) Columns() []types.Column {
	return []types.Column{types.ColumnStochK, types.ColumnStochD}
}

// Lookback returns the bars needed for %D.
func (s *Stochastic) Lookback() int {
	return s.kPeriod + s.dPeriod - 1
}

// Compute writes the latest %K and %D.
func (s *Stochastic) Compute(w *Window, out map[types.Column]float64) {
	k, d := StochasticSeries(w.Highs(), w.Lows(), w.Closes(), s.kPeriod, s.dPeriod)
	out[types.ColumnStochK] = last(k)
	out[types.ColumnStochD] = last(d)
}
