package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// StdDev returns the rolling sample standard deviation over period.
func StdDev(values []float64, period int) []float64 {
	out := nan(len(values))
	if period < 2 || len(values) < period {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		out[i] = sampleStdDev(values[i-period+1 : i+1])
	}

	return out
}

func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}

	var mean float64

	for _, v := range values {
		if math.IsNaN(v) {
			return math.NaN()
		}

		mean += v
	}

	mean /= float64(len(values))

	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}

	return math.Sqrt(ss / float64(len(values)-1))
}

// BollingerBands writes bb_upper, bb_middle and bb_lower.
type BollingerBands struct {
	period       int
	stdDevFactor float64
}

// NewBollingerBands creates Bollinger bands over 20 bars at ±2 standard deviations.
func NewBollingerBands() Indicator {
	return &BollingerBands{
		period:       20,
		stdDevFactor: 2,
	}
}

// Name returns the name of the indicator.
func (bb *BollingerBands) Name() string {
	return "bollinger_bands"
}

// Columns returns the band columns.
func (bb *BollingerBands) Columns() []types.Column {
	return []types.Column{types.ColumnBBUpper, types.ColumnBBMiddle, types.ColumnBBLower}
}

// Lookback returns the band period.
func (bb *BollingerBands) Lookback() int {
	return bb.period
}

// Compute writes the latest band values.
func (bb *BollingerBands) Compute(w *Window, out map[types.Column]float64) {
	upper, middle, lower := bb.bands(w.Closes())
	out[types.ColumnBBUpper] = upper
	out[types.ColumnBBMiddle] = middle
	out[types.ColumnBBLower] = lower
}

func (bb *BollingerBands) bands(closes []float64) (upper, middle, lower float64) {
	if len(closes) < bb.period {
		return math.NaN(), math.NaN(), math.NaN()
	}

	tail := closes[len(closes)-bb.period:]
	middle = smaLast(tail, bb.period)
	sd := sampleStdDev(tail)

	return middle + bb.stdDevFactor*sd, middle, middle - bb.stdDevFactor*sd
}
