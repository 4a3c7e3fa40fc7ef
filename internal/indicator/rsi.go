package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// RSISeries returns the Wilder relative strength index. The first value is
// defined at index period, seeded with the simple average of the first period
// gains and losses.
func RSISeries(closes []float64, period int) []float64 {
	out := nan(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64

	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if math.IsNaN(change) {
			return out
		}

		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}

	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if math.IsNaN(change) {
			continue
		}

		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}

	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}

		return 100
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs)
}

// RSI writes rsi_14.
type RSI struct {
	period int
}

// NewRSI creates an RSI indicator with period 14.
func NewRSI() Indicator {
	return &RSI{period: 14}
}

// Name returns the name of the indicator.
func (r *RSI) Name() string {
	return "rsi"
}

// Columns returns the RSI column.
func (r *RSI) Columns() []types.Column {
	return []types.Column{types.ColumnRSI14}
}

// Lookback returns the bars needed for the first RSI value.
func (r *RSI) Lookback() int {
	return r.period + 1
}

// Compute writes the latest RSI value.
func (r *RSI) Compute(w *Window, out map[types.Column]float64) {
	out[types.ColumnRSI14] = last(RSISeries(w.Closes(), r.period))
}
