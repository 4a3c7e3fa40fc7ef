package indicator

import (
	"github.com/rxtech-lab/argo-live/internal/types"
)

// MACDSeries returns the MACD line (fast EMA − slow EMA), its signal line
// (EMA of the MACD line) and the histogram.
func MACDSeries(closes []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	macd = nan(len(closes))
	for i := range closes {
		macd[i] = fastEMA[i] - slowEMA[i]
	}

	sig = EMA(macd, signal)

	hist = nan(len(closes))
	for i := range closes {
		hist[i] = macd[i] - sig[i]
	}

	return macd, sig, hist
}

// MACD writes macd, macd_signal and macd_hist.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// NewMACD creates a MACD indicator with the 12/26/9 periods.
func NewMACD() Indicator {
	return &MACD{
		fastPeriod:   12,
		slowPeriod:   26,
		signalPeriod: 9,
	}
}

// Name returns the name of the indicator.
func (m *MACD) Name() string {
	return "macd"
}

// Columns returns the MACD columns.
func (m *MACD) Columns() []types.Column {
	return []types.Column{types.ColumnMACD, types.ColumnMACDSignal, types.ColumnMACDHist}
}

// Lookback returns the bars needed for the signal line.
func (m *MACD) Lookback() int {
	return m.slowPeriod + m.signalPeriod - 1
}

// Compute writes the latest MACD values.
func (m *MACD) Compute(w *Window, out map[types.Column]float64) {
	macd, sig, hist := MACDSeries(w.Closes(), m.fastPeriod, m.slowPeriod, m.signalPeriod)
	out[types.ColumnMACD] = last(macd)
	out[types.ColumnMACDSignal] = last(sig)
	out[types.ColumnMACDHist] = last(hist)
}
