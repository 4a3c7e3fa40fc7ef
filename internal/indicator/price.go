package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// Price copies the raw bar fields into the feature map.
type Price struct{}

// NewPrice creates the raw price feature.
func NewPrice() Indicator {
	return &Price{}
}

// Name returns the name of the indicator.
func (p *Price) Name() string {
	return "price"
}

// Columns returns the raw bar columns.
func (p *Price) Columns() []types.Column {
	return []types.Column{
		types.ColumnOpen, types.ColumnHigh, types.ColumnLow, types.ColumnClose,
		types.ColumnVolume, types.ColumnVWAP, types.ColumnTradeCount,
	}
}

// Lookback returns 1.
func (p *Price) Lookback() int {
	return 1
}

// Compute writes the raw fields of the newest bar.
func (p *Price) Compute(w *Window, out map[types.Column]float64) {
	bar, ok := w.Latest()
	if !ok {
		for _, c := range p.Columns() {
			out[c] = math.NaN()
		}

		return
	}

	out[types.ColumnOpen] = bar.Open
	out[types.ColumnHigh] = bar.High
	out[types.ColumnLow] = bar.Low
	out[types.ColumnClose] = bar.Close
	out[types.ColumnVolume] = bar.Volume
	out[types.ColumnVWAP] = bar.VWAP
	out[types.ColumnTradeCount] = float64(bar.TradeCount)
}
