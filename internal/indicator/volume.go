package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// Cumulative writes obv and adl. Both accumulate from the first bar of the
// session held by the window, not just the bars currently in the buffer.
type Cumulative struct{}

// NewCumulative creates the OBV/ADL feature.
func NewCumulative() Indicator {
	return &Cumulative{}
}

// Name returns the name of the indicator.
func (c *Cumulative) Name() string {
	return "cumulative_volume"
}

// Columns returns the OBV and ADL columns.
func (c *Cumulative) Columns() []types.Column {
	return []types.Column{types.ColumnOBV, types.ColumnADL}
}

// Lookback returns 1; both values are defined from the first bar.
func (c *Cumulative) Lookback() int {
	return 1
}

// Compute writes the running OBV and ADL.
func (c *Cumulative) Compute(w *Window, out map[types.Column]float64) {
	if w.Len() == 0 {
		out[types.ColumnOBV] = math.NaN()
		out[types.ColumnADL] = math.NaN()

		return
	}

	out[types.ColumnOBV] = w.OBV()
	out[types.ColumnADL] = w.ADL()
}

// RollingVWAP returns the volume-weighted average price over period bars.
// Each bar contributes its own VWAP when reported, otherwise its typical
// price (high+low+close)/3. Zero volume over the window yields NaN.
func RollingVWAP(bars []types.Bar, period int) []float64 {
	out := nan(len(bars))
	if period <= 0 {
		return out
	}

	for i := period - 1; i < len(bars); i++ {
		var pv, vol float64

		for _, b := range bars[i-period+1 : i+1] {
			price := b.VWAP
			if price <= 0 {
				price = (b.High + b.Low + b.Close) / 3
			}

			pv += price * b.Volume
			vol += b.Volume
		}

		if vol > 0 {
			out[i] = pv / vol
		}
	}

	return out
}

// VWAP writes vwap_rolling.
type VWAP struct {
	period int
}

// NewVWAP creates a rolling VWAP over 20 bars.
func NewVWAP() Indicator {
	return &VWAP{period: 20}
}

// Name returns the name of the indicator.
func (v *VWAP) Name() string {
	return "vwap_rolling"
}

// Columns returns the rolling VWAP column.
func (v *VWAP) Columns() []types.Column {
	return []types.Column{types.ColumnRollingVWAP}
}

// Lookback returns the VWAP period.
func (v *VWAP) Lookback() int {
	return v.period
}

// Compute writes the latest rolling VWAP.
func (v *VWAP) Compute(w *Window, out map[types.Column]float64) {
	bars := w.Bars()
	if len(bars) > v.period {
		bars = bars[len(bars)-v.period:]
	}

	out[types.ColumnRollingVWAP] = last(RollingVWAP(bars, v.period))
}
