package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// ADXSeries returns the Wilder average directional index together with the
// +DI and −DI lines. DI values are defined from index period, ADX from index
// 2*period-1.
func ADXSeries(highs, lows, closes []float64, period int) (adx, plusDI, minusDI []float64) {
	n := len(closes)
	adx, plusDI, minusDI = nan(n), nan(n), nan(n)

	if period <= 0 || n <= period {
		return adx, plusDI, minusDI
	}

	tr := TrueRange(highs, lows, closes)
	plusDM, minusDM := nan(n), nan(n)

	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]

		plusDM[i], minusDM[i] = 0, 0
		if up > down && up > 0 {
			plusDM[i] = up
		}

		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	str := wilder(tr, period, 1)
	spdm := wilder(plusDM, period, 1)
	smdm := wilder(minusDM, period, 1)

	dx := nan(n)

	for i := period; i < n; i++ {
		if math.IsNaN(str[i]) || str[i] == 0 {
			continue
		}

		plusDI[i] = 100 * spdm[i] / str[i]
		minusDI[i] = 100 * smdm[i] / str[i]

		sum := plusDI[i] + minusDI[i]
		if sum == 0 {
			dx[i] = 0
		} else {
			dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / sum
		}
	}

	adx = wilder(dx, period, period)

	return adx, plusDI, minusDI
}

// ADX writes adx_14, plus_di and minus_di.
type ADX struct {
	period int
}

// NewADX creates an ADX indicator with period 14.
func NewADX() Indicator {
	return &ADX{period: 14}
}

// Name returns the name of the indicator.
func (a *ADX) Name() string {
	return "adx"
}

// Columns returns the ADX columns.
func (a *ADX) Columns() []types.Column {
	return []types.Column{types.ColumnADX14, types.ColumnPlusDI, types.ColumnMinusDI}
}

// Lookback returns the bars needed for the first ADX value.
func (a *ADX) Lookback() int {
	return 2 * a.period
}

// Compute writes the latest ADX and DI values.
func (a *ADX) Compute(w *Window, out map[types.Column]float64) {
	adx, plus, minus := ADXSeries(w.Highs(), w.Lows(), w.Closes(), a.period)
	out[types.ColumnADX14] = last(adx)
	out[types.ColumnPlusDI] = last(plus)
	out[types.ColumnMinusDI] = last(minus)
}
