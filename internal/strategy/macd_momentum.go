package strategy

import (
	"fmt"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// MACDMomentumName is the catalog tag of MACDMomentum.
const MACDMomentumName = "macd_momentum"

// MACDMomentumParams configures MACDMomentum.
type MACDMomentumParams struct {
	// MinHistogram is the histogram magnitude a cross must reach to count.
	MinHistogram float64 `mapstructure:"min_histogram" json:"min_histogram" validate:"gte=0"`
}

// MACDMomentum buys when the MACD line crosses above its signal line and
// closes on the opposite cross.
type MACDMomentum struct {
	params MACDMomentumParams
	hash   string
}

// NewMACDMomentum decodes params into a MACDMomentum.
func NewMACDMomentum(params map[string]any) (SignalStrategy, error) {
	p := MACDMomentumParams{MinHistogram: 0}
	if err := decodeParams(MACDMomentumName, params, &p); err != nil {
		return nil, err
	}

	return &MACDMomentum{params: p, hash: hashID(MACDMomentumName, p)}, nil
}

// Name returns the catalog tag.
func (m *MACDMomentum) Name() string {
	return MACDMomentumName
}

// RequiredColumns returns the MACD columns.
func (m *MACDMomentum) RequiredColumns() []types.Column {
	return []types.Column{types.ColumnMACD, types.ColumnMACDSignal, types.ColumnMACDHist}
}

// GenerateSignals follows the sign changes of the MACD histogram.
func (m *MACDMomentum) GenerateSignals(bars []types.EnrichedBar) ([]types.Signal, error) {
	cols := m.RequiredColumns()

	return signalsOf(bars, m.hash, func(i int) types.Signal {
		if i == 0 || !bars[i].Ready(cols...) || !bars[i-1].Ready(cols...) {
			return hold(0)
		}

		hist := bars[i].Value(types.ColumnMACDHist)
		if hist > -m.params.MinHistogram && hist < m.params.MinHistogram {
			return hold(0)
		}

		switch crossed(
			bars[i-1].Value(types.ColumnMACD), bars[i-1].Value(types.ColumnMACDSignal),
			bars[i].Value(types.ColumnMACD), bars[i].Value(types.ColumnMACDSignal),
		) {
		case 1:
			return entry(1)
		case -1:
			return exit(-1)
		default:
			return hold(0)
		}
	}), nil
}

// Description returns a summary of the strategy.
func (m *MACDMomentum) Description() string {
	return fmt.Sprintf("MACD momentum (12/26/9, min_histogram=%.4f)", m.params.MinHistogram)
}

// HashID returns the variant hash.
func (m *MACDMomentum) HashID() string {
	return m.hash
}
