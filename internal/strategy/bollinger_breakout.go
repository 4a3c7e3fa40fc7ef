package strategy

import (
	"fmt"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// BollingerBreakoutName is the catalog tag of BollingerBreakout.
const BollingerBreakoutName = "bollinger_breakout"

// BollingerBreakoutParams configures BollingerBreakout.
type BollingerBreakoutParams struct {
	// ExitOnMiddle closes when price falls back under the middle band
	// instead of the lower band.
	ExitOnMiddle bool `mapstructure:"exit_on_middle" json:"exit_on_middle"`
}

// BollingerBreakout buys a close above the upper band.
type BollingerBreakout struct {
	params BollingerBreakoutParams
	hash   string
}

// NewBollingerBreakout decodes params into a BollingerBreakout.
func NewBollingerBreakout(params map[string]any) (SignalStrategy, error) {
	p := BollingerBreakoutParams{ExitOnMiddle: true}
	if err := decodeParams(BollingerBreakoutName, params, &p); err != nil {
		return nil, err
	}

	return &BollingerBreakout{params: p, hash: hashID(BollingerBreakoutName, p)}, nil
}

// Name returns the catalog tag.
func (b *BollingerBreakout) Name() string {
	return BollingerBreakoutName
}

// RequiredColumns returns the close and band columns.
func (b *BollingerBreakout) RequiredColumns() []types.Column {
	return []types.Column{types.ColumnClose, types.ColumnBBUpper, types.ColumnBBMiddle, types.ColumnBBLower}
}

// GenerateSignals scores the close position within the bands.
func (b *BollingerBreakout) GenerateSignals(bars []types.EnrichedBar) ([]types.Signal, error) {
	cols := b.RequiredColumns()

	return signalsOf(bars, b.hash, func(i int) types.Signal {
		if !bars[i].Ready(cols...) {
			return hold(0)
		}

		c := bars[i].Value(types.ColumnClose)
		upper, middle, lower := bars[i].Value(types.ColumnBBUpper), bars[i].Value(types.ColumnBBMiddle), bars[i].Value(types.ColumnBBLower)

		exitLevel := lower
		if b.params.ExitOnMiddle {
			exitLevel = middle
		}

		position := 0.0
		if half := (upper - lower) / 2; half > 0 {
			position = (c - middle) / half
		}

		switch {
		case c > upper:
			return entry(position)
		case c < exitLevel:
			return exit(-1)
		default:
			return hold(position)
		}
	}), nil
}

// Description returns a summary of the strategy.
func (b *BollingerBreakout) Description() string {
	return fmt.Sprintf("Bollinger breakout (20, 2σ, exit_on_middle=%t)", b.params.ExitOnMiddle)
}

// HashID returns the variant hash.
func (b *BollingerBreakout) HashID() string {
	return b.hash
}
