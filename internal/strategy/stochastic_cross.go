package strategy

import (
	"fmt"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// StochasticCrossName is the catalog tag of StochasticCross.
const StochasticCrossName = "stochastic_cross"

// StochasticCrossParams configures StochasticCross.
type StochasticCrossParams struct {
	Oversold   float64 `mapstructure:"oversold" json:"oversold" validate:"gt=0,lt=100"`
	Overbought float64 `mapstructure:"overbought" json:"overbought" validate:"gtfield=Oversold,lt=100"`
}

// StochasticCross buys when %K crosses above %D in the oversold zone and
// closes when it crosses below in the overbought zone.
type StochasticCross struct {
	params StochasticCrossParams
	hash   string
}

// NewStochasticCross decodes params into a StochasticCross.
func NewStochasticCross(params map[string]any) (SignalStrategy, error) {
	p := StochasticCrossParams{Oversold: 20, Overbought: 80}
	if err := decodeParams(StochasticCrossName, params, &p); err != nil {
		return nil, err
	}

	return &StochasticCross{params: p, hash: hashID(StochasticCrossName, p)}, nil
}

// Name returns the catalog tag.
func (s *StochasticCross) Name() string {
	return StochasticCrossName
}

// RequiredColumns returns the stochastic columns.
func (s *StochasticCross) RequiredColumns() []types.Column {
	return []types.Column{types.ColumnStochK, types.ColumnStochD}
}

// GenerateSignals returns crosses gated by the oversold and overbought zones.
func (s *StochasticCross) GenerateSignals(bars []types.EnrichedBar) ([]types.Signal, error) {
	cols := s.RequiredColumns()

	return signalsOf(bars, s.hash, func(i int) types.Signal {
		if i == 0 || !bars[i].Ready(cols...) || !bars[i-1].Ready(cols...) {
			return hold(0)
		}

		k, d := bars[i].Value(types.ColumnStochK), bars[i].Value(types.ColumnStochD)
		dir := crossed(bars[i-1].Value(types.ColumnStochK), bars[i-1].Value(types.ColumnStochD), k, d)

		switch {
		case dir == 1 && d < s.params.Oversold:
			return entry(1 - d/100)
		case dir == -1 && d > s.params.Overbought:
			return exit(-d / 100)
		default:
			return hold((50 - k) / 50)
		}
	}), nil
}

// Description returns a summary of the strategy.
func (s *StochasticCross) Description() string {
	return fmt.Sprintf("Stochastic cross (14/3, oversold=%.1f, overbought=%.1f)", s.params.Oversold, s.params.Overbought)
}

// HashID returns the variant hash.
func (s *StochasticCross) HashID() string {
	return s.hash
}
