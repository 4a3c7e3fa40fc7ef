package strategy

import (
	"fmt"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// RSIReversionName is the catalog tag of RSIReversion.
const RSIReversionName = "rsi_reversion"

// RSIReversionParams configures RSIReversion. Only the enriched 14-bar RSI is available.
type RSIReversionParams struct {
	Period     int     `mapstructure:"period" json:"period" validate:"eq=14"`
	Oversold   float64 `mapstructure:"oversold" json:"oversold" validate:"gt=0,lt=100"`
	Overbought float64 `mapstructure:"overbought" json:"overbought" validate:"gtfield=Oversold,lt=100"`
}

// RSIReversion buys oversold symbols and closes overbought ones.
type RSIReversion struct {
	params RSIReversionParams
	hash   string
}

// NewRSIReversion decodes params into an RSIReversion.
func NewRSIReversion(params map[string]any) (SignalStrategy, error) {
	p := RSIReversionParams{Period: 14, Oversold: 30, Overbought: 70}
	if err := decodeParams(RSIReversionName, params, &p); err != nil {
		return nil, err
	}

	return &RSIReversion{params: p, hash: hashID(RSIReversionName, p)}, nil
}

// Name returns the catalog tag.
func (r *RSIReversion) Name() string {
	return RSIReversionName
}

// RequiredColumns returns the RSI column.
func (r *RSIReversion) RequiredColumns() []types.Column {
	return []types.Column{types.ColumnRSI14}
}

// GenerateSignals scores the distance beyond the thresholds; the score is at
// least 0.5 in magnitude once a threshold is crossed.
func (r *RSIReversion) GenerateSignals(bars []types.EnrichedBar) ([]types.Signal, error) {
	return signalsOf(bars, r.hash, func(i int) types.Signal {
		if !bars[i].Ready(types.ColumnRSI14) {
			return hold(0)
		}

		rsi := bars[i].Value(types.ColumnRSI14)

		switch {
		case rsi < r.params.Oversold:
			return entry(0.5 + (r.params.Oversold-rsi)/r.params.Oversold)
		case rsi > r.params.Overbought:
			return exit(-(0.5 + (rsi-r.params.Overbought)/(100-r.params.Overbought)))
		default:
			return hold((50 - rsi) / 50)
		}
	}), nil
}

// Description returns a summary of the strategy.
func (r *RSIReversion) Description() string {
	return fmt.Sprintf("RSI reversion (period=%d, oversold=%.1f, overbought=%.1f)", r.params.Period, r.params.Oversold, r.params.Overbought)
}

// HashID returns the variant hash.
func (r *RSIReversion) HashID() string {
	return r.hash
}
