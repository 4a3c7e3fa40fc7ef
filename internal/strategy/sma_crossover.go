package strategy

import (
	"fmt"
	"slices"

	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

// SMACrossoverName is the catalog tag of SMACrossover.
const SMACrossoverName = "sma_crossover"

// SMACrossoverParams configures SMACrossover.
type SMACrossoverParams struct {
	Fast int `mapstructure:"fast" json:"fast" validate:"gt=0"`
	Slow int `mapstructure:"slow" json:"slow" validate:"gtfield=Fast"`
}

// SMACrossover buys when the fast SMA crosses above the slow SMA and closes
// on the opposite cross.
type SMACrossover struct {
	params SMACrossoverParams
	hash   string
}

// NewSMACrossover decodes params into an SMACrossover. Both windows must be
// among the enriched SMA windows.
func NewSMACrossover(params map[string]any) (SignalStrategy, error) {
	p := SMACrossoverParams{Fast: 9, Slow: 20}
	if err := decodeParams(SMACrossoverName, params, &p); err != nil {
		return nil, err
	}

	if !slices.Contains(types.MovingAverageWindows, p.Fast) || !slices.Contains(types.MovingAverageWindows, p.Slow) {
		return nil, errors.Newf(errors.ErrCodeStrategyConfigError, "%s: windows %d/%d are not enriched SMA windows", SMACrossoverName, p.Fast, p.Slow)
	}

	return &SMACrossover{params: p, hash: hashID(SMACrossoverName, p)}, nil
}

// Name returns the catalog tag.
func (s *SMACrossover) Name() string {
	return SMACrossoverName
}

// RequiredColumns returns the two SMA columns.
func (s *SMACrossover) RequiredColumns() []types.Column {
	return []types.Column{types.SMAColumn(s.params.Fast), types.SMAColumn(s.params.Slow)}
}

// GenerateSignals returns buy on an upward cross and close on a downward cross.
func (s *SMACrossover) GenerateSignals(bars []types.EnrichedBar) ([]types.Signal, error) {
	fastCol, slowCol := types.SMAColumn(s.params.Fast), types.SMAColumn(s.params.Slow)

	return signalsOf(bars, s.hash, func(i int) types.Signal {
		if i == 0 || !bars[i].Ready(fastCol, slowCol) {
			return hold(0)
		}

		fast, slow := bars[i].Value(fastCol), bars[i].Value(slowCol)
		strength := 0.0

		if slow != 0 {
			strength = 100 * (fast - slow) / slow
		}

		switch crossed(bars[i-1].Value(fastCol), bars[i-1].Value(slowCol), fast, slow) {
		case 1:
			return entry(1)
		case -1:
			return exit(-1)
		default:
			return hold(strength)
		}
	}), nil
}

// Description returns a summary of the strategy.
func (s *SMACrossover) Description() string {
	return fmt.Sprintf("SMA crossover (fast=%d, slow=%d)", s.params.Fast, s.params.Slow)
}

// HashID returns the variant hash.
func (s *SMACrossover) HashID() string {
	return s.hash
}
