// Package strategy holds every signal and portfolio strategy variant known to
// the live core. Variants are selected by tag from the strategy catalog; there
// is no runtime loading of unknown code.
package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"github.com/zeebo/xxh3"
)

// SignalStrategy produces one signal per enriched bar of a window.
type SignalStrategy interface {
	// Name returns the catalog tag of the variant.
	Name() string
	// RequiredColumns returns the enriched columns the strategy reads.
	RequiredColumns() []types.Column
	// GenerateSignals returns one signal per bar, oldest first. A bar missing
	// a required column yields a hold signal.
	GenerateSignals(bars []types.EnrichedBar) ([]types.Signal, error)
	// Description returns a human-readable summary including parameters.
	Description() string
	// HashID identifies the variant together with its parameters.
	HashID() string
}

// PortfolioStrategy turns the signals of the held symbols into weights.
type PortfolioStrategy interface {
	Name() string
	RequiredColumns() []types.Column
	// Allocate returns a weight per symbol in signals. Weights are non-negative.
	Allocate(signals map[string]types.Signal, returns ReturnsMatrix) (map[string]float64, error)
	Description() string
	HashID() string
}

// ReturnsMatrix holds one row of simple returns per tick, oldest first, with
// one column per symbol. Missing values are NaN.
type ReturnsMatrix struct {
	Symbols []string
	Rows    [][]float64
}

// Column returns the return series of symbol.
func (m ReturnsMatrix) Column(symbol string) []float64 {
	idx := -1

	for i, s := range m.Symbols {
		if s == symbol {
			idx = i

			break
		}
	}

	if idx < 0 {
		return nil
	}

	out := make([]float64, 0, len(m.Rows))
	for _, row := range m.Rows {
		out = append(out, row[idx])
	}

	return out
}

var validate = validator.New()

// decodeParams decodes catalog params into target and validates it. Missing
// keys keep the values already set on target.
func decodeParams(name string, params map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeStrategyConfigError, "failed to build params decoder", err)
	}

	if err := decoder.Decode(params); err != nil {
		return errors.Wrapf(errors.ErrCodeStrategyConfigError, err, "invalid params for %s", name)
	}

	if err := validate.Struct(target); err != nil {
		return errors.Wrapf(errors.ErrCodeStrategyConfigError, err, "invalid params for %s", name)
	}

	return nil
}

// hashID hashes the variant name and its canonical JSON params.
func hashID(name string, params any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", params))
	}

	return fmt.Sprintf("%s-%016x", name, xxh3.HashString(name+"|"+string(raw)))
}

func signalsOf(bars []types.EnrichedBar, hash string, decide func(i int) types.Signal) []types.Signal {
	out := make([]types.Signal, len(bars))
	for i := range bars {
		sig := decide(i)
		sig.Symbol = bars[i].Symbol
		sig.Time = bars[i].Time
		sig.Score = types.ClampScore(sig.Score)
		sig.Strategy = hash
		out[i] = sig
	}

	return out
}

func entry(score float64) types.Signal {
	return types.Signal{Entry: types.EntryBuy, Exit: types.ExitHold, Score: score} //nolint:exhaustruct
}

func exit(score float64) types.Signal {
	return types.Signal{Entry: types.EntryHold, Exit: types.ExitClose, Score: score} //nolint:exhaustruct
}

func hold(score float64) types.Signal {
	return types.Signal{Entry: types.EntryHold, Exit: types.ExitHold, Score: score} //nolint:exhaustruct
}

// crossed reports a cross of a over b between bars i-1 and i: +1 upward,
// −1 downward, 0 otherwise or when any value is NaN.
func crossed(prevA, prevB, a, b float64) int {
	if math.IsNaN(prevA) || math.IsNaN(prevB) || math.IsNaN(a) || math.IsNaN(b) {
		return 0
	}

	switch {
	case prevA <= prevB && a > b:
		return 1
	case prevA >= prevB && a < b:
		return -1
	default:
		return 0
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
