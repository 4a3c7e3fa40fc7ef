package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/rxtech-lab/argo-live/internal/types"
)

const (
	EqualWeightName       = "equal_weight"
	InverseVolatilityName = "inverse_volatility"
	MomentumName          = "momentum"
	WinnerTakesAllName    = "winner_takes_all"
)

// EqualWeight gives every held symbol the same weight.
type EqualWeight struct {
	hash string
}

// NewEqualWeight creates an EqualWeight allocator. It takes no params.
func NewEqualWeight(params map[string]any) (PortfolioStrategy, error) {
	var p struct{}
	if err := decodeParams(EqualWeightName, params, &p); err != nil {
		return nil, err
	}

	return &EqualWeight{hash: hashID(EqualWeightName, p)}, nil
}

func (e *EqualWeight) Name() string                    { return EqualWeightName }
func (e *EqualWeight) RequiredColumns() []types.Column { return []types.Column{types.ColumnClose} }
func (e *EqualWeight) Description() string             { return "Equal weight" }
func (e *EqualWeight) HashID() string                  { return e.hash }

// Allocate splits the book evenly.
func (e *EqualWeight) Allocate(signals map[string]types.Signal, _ ReturnsMatrix) (map[string]float64, error) {
	return equal(signals), nil
}

func equal(signals map[string]types.Signal) map[string]float64 {
	out := make(map[string]float64, len(signals))
	for s := range signals {
		out[s] = 1 / float64(len(signals))
	}

	return out
}

// InverseVolatilityParams configures InverseVolatility.
type InverseVolatilityParams struct {
	// MinPeriods is the number of returns needed before a volatility is trusted.
	MinPeriods int `mapstructure:"min_periods" json:"min_periods" validate:"gte=2"`
}

// InverseVolatility weights symbols by the inverse of their return volatility.
type InverseVolatility struct {
	params InverseVolatilityParams
	hash   string
}

// NewInverseVolatility decodes params into an InverseVolatility allocator.
func NewInverseVolatility(params map[string]any) (PortfolioStrategy, error) {
	p := InverseVolatilityParams{MinPeriods: 5}
	if err := decodeParams(InverseVolatilityName, params, &p); err != nil {
		return nil, err
	}

	return &InverseVolatility{params: p, hash: hashID(InverseVolatilityName, p)}, nil
}

func (iv *InverseVolatility) Name() string                    { return InverseVolatilityName }
func (iv *InverseVolatility) RequiredColumns() []types.Column { return []types.Column{types.ColumnClose} }
func (iv *InverseVolatility) HashID() string                  { return iv.hash }

func (iv *InverseVolatility) Description() string {
	return fmt.Sprintf("Inverse volatility (min_periods=%d)", iv.params.MinPeriods)
}

// Allocate falls back to equal weights when no symbol has enough history.
func (iv *InverseVolatility) Allocate(signals map[string]types.Signal, returns ReturnsMatrix) (map[string]float64, error) {
	inv := make(map[string]float64, len(signals))
	total := 0.0

	for s := range signals {
		vol := stdDev(finite(returns.Column(s)), iv.params.MinPeriods)
		if math.IsNaN(vol) {
			continue
		}

		// a flat series gets the weight of a tiny volatility
		vol = math.Max(vol, 1e-8)
		inv[s] = 1 / vol
		total += inv[s]
	}

	if total == 0 {
		return equal(signals), nil
	}

	out := make(map[string]float64, len(signals))
	for s := range signals {
		out[s] = inv[s] / total
	}

	return out, nil
}

// MomentumParams configures Momentum.
type MomentumParams struct {
	Lookback int `mapstructure:"lookback" json:"lookback" validate:"gt=0"`
	// TopK keeps only the strongest symbols; zero keeps every positive one.
	TopK int `mapstructure:"top_k" json:"top_k" validate:"gte=0"`
}

// Momentum weights symbols by their positive cumulative return over the lookback.
type Momentum struct {
	params MomentumParams
	hash   string
}

// NewMomentum decodes params into a Momentum allocator.
func NewMomentum(params map[string]any) (PortfolioStrategy, error) {
	p := MomentumParams{Lookback: 20, TopK: 0}
	if err := decodeParams(MomentumName, params, &p); err != nil {
		return nil, err
	}

	return &Momentum{params: p, hash: hashID(MomentumName, p)}, nil
}

func (m *Momentum) Name() string                    { return MomentumName }
func (m *Momentum) RequiredColumns() []types.Column { return []types.Column{types.ColumnClose} }
func (m *Momentum) HashID() string                  { return m.hash }

func (m *Momentum) Description() string {
	return fmt.Sprintf("Momentum (lookback=%d, top_k=%d)", m.params.Lookback, m.params.TopK)
}

// Allocate returns all-zero weights when no symbol has positive momentum.
func (m *Momentum) Allocate(signals map[string]types.Signal, returns ReturnsMatrix) (map[string]float64, error) {
	type scored struct {
		symbol string
		value  float64
	}

	var ranked []scored

	for s := range signals {
		series := finite(returns.Column(s))
		if len(series) > m.params.Lookback {
			series = series[len(series)-m.params.Lookback:]
		}

		growth := 1.0
		for _, r := range series {
			growth *= 1 + r
		}

		if mom := growth - 1; mom > 0 {
			ranked = append(ranked, scored{symbol: s, value: mom})
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].value == ranked[j].value {
			return ranked[i].symbol < ranked[j].symbol
		}

		return ranked[i].value > ranked[j].value
	})

	if m.params.TopK > 0 && len(ranked) > m.params.TopK {
		ranked = ranked[:m.params.TopK]
	}

	total := 0.0
	for _, r := range ranked {
		total += r.value
	}

	out := make(map[string]float64, len(signals))
	for s := range signals {
		out[s] = 0
	}

	for _, r := range ranked {
		out[r.symbol] = r.value / total
	}

	return out, nil
}

// WinnerTakesAll puts the whole book on the held symbol with the best signal score.
type WinnerTakesAll struct {
	hash string
}

// NewWinnerTakesAll creates a WinnerTakesAll allocator. It takes no params.
func NewWinnerTakesAll(params map[string]any) (PortfolioStrategy, error) {
	var p struct{}
	if err := decodeParams(WinnerTakesAllName, params, &p); err != nil {
		return nil, err
	}

	return &WinnerTakesAll{hash: hashID(WinnerTakesAllName, p)}, nil
}

func (w *WinnerTakesAll) Name() string                    { return WinnerTakesAllName }
func (w *WinnerTakesAll) RequiredColumns() []types.Column { return []types.Column{types.ColumnClose} }
func (w *WinnerTakesAll) Description() string             { return "Winner takes all" }
func (w *WinnerTakesAll) HashID() string                  { return w.hash }

// Allocate breaks score ties by symbol name.
func (w *WinnerTakesAll) Allocate(signals map[string]types.Signal, _ ReturnsMatrix) (map[string]float64, error) {
	out := make(map[string]float64, len(signals))
	best := ""

	for _, s := range sortedKeys(signals) {
		out[s] = 0
		if best == "" || signals[s].Score > signals[best].Score {
			best = s
		}
	}

	if best != "" {
		out[best] = 1
	}

	return out, nil
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}

	return out
}

func stdDev(values []float64, minPeriods int) float64 {
	if len(values) < minPeriods || len(values) < 2 {
		return math.NaN()
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}

	mean /= float64(len(values))

	ss := 0.0
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}

	return math.Sqrt(ss / float64(len(values)-1))
}
