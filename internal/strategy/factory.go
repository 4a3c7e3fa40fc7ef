package strategy

import (
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

type signalConstructor func(params map[string]any) (SignalStrategy, error)

type portfolioConstructor func(params map[string]any) (PortfolioStrategy, error)

var signalVariants = map[string]signalConstructor{
	SMACrossoverName:      NewSMACrossover,
	RSIReversionName:      NewRSIReversion,
	MACDMomentumName:      NewMACDMomentum,
	BollingerBreakoutName: NewBollingerBreakout,
	StochasticCrossName:   NewStochasticCross,
}

var portfolioVariants = map[string]portfolioConstructor{
	EqualWeightName:       NewEqualWeight,
	InverseVolatilityName: NewInverseVolatility,
	MomentumName:          NewMomentum,
	WinnerTakesAllName:    NewWinnerTakesAll,
}

// NewSignalStrategy builds the signal variant tagged name.
func NewSignalStrategy(name string, params map[string]any) (SignalStrategy, error) {
	ctor, ok := signalVariants[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnsupportedStrategy, "unknown signal strategy %q", name)
	}

	return ctor(params)
}

// NewPortfolioStrategy builds the portfolio variant tagged name.
func NewPortfolioStrategy(name string, params map[string]any) (PortfolioStrategy, error) {
	ctor, ok := portfolioVariants[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnsupportedStrategy, "unknown portfolio strategy %q", name)
	}

	return ctor(params)
}

// SignalStrategyNames returns every signal tag, sorted.
func SignalStrategyNames() []string {
	return sortedKeys(signalVariants)
}

// PortfolioStrategyNames returns every portfolio tag, sorted.
func PortfolioStrategyNames() []string {
	return sortedKeys(portfolioVariants)
}
