package types

import (
	"math"
	"time"
)

// EntrySignal is the entry half of a signal.
type EntrySignal string

// ExitSignal is the exit half of a signal.
type ExitSignal string

const (
	EntryBuy  EntrySignal = "buy"
	EntrySell EntrySignal = "sell"
	EntryHold EntrySignal = "hold"
)

const (
	ExitClose ExitSignal = "close"
	ExitHold  ExitSignal = "hold"
)

// Signal is a per-symbol, per-tick decision.
type Signal struct {
	Symbol string      `yaml:"symbol" json:"symbol"`
	Time   time.Time   `yaml:"time" json:"time"`
	Entry  EntrySignal `yaml:"entry" json:"entry"`
	Exit   ExitSignal  `yaml:"exit" json:"exit"`
	// Score is clamped to [-1, 1]. Positive favours entry, negative favours exit.
	Score float64 `yaml:"score" json:"score"`
	// Strategy is the hash id of the strategy that produced the signal.
	Strategy string `yaml:"strategy" json:"strategy"`
}

// HoldSignal returns a neutral signal.
func HoldSignal(symbol string, at time.Time) Signal {
	return Signal{
		Symbol:   symbol,
		Time:     at,
		Entry:    EntryHold,
		Exit:     ExitHold,
		Score:    0,
		Strategy: "",
	}
}

// ClampScore limits a score to [-1, 1]. NaN becomes 0.
func ClampScore(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}

	return math.Max(-1, math.Min(1, score))
}

// SignalRoster is the set of signals for one tick, covering exactly Symbols.
type SignalRoster struct {
	Tick    time.Time         `yaml:"tick" json:"tick"`
	Symbols []string          `yaml:"symbols" json:"symbols"`
	Signals map[string]Signal `yaml:"signals" json:"signals"`
	// Prices are the closes the signals were computed on.
	Prices map[string]float64 `yaml:"prices" json:"prices"`
}

// TargetWeights is the portfolio allocation for one tick. Weights sum to at most 1.
type TargetWeights struct {
	Tick    time.Time          `yaml:"tick" json:"tick"`
	Symbols []string           `yaml:"symbols" json:"symbols"`
	Weights map[string]float64 `yaml:"weights" json:"weights"`
	// Prices are the latest close prices used when the weights were computed.
	Prices map[string]float64 `yaml:"prices" json:"prices"`
}

// Sum returns the total allocated weight.
func (w TargetWeights) Sum() float64 {
	total := 0.0
	for _, v := range w.Weights {
		total += v
	}

	return total
}
