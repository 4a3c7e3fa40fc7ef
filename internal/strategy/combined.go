package strategy

import (
	"fmt"
	"strings"

	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

// DefaultSignalBuffer is the number of enriched bars a buffered strategy keeps.
const DefaultSignalBuffer = 64

// BufferedSignalStrategy feeds a signal strategy a bounded window of
// enriched bars, one tick at a time.
type BufferedSignalStrategy struct {
	strategy SignalStrategy
	size     int
	bars     []types.EnrichedBar
}

// NewBufferedSignalStrategy wraps strategy with a window of size bars.
func NewBufferedSignalStrategy(strategy SignalStrategy, size int) *BufferedSignalStrategy {
	if size < 2 {
		size = DefaultSignalBuffer
	}

	return &BufferedSignalStrategy{
		strategy: strategy,
		size:     size,
		bars:     make([]types.EnrichedBar, 0, size),
	}
}

// Strategy returns the wrapped strategy.
func (b *BufferedSignalStrategy) Strategy() SignalStrategy {
	return b.strategy
}

// Next appends bar to the window and returns the signal for it.
func (b *BufferedSignalStrategy) Next(bar types.EnrichedBar) (types.Signal, error) {
	if len(b.bars) == b.size {
		copy(b.bars, b.bars[1:])
		b.bars = b.bars[:b.size-1]
	}

	b.bars = append(b.bars, bar)

	signals, err := b.strategy.GenerateSignals(b.bars)
	if err != nil {
		return types.HoldSignal(bar.Symbol, bar.Time), errors.Wrapf(errors.ErrCodeStrategyRuntimeError, err, "%s failed", b.strategy.Name())
	}

	if len(signals) != len(b.bars) {
		return types.HoldSignal(bar.Symbol, bar.Time), errors.Newf(errors.ErrCodeStrategyRuntimeError,
			"%s returned %d signals for %d bars", b.strategy.Name(), len(signals), len(b.bars))
	}

	return signals[len(signals)-1], nil
}

// Reset empties the window.
func (b *BufferedSignalStrategy) Reset() {
	b.bars = b.bars[:0]
}

// Component is one weighted member of a combined strategy.
type Component struct {
	Strategy *BufferedSignalStrategy
	// Weight is normalized across components when the combined strategy is built.
	Weight float64
	// BuyThreshold is the minimum entry score for the component's buy to count.
	BuyThreshold float64
	// SellThreshold is the minimum exit score for the component's close to count.
	SellThreshold float64
}

// CombinedWeightedSignalStrategy votes its components into one signal.
type CombinedWeightedSignalStrategy struct {
	symbol        string
	components    []Component
	buyThreshold  float64
	sellThreshold float64
	hash          string
}

// NewCombinedWeightedSignalStrategy normalizes the component weights. A
// non-positive total weight falls back to equal weights.
func NewCombinedWeightedSignalStrategy(symbol string, components []Component, buyThreshold, sellThreshold float64) (*CombinedWeightedSignalStrategy, error) {
	if len(components) == 0 {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "no signal strategy components for %s", symbol)
	}

	total := 0.0
	for _, c := range components {
		if c.Weight > 0 {
			total += c.Weight
		}
	}

	normalized := make([]Component, len(components))
	ids := make([]string, len(components))

	for i, c := range components {
		switch {
		case total <= 0:
			c.Weight = 1 / float64(len(components))
		case c.Weight < 0:
			c.Weight = 0
		default:
			c.Weight /= total
		}

		normalized[i] = c
		ids[i] = c.Strategy.Strategy().HashID()
	}

	return &CombinedWeightedSignalStrategy{
		symbol:        symbol,
		components:    normalized,
		buyThreshold:  buyThreshold,
		sellThreshold: sellThreshold,
		hash:          hashID("combined", ids),
	}, nil
}

// Components returns the normalized components.
func (c *CombinedWeightedSignalStrategy) Components() []Component {
	return c.components
}

// RequiredColumns returns the union of the component columns.
func (c *CombinedWeightedSignalStrategy) RequiredColumns() []types.Column {
	seen := map[types.Column]bool{}

	var cols []types.Column

	for _, comp := range c.components {
		for _, col := range comp.Strategy.Strategy().RequiredColumns() {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}

	return cols
}

// Next feeds bar to every component and combines their votes. A failing
// component fails the whole tick so no partial signal is emitted.
func (c *CombinedWeightedSignalStrategy) Next(bar types.EnrichedBar) (types.Signal, error) {
	var entryScore, exitScore, score float64

	for _, comp := range c.components {
		sig, err := comp.Strategy.Next(bar)
		if err != nil {
			return types.HoldSignal(bar.Symbol, bar.Time), err
		}

		if sig.Entry == types.EntryBuy && sig.Score > 0 && sig.Score >= comp.BuyThreshold {
			entryScore += comp.Weight * sig.Score
		}

		if sig.Exit == types.ExitClose && sig.Score < 0 && -sig.Score >= comp.SellThreshold {
			exitScore += comp.Weight * -sig.Score
		}

		score += comp.Weight * sig.Score
	}

	out := types.HoldSignal(bar.Symbol, bar.Time)
	out.Score = types.ClampScore(score)
	out.Strategy = c.hash

	if entryScore > 0 && entryScore >= c.buyThreshold {
		out.Entry = types.EntryBuy
	}

	if exitScore > 0 && exitScore >= c.sellThreshold {
		out.Exit = types.ExitClose
	}

	return out, nil
}

// Reset empties every component window.
func (c *CombinedWeightedSignalStrategy) Reset() {
	for _, comp := range c.components {
		comp.Strategy.Reset()
	}
}

// Description lists the components and their weights.
func (c *CombinedWeightedSignalStrategy) Description() string {
	parts := make([]string, 0, len(c.components))
	for _, comp := range c.components {
		parts = append(parts, fmt.Sprintf("%.2f×%s", comp.Weight, comp.Strategy.Strategy().Description()))
	}

	return fmt.Sprintf("%s: %s (buy≥%.2f, sell≥%.2f)", c.symbol, strings.Join(parts, " + "), c.buyThreshold, c.sellThreshold)
}

// HashID returns the hash of the component hashes.
func (c *CombinedWeightedSignalStrategy) HashID() string {
	return c.hash
}
