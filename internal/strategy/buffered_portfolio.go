package strategy

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

// DefaultReturnsWindow is the number of return rows a buffered portfolio keeps.
const DefaultReturnsWindow = 120

// SymbolsKey is the catalog key of a symbol set: sorted and underscore-joined.
func SymbolsKey(symbols []string) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	return strings.Join(sorted, "_")
}

// BufferedPortfolioStrategy keeps the held set and a bounded returns matrix
// for one symbol set and asks its allocator for weights on every roster.
// A symbol enters the held set on a buy and leaves it on a close; close wins
// when a signal carries both.
type BufferedPortfolioStrategy struct {
	strategy PortfolioStrategy
	symbols  []string
	size     int

	held       map[string]bool
	lastPrices map[string]float64
	rows       [][]float64
}

// NewBufferedPortfolioStrategy wraps strategy for the given symbol set.
func NewBufferedPortfolioStrategy(strategy PortfolioStrategy, symbols []string, size int) *BufferedPortfolioStrategy {
	if size < 2 {
		size = DefaultReturnsWindow
	}

	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	return &BufferedPortfolioStrategy{
		strategy:   strategy,
		symbols:    sorted,
		size:       size,
		held:       make(map[string]bool),
		lastPrices: make(map[string]float64),
		rows:       nil,
	}
}

// Strategy returns the wrapped allocator.
func (b *BufferedPortfolioStrategy) Strategy() PortfolioStrategy {
	return b.strategy
}

// Symbols returns the sorted symbol set.
func (b *BufferedPortfolioStrategy) Symbols() []string {
	return b.symbols
}

// Key returns the catalog key of the symbol set.
func (b *BufferedPortfolioStrategy) Key() string {
	return SymbolsKey(b.symbols)
}

// Held returns the symbols currently in the held set, sorted.
func (b *BufferedPortfolioStrategy) Held() []string {
	return sortedKeys(b.held)
}

// Observe records the latest prices as one returns row. Symbols without a
// valid price on either side contribute NaN.
func (b *BufferedPortfolioStrategy) Observe(prices map[string]float64) {
	row := make([]float64, len(b.symbols))

	for i, s := range b.symbols {
		row[i] = math.NaN()

		price, ok := prices[s]
		if !ok || math.IsNaN(price) || price <= 0 {
			continue
		}

		if prev, ok := b.lastPrices[s]; ok && prev > 0 {
			row[i] = price/prev - 1
		}

		b.lastPrices[s] = price
	}

	if len(b.rows) == b.size {
		b.rows = b.rows[1:]
	}

	b.rows = append(b.rows, row)
}

// Returns returns a copy of the buffered returns matrix.
func (b *BufferedPortfolioStrategy) Returns() ReturnsMatrix {
	rows := make([][]float64, len(b.rows))
	for i, r := range b.rows {
		rows[i] = append([]float64(nil), r...)
	}

	return ReturnsMatrix{Symbols: b.symbols, Rows: rows}
}

// Next updates the held set from the roster signals and returns a weight
// for every symbol of the set. Symbols outside the held set get zero.
func (b *BufferedPortfolioStrategy) Next(signals map[string]types.Signal) (map[string]float64, error) {
	for s, sig := range signals {
		switch {
		case sig.Exit == types.ExitClose:
			delete(b.held, s)
		case sig.Entry == types.EntryBuy:
			b.held[s] = true
		}
	}

	held := make(map[string]types.Signal, len(b.held))
	for s := range b.held {
		if sig, ok := signals[s]; ok {
			held[s] = sig
		} else {
			held[s] = types.HoldSignal(s, time.Time{})
		}
	}

	weights := make(map[string]float64, len(b.symbols))
	for _, s := range b.symbols {
		weights[s] = 0
	}

	if len(held) == 0 {
		return weights, nil
	}

	alloc, err := b.strategy.Allocate(held, b.Returns())
	if err != nil {
		return weights, errors.Wrapf(errors.ErrCodeStrategyRuntimeError, err, "%s allocate failed", b.strategy.Name())
	}

	for s, w := range alloc {
		if _, ok := weights[s]; ok && b.held[s] && w > 0 && !math.IsNaN(w) {
			weights[s] = w
		}
	}

	return weights, nil
}

// SetHeld marks symbols as held, used when rehydrating from broker positions.
func (b *BufferedPortfolioStrategy) SetHeld(symbols []string) {
	for _, s := range symbols {
		b.held[s] = true
	}
}

// Reset clears the held set and the returns buffer.
func (b *BufferedPortfolioStrategy) Reset() {
	b.held = make(map[string]bool)
	b.lastPrices = make(map[string]float64)
	b.rows = nil
}
