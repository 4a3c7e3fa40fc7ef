package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sig(symbol string, entry types.EntrySignal, exit types.ExitSignal, score float64) types.Signal {
	return types.Signal{Symbol: symbol, Time: time.Time{}, Entry: entry, Exit: exit, Score: score, Strategy: ""}
}

func TestSymbolsKey(t *testing.T) {
	assert.Equal(t, "AAA_BBB_CCC", SymbolsKey([]string{"CCC", "AAA", "BBB"}))
}

func TestEqualWeight(t *testing.T) {
	s, err := NewEqualWeight(nil)
	require.NoError(t, err)

	w, err := s.Allocate(map[string]types.Signal{"AAA": {}, "BBB": {}, "CCC": {}, "DDD": {}}, ReturnsMatrix{})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, w["AAA"], 1e-9)
	assert.Len(t, w, 4)

	_, err = NewEqualWeight(map[string]any{"unexpected": 1})
	assert.Error(t, err)
}

func TestInverseVolatility(t *testing.T) {
	s, err := NewInverseVolatility(map[string]any{"min_periods": 2})
	require.NoError(t, err)

	returns := ReturnsMatrix{
		Symbols: []string{"AAA", "BBB"},
		Rows: [][]float64{
			{0.01, 0.02},
			{-0.01, -0.02},
			{0.01, 0.02},
		},
	}

	w, err := s.Allocate(map[string]types.Signal{"AAA": {}, "BBB": {}}, returns)
	require.NoError(t, err)
	// BBB is twice as volatile so it gets half the weight of AAA.
	assert.InDelta(t, 2.0/3.0, w["AAA"], 1e-9)
	assert.InDelta(t, 1.0/3.0, w["BBB"], 1e-9)
}

func TestInverseVolatilityFallsBackToEqual(t *testing.T) {
	s, err := NewInverseVolatility(nil)
	require.NoError(t, err)

	w, err := s.Allocate(map[string]types.Signal{"AAA": {}, "BBB": {}}, ReturnsMatrix{Symbols: []string{"AAA", "BBB"}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, w["AAA"], 1e-9)
	assert.InDelta(t, 0.5, w["BBB"], 1e-9)
}

func TestMomentum(t *testing.T) {
	s, err := NewMomentum(map[string]any{"lookback": 2, "top_k": 1})
	require.NoError(t, err)

	returns := ReturnsMatrix{
		Symbols: []string{"AAA", "BBB", "CCC"},
		Rows: [][]float64{
			{0.5, 0.0, -0.1},
			{0.0, 0.1, -0.1},
			{0.0, 0.1, math.NaN()},
		},
	}

	w, err := s.Allocate(map[string]types.Signal{"AAA": {}, "BBB": {}, "CCC": {}}, returns)
	require.NoError(t, err)
	// over the last two rows only BBB has grown
	assert.Equal(t, 1.0, w["BBB"])
	assert.Equal(t, 0.0, w["AAA"])
	assert.Equal(t, 0.0, w["CCC"])
}

func TestMomentumAllNegativeGoesToCash(t *testing.T) {
	s, err := NewMomentum(nil)
	require.NoError(t, err)

	returns := ReturnsMatrix{Symbols: []string{"AAA"}, Rows: [][]float64{{-0.1}}}
	w, err := s.Allocate(map[string]types.Signal{"AAA": {}}, returns)
	require.NoError(t, err)
	assert.Equal(t, 0.0, w["AAA"])
}

func TestWinnerTakesAll(t *testing.T) {
	s, err := NewWinnerTakesAll(nil)
	require.NoError(t, err)

	w, err := s.Allocate(map[string]types.Signal{
		"AAA": sig("AAA", types.EntryBuy, types.ExitHold, 0.4),
		"BBB": sig("BBB", types.EntryBuy, types.ExitHold, 0.9),
		"CCC": sig("CCC", types.EntryBuy, types.ExitHold, 0.9),
	}, ReturnsMatrix{})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAA": 0, "BBB": 1, "CCC": 0}, w)
}

func TestBufferedPortfolioHeldSet(t *testing.T) {
	inner, err := NewEqualWeight(nil)
	require.NoError(t, err)

	b := NewBufferedPortfolioStrategy(inner, []string{"BBB", "AAA"}, 10)
	assert.Equal(t, "AAA_BBB", b.Key())

	w, err := b.Next(map[string]types.Signal{
		"AAA": sig("AAA", types.EntryHold, types.ExitHold, 0),
		"BBB": sig("BBB", types.EntryHold, types.ExitHold, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAA": 0, "BBB": 0}, w)

	w, err = b.Next(map[string]types.Signal{
		"AAA": sig("AAA", types.EntryBuy, types.ExitHold, 1),
		"BBB": sig("BBB", types.EntryBuy, types.ExitHold, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAA": 0.5, "BBB": 0.5}, w)

	// AAA stays held without a new buy; BBB closes even with a buy.
	w, err = b.Next(map[string]types.Signal{
		"AAA": sig("AAA", types.EntryHold, types.ExitHold, 0),
		"BBB": sig("BBB", types.EntryBuy, types.ExitClose, -1),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAA": 1, "BBB": 0}, w)
	assert.Equal(t, []string{"AAA"}, b.Held())
}

func TestBufferedPortfolioReturnsWindow(t *testing.T) {
	inner, err := NewEqualWeight(nil)
	require.NoError(t, err)

	b := NewBufferedPortfolioStrategy(inner, []string{"AAA", "BBB"}, 3)
	for _, p := range []float64{100, 110, 121, 121, 0} {
		b.Observe(map[string]float64{"AAA": p})
	}

	m := b.Returns()
	require.Len(t, m.Rows, 3)

	aaa := m.Column("AAA")
	assert.InDelta(t, 0.1, aaa[0], 1e-9)
	assert.InDelta(t, 0.0, aaa[1], 1e-9)
	assert.True(t, math.IsNaN(aaa[2]))
	assert.True(t, math.IsNaN(m.Column("BBB")[0]))
	assert.Nil(t, m.Column("ZZZ"))

	b.Reset()
	assert.Empty(t, b.Returns().Rows)
}
