package indicator

import (
	"github.com/rxtech-lab/argo-live/internal/types"
)

// Window is a bounded circular buffer of bars for one symbol. Once full, the
// oldest bar is evicted on every Push. It also carries the cumulative volume
// state (OBV and ADL) accumulated since the first bar of the session, which
// is not bounded by the window size.
type Window struct {
	size  int
	bars  []types.Bar
	head  int
	count int

	obv       float64
	adl       float64
	prevClose float64
	pushed    int
}

// NewWindow creates a window that keeps at most size bars.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}

	return &Window{
		size: size,
		bars: make([]types.Bar, size),
	}
}

// Push appends a bar. A bar with the same timestamp as the newest one replaces it.
func (w *Window) Push(bar types.Bar) {
	if w.count > 0 {
		newest := w.at(w.count - 1)
		if bar.Time.Equal(newest.Time) {
			w.replaceNewest(bar)

			return
		}
	}

	w.accumulate(bar)

	if w.count < w.size {
		w.bars[(w.head+w.count)%w.size] = bar
		w.count++

		return
	}

	w.bars[w.head] = bar
	w.head = (w.head + 1) % w.size
}

// replaceNewest swaps the newest bar. The cumulative state keeps the
// contribution of the replaced bar; a corrected bar only updates prices.
func (w *Window) replaceNewest(bar types.Bar) {
	w.bars[(w.head+w.count-1)%w.size] = bar
}

func (w *Window) accumulate(bar types.Bar) {
	if w.pushed > 0 {
		switch {
		case bar.Close > w.prevClose:
			w.obv += bar.Volume
		case bar.Close < w.prevClose:
			w.obv -= bar.Volume
		}
	}

	if rng := bar.High - bar.Low; rng > 0 {
		mfm := ((bar.Close - bar.Low) - (bar.High - bar.Close)) / rng
		w.adl += mfm * bar.Volume
	}

	w.prevClose = bar.Close
	w.pushed++
}

func (w *Window) at(i int) types.Bar {
	return w.bars[(w.head+i)%w.size]
}

// Len returns the number of bars currently held.
func (w *Window) Len() int {
	return w.count
}

// Size returns the capacity of the window.
func (w *Window) Size() int {
	return w.size
}

// Bars returns the held bars, oldest first.
func (w *Window) Bars() []types.Bar {
	out := make([]types.Bar, w.count)
	for i := range out {
		out[i] = w.at(i)
	}

	return out
}

// Latest returns the newest bar.
func (w *Window) Latest() (types.Bar, bool) {
	if w.count == 0 {
		return types.Bar{}, false //nolint:exhaustruct
	}

	return w.at(w.count - 1), true
}

func (w *Window) series(pick func(types.Bar) float64) []float64 {
	out := make([]float64, w.count)
	for i := range out {
		out[i] = pick(w.at(i))
	}

	return out
}

// Opens returns the open prices, oldest first.
func (w *Window) Opens() []float64 { return w.series(func(b types.Bar) float64 { return b.Open }) }

// Highs returns the high prices, oldest first.
func (w *Window) Highs() []float64 { return w.series(func(b types.Bar) float64 { return b.High }) }

// Lows returns the low prices, oldest first.
func (w *Window) Lows() []float64 { return w.series(func(b types.Bar) float64 { return b.Low }) }

// Closes returns the close prices, oldest first.
func (w *Window) Closes() []float64 { return w.series(func(b types.Bar) float64 { return b.Close }) }

// Volumes returns the bar volumes, oldest first.
func (w *Window) Volumes() []float64 { return w.series(func(b types.Bar) float64 { return b.Volume }) }

// OBV returns on-balance volume accumulated since the first bar of the session.
func (w *Window) OBV() float64 {
	return w.obv
}

// ADL returns the accumulation/distribution line since the first bar of the session.
func (w *Window) ADL() float64 {
	return w.adl
}

// Reset discards every bar and the cumulative state.
func (w *Window) Reset() {
	w.bars = make([]types.Bar, w.size)
	w.head = 0
	w.count = 0
	w.obv = 0
	w.adl = 0
	w.prevClose = 0
	w.pushed = 0
}
