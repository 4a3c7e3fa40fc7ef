package orderstream

import (
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/types"
)

// reorderBuffer holds the events of one symbol for a short window so that
// events delivered out of broker timestamp order are applied in order.
type reorderBuffer struct {
	clock  clock.Clock
	window time.Duration
	flush  func(symbol string, events []types.OrderEvent)

	mu        sync.Mutex
	pending   map[string][]types.OrderEvent
	timers    map[string]clock.Timer
	watermark map[string]time.Time
}

func newReorderBuffer(clk clock.Clock, window time.Duration, flush func(string, []types.OrderEvent)) *reorderBuffer {
	return &reorderBuffer{
		clock:     clk,
		window:    window,
		flush:     flush,
		pending:   make(map[string][]types.OrderEvent),
		timers:    make(map[string]clock.Timer),
		watermark: make(map[string]time.Time),
	}
}

// push buffers event. It reports false when the event is older than what
// was already released for its symbol.
func (r *reorderBuffer) push(event types.OrderEvent) bool {
	symbol := event.Order.Symbol

	r.mu.Lock()

	if mark, ok := r.watermark[symbol]; ok && event.Timestamp.Before(mark) {
		r.mu.Unlock()

		return false
	}

	if r.window <= 0 {
		r.advanceLocked(symbol, event.Timestamp)
		r.mu.Unlock()
		r.flush(symbol, []types.OrderEvent{event})

		return true
	}

	r.pending[symbol] = append(r.pending[symbol], event)

	if _, scheduled := r.timers[symbol]; !scheduled {
		r.timers[symbol] = r.clock.AfterFunc(r.window, func() { r.release(symbol) })
	}
	r.mu.Unlock()

	return true
}

// release applies the buffered events of symbol in timestamp order.
func (r *reorderBuffer) release(symbol string) {
	r.mu.Lock()
	events := r.pending[symbol]
	delete(r.pending, symbol)
	delete(r.timers, symbol)

	// stable so equal timestamps keep arrival order
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	if len(events) > 0 {
		r.advanceLocked(symbol, events[len(events)-1].Timestamp)
	}
	r.mu.Unlock()

	if len(events) > 0 {
		r.flush(symbol, events)
	}
}

// releaseAll applies everything still buffered.
func (r *reorderBuffer) releaseAll() {
	r.mu.Lock()
	symbols := make([]string, 0, len(r.pending))

	for symbol := range r.pending {
		symbols = append(symbols, symbol)

		if t, ok := r.timers[symbol]; ok {
			t.Stop()
		}
	}
	r.mu.Unlock()

	sort.Strings(symbols)

	for _, symbol := range symbols {
		r.release(symbol)
	}
}

// advance raises the watermark of symbol to at.
func (r *reorderBuffer) advance(symbol string, at time.Time) {
	r.mu.Lock()
	r.advanceLocked(symbol, at)
	r.mu.Unlock()
}

func (r *reorderBuffer) advanceLocked(symbol string, at time.Time) {
	if mark, ok := r.watermark[symbol]; !ok || at.After(mark) {
		r.watermark[symbol] = at
	}
}

func (r *reorderBuffer) buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, events := range r.pending {
		n += len(events)
	}

	return n
}

// reset forgets watermarks and pending events.
func (r *reorderBuffer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.timers {
		t.Stop()
	}

	r.pending = make(map[string][]types.OrderEvent)
	r.timers = make(map[string]clock.Timer)
	r.watermark = make(map[string]time.Time)
}
