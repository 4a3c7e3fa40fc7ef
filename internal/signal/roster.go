package signal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"go.uber.org/zap"
)

// DefaultBatchWindow is how long a roster waits for the other symbols of a tick.
const DefaultBatchWindow = 50 * time.Millisecond

// RosterAggregator batches per-symbol signals of one tick into a SignalRoster.
// A batch is published when every active symbol reported, when the batch
// window elapses, or when a signal of a later tick arrives. Signals of a tick
// older than the open batch are dropped, so a roster never mixes ticks.
type RosterAggregator struct {
	log    *logger.Logger
	bus    *bus.Bus
	clock  clock.Clock
	window time.Duration

	mu        sync.Mutex
	ctx       context.Context
	active    map[string]bool
	next      map[string]bool
	tick      time.Time
	pending   map[string]types.Signal
	prices    map[string]float64
	timer     clock.Timer
	published time.Time
	count     int
}

// NewRosterAggregator creates an aggregator publishing on the roster topic.
func NewRosterAggregator(log *logger.Logger, b *bus.Bus, clk clock.Clock, window time.Duration) *RosterAggregator {
	if window <= 0 {
		window = DefaultBatchWindow
	}

	return &RosterAggregator{
		log:     log.Named("roster"),
		bus:     b,
		clock:   clk,
		window:  window,
		ctx:     context.Background(),
		active:  make(map[string]bool),
		pending: make(map[string]types.Signal),
		prices:  make(map[string]float64),
	}
}

// SetActive replaces the active symbol set. While a batch is open the new set
// waits until that batch is published, so a tick keeps the membership it
// started with.
func (a *RosterAggregator) SetActive(ctx context.Context, symbols []string) {
	next := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		next[s] = true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.ctx = ctx

	if len(a.pending) > 0 {
		a.next = next

		return
	}

	a.active = next
	a.next = nil
}

// Add records sig and the close price it was computed on in the batch of its tick.
func (a *RosterAggregator) Add(sig types.Signal, price float64) {
	var ready []types.SignalRoster

	a.mu.Lock()

	switch {
	case !a.active[sig.Symbol] && !a.next[sig.Symbol]:
		a.mu.Unlock()

		return
	case !a.published.IsZero() && !sig.Time.After(a.published):
		a.mu.Unlock()
		a.log.Debug("dropping signal of a published tick", zap.String("symbol", sig.Symbol), zap.Time("tick", sig.Time))

		return
	case len(a.pending) > 0 && sig.Time.Before(a.tick):
		a.mu.Unlock()
		a.log.Debug("dropping late signal", zap.String("symbol", sig.Symbol), zap.Time("tick", sig.Time), zap.Time("open_tick", a.tick))

		return
	case len(a.pending) > 0 && sig.Time.After(a.tick):
		ready = append(ready, a.takeLocked())
	}

	ctx := a.ctx

	// joins with the tick after the open batch
	if !a.active[sig.Symbol] {
		a.mu.Unlock()

		for _, roster := range ready {
			bus.Publish(ctx, a.bus, bus.RosterTopic(), roster)
		}

		return
	}

	if len(a.pending) == 0 {
		a.tick = sig.Time
		a.timer = a.clock.AfterFunc(a.window, a.onTimer(sig.Time))
	}

	a.pending[sig.Symbol] = sig
	a.prices[sig.Symbol] = price

	if len(a.pending) == len(a.active) {
		ready = append(ready, a.takeLocked())
	}
	a.mu.Unlock()

	for _, roster := range ready {
		bus.Publish(ctx, a.bus, bus.RosterTopic(), roster)
	}
}

func (a *RosterAggregator) onTimer(tick time.Time) func() {
	return func() {
		a.mu.Lock()
		if len(a.pending) == 0 || !a.tick.Equal(tick) {
			a.mu.Unlock()

			return
		}

		roster := a.takeLocked()
		ctx := a.ctx
		a.mu.Unlock()

		bus.Publish(ctx, a.bus, bus.RosterTopic(), roster)
	}
}

// Flush publishes the open batch, if any.
func (a *RosterAggregator) Flush() {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()

		return
	}

	roster := a.takeLocked()
	ctx := a.ctx
	a.mu.Unlock()

	bus.Publish(ctx, a.bus, bus.RosterTopic(), roster)
}

// Published returns the number of rosters published.
func (a *RosterAggregator) Published() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.count
}

// Reset drops the open batch without publishing it.
func (a *RosterAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}

	a.pending = make(map[string]types.Signal)
	a.prices = make(map[string]float64)
	a.published = time.Time{}

	if a.next != nil {
		a.active = a.next
		a.next = nil
	}
}

func (a *RosterAggregator) takeLocked() types.SignalRoster {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}

	symbols := make([]string, 0, len(a.pending))
	for s := range a.pending {
		symbols = append(symbols, s)
	}

	sort.Strings(symbols)

	roster := types.SignalRoster{
		Tick:    a.tick,
		Symbols: symbols,
		Signals: a.pending,
		Prices:  a.prices,
	}

	a.pending = make(map[string]types.Signal)
	a.prices = make(map[string]float64)
	a.published = a.tick
	a.count++

	if a.next != nil {
		a.active = a.next
		a.next = nil
	}

	return roster
}
