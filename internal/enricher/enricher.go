// Package enricher turns the raw bar stream of every symbol into enriched
// bars carrying the full indicator vector.
package enricher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/indicator"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// Options configures an Enricher.
type Options struct {
	// WindowSize is the number of bars kept per symbol. It is raised to the
	// registry lookback when smaller.
	WindowSize int
	// Policy overrides the raw bar subscription policy. Nil keeps the topic default.
	Policy *bus.Policy
	// Location is the exchange time zone for session-time features.
	Location *time.Location
}

// Enricher keeps a rolling window of bars per symbol and publishes one
// EnrichedBar per processed bar.
type Enricher struct {
	log      *logger.Logger
	bus      *bus.Bus
	registry indicator.IndicatorRegistry
	size     int
	policy   *bus.Policy

	mu      sync.Mutex
	windows map[string]*indicator.Window
	latest  map[string]types.EnrichedBar
	subs    map[string]*bus.Subscriber
	running bool
}

// New creates an enricher. A nil registry uses the default feature set.
func New(log *logger.Logger, b *bus.Bus, registry indicator.IndicatorRegistry, opts Options) *Enricher {
	if registry == nil {
		registry = indicator.NewDefaultRegistry(opts.Location)
	}

	size := opts.WindowSize
	if lb := registry.Lookback(); size < lb {
		size = lb
	}

	return &Enricher{
		log:      log.Named("enricher"),
		bus:      b,
		registry: registry,
		size:     size,
		policy:   opts.Policy,
		windows:  make(map[string]*indicator.Window),
		latest:   make(map[string]types.EnrichedBar),
		subs:     make(map[string]*bus.Subscriber),
	}
}

// Start subscribes to the raw bar topic of every symbol.
func (e *Enricher) Start(ctx context.Context, symbols []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New(errors.ErrCodeInvalidConfiguration, "enricher already started")
	}

	e.running = true

	for _, symbol := range symbols {
		e.subscribeLocked(symbol)
	}

	e.log.Info("enricher started", zap.Strings("symbols", symbols), zap.Int("window", e.size))

	return nil
}

func (e *Enricher) subscribeLocked(symbol string) {
	if _, ok := e.subs[symbol]; ok {
		return
	}

	var opts []bus.SubscribeOption
	if e.policy != nil {
		opts = append(opts, bus.WithPolicy(*e.policy))
	}

	e.subs[symbol] = bus.Subscribe(e.bus, bus.BarTopic(symbol), "enricher."+symbol, e.OnBar, opts...)
}

// Restart changes the symbol set. Dropped symbols lose their state.
func (e *Enricher) Restart(symbols []string) {
	keep := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		keep[s] = true
	}

	e.mu.Lock()

	var dropped []*bus.Subscriber

	for symbol, sub := range e.subs {
		if !keep[symbol] {
			dropped = append(dropped, sub)
			delete(e.subs, symbol)
			delete(e.windows, symbol)
			delete(e.latest, symbol)
		}
	}

	if e.running {
		for _, symbol := range symbols {
			e.subscribeLocked(symbol)
		}
	}
	e.mu.Unlock()

	for _, sub := range dropped {
		sub.Unsubscribe()
	}
}

// OnBar enriches bar and publishes the result. An end-of-stream sentinel
// discards the symbol's window.
func (e *Enricher) OnBar(ctx context.Context, bar types.Bar) error {
	if bar.EndOfStream {
		e.reset(bar.Symbol)

		return nil
	}

	enriched := e.Enrich(bar)

	bus.Publish(ctx, e.bus, bus.EnrichedTopic(bar.Symbol), enriched)

	return nil
}

// Enrich pushes bar into the symbol window and computes its feature vector.
func (e *Enricher) Enrich(bar types.Bar) types.EnrichedBar {
	e.mu.Lock()
	w, ok := e.windows[bar.Symbol]
	if !ok {
		w = indicator.NewWindow(e.size)
		e.windows[bar.Symbol] = w
	}
	e.mu.Unlock()

	// one subscriber goroutine per symbol owns its window
	w.Push(bar)

	enriched := types.EnrichedBar{
		Bar:      bar,
		Features: e.registry.Compute(w),
	}

	e.mu.Lock()
	e.latest[bar.Symbol] = enriched
	e.mu.Unlock()

	return enriched
}

// Latest returns the most recent enriched bar of symbol.
func (e *Enricher) Latest(symbol string) (types.EnrichedBar, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bar, ok := e.latest[symbol]

	return bar, ok
}

// Symbols returns the subscribed symbols, sorted.
func (e *Enricher) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.subs))
	for s := range e.subs {
		out = append(out, s)
	}

	sort.Strings(out)

	return out
}

// Columns returns the feature columns of every enriched bar.
func (e *Enricher) Columns() []types.Column {
	return e.registry.Columns()
}

func (e *Enricher) reset(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.windows, symbol)
	delete(e.latest, symbol)
}

// Drain waits until every symbol's queued bars are processed.
func (e *Enricher) Drain(ctx context.Context) error {
	for _, sub := range e.subscribers() {
		if err := sub.Drain(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Stop drains, unsubscribes and discards all session state.
func (e *Enricher) Stop(ctx context.Context) error {
	err := e.Drain(ctx)
	if err != nil {
		e.log.Warn("enricher drain incomplete", zap.Error(err))
	}

	for _, sub := range e.subscribers() {
		sub.Unsubscribe()
	}

	e.mu.Lock()
	e.subs = make(map[string]*bus.Subscriber)
	e.windows = make(map[string]*indicator.Window)
	e.latest = make(map[string]types.EnrichedBar)
	e.running = false
	e.mu.Unlock()

	e.log.Info("enricher stopped")

	return err
}

// Stats returns the bus counters per symbol.
func (e *Enricher) Stats() map[string]bus.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]bus.Stats, len(e.subs))
	for s, sub := range e.subs {
		out[s] = sub.Stats()
	}

	return out
}

func (e *Enricher) subscribers() []*bus.Subscriber {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*bus.Subscriber, 0, len(e.subs))
	for _, sub := range e.subs {
		out = append(out, sub)
	}

	return out
}
