// Package signal turns enriched bars into per-symbol signals and batches
// them into one roster per tick.
package signal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/strategy"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// Resolver supplies the combined strategy of a symbol.
type Resolver interface {
	SignalStrategy(symbol string) (*strategy.CombinedWeightedSignalStrategy, error)
}

// Options configures a Generator.
type Options struct {
	// BatchWindow bounds how long a roster waits for slow symbols.
	BatchWindow time.Duration
}

// Generator runs one combined strategy per symbol. Symbols without a viable
// strategy still report, with a hold signal per bar, so rosters stay complete.
type Generator struct {
	log      *logger.Logger
	bus      *bus.Bus
	resolver Resolver
	roster   *RosterAggregator

	mu         sync.Mutex
	strategies map[string]*strategy.CombinedWeightedSignalStrategy
	subs       map[string]*bus.Subscriber
	last       map[string]types.Signal
	failures   map[string]int
	running    bool
}

// NewGenerator creates a generator.
func NewGenerator(log *logger.Logger, b *bus.Bus, clk clock.Clock, resolver Resolver, opts Options) *Generator {
	log = log.Named("signal")

	return &Generator{
		log:        log,
		bus:        b,
		resolver:   resolver,
		roster:     NewRosterAggregator(log, b, clk, opts.BatchWindow),
		strategies: make(map[string]*strategy.CombinedWeightedSignalStrategy),
		subs:       make(map[string]*bus.Subscriber),
		last:       make(map[string]types.Signal),
		failures:   make(map[string]int),
	}
}

// Start resolves the strategies of symbols and subscribes to their
// enriched bars.
func (g *Generator) Start(ctx context.Context, symbols []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return errors.New(errors.ErrCodeInvalidConfiguration, "signal generator already started")
	}

	g.running = true
	g.roster.SetActive(ctx, symbols)

	for _, symbol := range symbols {
		g.addLocked(symbol)
	}

	g.log.Info("signal generator started",
		zap.Strings("symbols", symbols),
		zap.Int("with_strategy", len(g.strategies)),
	)

	return nil
}

func (g *Generator) addLocked(symbol string) {
	if _, ok := g.subs[symbol]; ok {
		return
	}

	s, err := g.resolver.SignalStrategy(symbol)
	if err != nil {
		g.log.Warn("no signal strategy, symbol will hold", zap.String("symbol", symbol), zap.Error(err))
	} else {
		g.strategies[symbol] = s
	}

	g.subs[symbol] = bus.Subscribe(g.bus, bus.EnrichedTopic(symbol), "signal."+symbol, g.OnEnriched)
}

// Restart changes the symbol set.
func (g *Generator) Restart(ctx context.Context, symbols []string) {
	keep := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		keep[s] = true
	}

	g.mu.Lock()

	var dropped []*bus.Subscriber

	for symbol, sub := range g.subs {
		if !keep[symbol] {
			dropped = append(dropped, sub)
			delete(g.subs, symbol)
			delete(g.strategies, symbol)
			delete(g.last, symbol)
		}
	}

	g.roster.SetActive(ctx, symbols)

	if g.running {
		for _, symbol := range symbols {
			g.addLocked(symbol)
		}
	}
	g.mu.Unlock()

	for _, sub := range dropped {
		sub.Unsubscribe()
	}
}

// OnEnriched computes the signal of bar. A strategy error suppresses the
// signal for this tick and is returned to the bus, which logs it.
func (g *Generator) OnEnriched(ctx context.Context, bar types.EnrichedBar) error {
	sig, err := g.Generate(bar)
	if err != nil {
		return err
	}

	bus.Publish(ctx, g.bus, bus.SignalTopic(bar.Symbol), sig)
	g.roster.Add(sig, bar.Close)

	return nil
}

// Generate runs the symbol strategy on bar.
func (g *Generator) Generate(bar types.EnrichedBar) (types.Signal, error) {
	g.mu.Lock()
	s, ok := g.strategies[bar.Symbol]
	g.mu.Unlock()

	if !ok {
		sig := types.HoldSignal(bar.Symbol, bar.Time)
		g.remember(sig)

		return sig, nil
	}

	// the symbol's subscriber goroutine is the only caller of its strategy
	sig, err := s.Next(bar)
	if err != nil {
		g.mu.Lock()
		g.failures[bar.Symbol]++
		g.mu.Unlock()

		g.log.Error("signal strategy failed",
			zap.String("symbol", bar.Symbol),
			zap.String("strategy", s.HashID()),
			zap.Time("tick", bar.Time),
			zap.Error(err),
		)

		return types.Signal{}, err
	}

	g.remember(sig)

	return sig, nil
}

func (g *Generator) remember(sig types.Signal) {
	g.mu.Lock()
	g.last[sig.Symbol] = sig
	g.mu.Unlock()
}

// Last returns the most recent signal of symbol.
func (g *Generator) Last(symbol string) (types.Signal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sig, ok := g.last[symbol]

	return sig, ok
}

// Failures returns the number of failed ticks of symbol.
func (g *Generator) Failures(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.failures[symbol]
}

// Symbols returns the subscribed symbols, sorted.
func (g *Generator) Symbols() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, 0, len(g.subs))
	for s := range g.subs {
		out = append(out, s)
	}

	sort.Strings(out)

	return out
}

// Roster returns the roster aggregator.
func (g *Generator) Roster() *RosterAggregator {
	return g.roster
}

// Drain waits for queued enriched bars and publishes the open roster.
func (g *Generator) Drain(ctx context.Context) error {
	for _, sub := range g.subscribers() {
		if err := sub.Drain(ctx); err != nil {
			return err
		}
	}

	g.roster.Flush()

	return nil
}

// Stop drains and unsubscribes every symbol and resets strategy state.
func (g *Generator) Stop(ctx context.Context) error {
	err := g.Drain(ctx)
	if err != nil {
		g.log.Warn("signal drain incomplete", zap.Error(err))
	}

	for _, sub := range g.subscribers() {
		sub.Unsubscribe()
	}

	g.mu.Lock()
	for _, s := range g.strategies {
		s.Reset()
	}

	g.subs = make(map[string]*bus.Subscriber)
	g.strategies = make(map[string]*strategy.CombinedWeightedSignalStrategy)
	g.last = make(map[string]types.Signal)
	g.running = false
	g.mu.Unlock()

	g.roster.Reset()
	g.log.Info("signal generator stopped")

	return err
}

func (g *Generator) subscribers() []*bus.Subscriber {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*bus.Subscriber, 0, len(g.subs))
	for _, sub := range g.subs {
		out = append(out, sub)
	}

	return out
}
