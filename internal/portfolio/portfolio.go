// Package portfolio turns signal rosters into target weights.
package portfolio

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/strategy"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// Resolver supplies the buffered portfolio strategy of a symbol set.
type Resolver interface {
	PortfolioStrategy(symbols []string) (*strategy.BufferedPortfolioStrategy, error)
}

// Generator allocates the active symbol set on every roster.
type Generator struct {
	log      *logger.Logger
	bus      *bus.Bus
	resolver Resolver

	mu       sync.Mutex
	symbols  []string
	active   map[string]bool
	strategy *strategy.BufferedPortfolioStrategy
	prices   map[string]float64
	last     types.TargetWeights
	sub      *bus.Subscriber
}

// NewGenerator creates a portfolio generator.
func NewGenerator(log *logger.Logger, b *bus.Bus, resolver Resolver) *Generator {
	return &Generator{
		log:      log.Named("portfolio"),
		bus:      b,
		resolver: resolver,
		active:   make(map[string]bool),
		prices:   make(map[string]float64),
	}
}

// Start resolves the portfolio strategy of symbols and subscribes to the
// roster topic. held marks symbols that already carry a position.
func (g *Generator) Start(ctx context.Context, symbols []string, held []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sub != nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "portfolio generator already started")
	}

	if err := g.resolveLocked(symbols); err != nil {
		return err
	}

	g.strategy.SetHeld(held)
	g.sub = bus.Subscribe(g.bus, bus.RosterTopic(), "portfolio", g.OnRoster)

	g.log.Info("portfolio generator started",
		zap.Strings("symbols", g.symbols),
		zap.String("strategy", g.strategy.Strategy().HashID()),
		zap.Strings("held", held),
	)

	return nil
}

func (g *Generator) resolveLocked(symbols []string) error {
	p, err := g.resolver.PortfolioStrategy(symbols)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStrategyNotFound, "failed to resolve portfolio strategy", err)
	}

	g.strategy = p
	g.symbols = append([]string(nil), p.Symbols()...)
	g.active = make(map[string]bool, len(g.symbols))

	for _, s := range g.symbols {
		g.active[s] = true
	}

	for s := range g.prices {
		if !g.active[s] {
			delete(g.prices, s)
		}
	}

	return nil
}

// Restart switches to the strategy of a new symbol set, carrying over the
// held symbols that remain active.
func (g *Generator) Restart(symbols []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var held []string
	if g.strategy != nil {
		held = g.strategy.Held()
	}

	if err := g.resolveLocked(symbols); err != nil {
		return err
	}

	var keep []string

	for _, s := range held {
		if g.active[s] {
			keep = append(keep, s)
		}
	}

	g.strategy.SetHeld(keep)

	return nil
}

// OnRoster allocates the roster and publishes the resulting weights.
func (g *Generator) OnRoster(ctx context.Context, roster types.SignalRoster) error {
	weights, err := g.Allocate(roster)
	if err != nil {
		return err
	}

	bus.Publish(ctx, g.bus, bus.WeightsTopic(), weights)

	return nil
}

// Allocate computes the target weights of roster. Symbols missing from the
// roster hold. Weights of symbols without a valid latest price are zeroed and
// the rest renormalized to sum to one; an all-zero row goes to cash.
func (g *Generator) Allocate(roster types.SignalRoster) (types.TargetWeights, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.strategy == nil {
		return types.TargetWeights{}, errors.New(errors.ErrCodeStrategyNotFound, "portfolio generator not started")
	}

	for s, price := range roster.Prices {
		if g.active[s] && validPrice(price) {
			g.prices[s] = price
		}
	}

	g.strategy.Observe(roster.Prices)

	signals := make(map[string]types.Signal, len(g.symbols))

	for _, s := range g.symbols {
		if sig, ok := roster.Signals[s]; ok {
			signals[s] = sig
		} else {
			signals[s] = types.HoldSignal(s, roster.Tick)
		}
	}

	raw, err := g.strategy.Next(signals)
	if err != nil {
		g.log.Error("portfolio allocation failed", zap.Time("tick", roster.Tick), zap.Error(err))

		return types.TargetWeights{}, err
	}

	weights := Normalize(raw, g.prices, g.symbols)
	prices := make(map[string]float64, len(g.prices))

	for s, p := range g.prices {
		prices[s] = p
	}

	out := types.TargetWeights{
		Tick:    roster.Tick,
		Symbols: append([]string(nil), g.symbols...),
		Weights: weights,
		Prices:  prices,
	}
	g.last = out

	return out, nil
}

// Normalize masks raw to symbols with a valid price and rescales the
// remaining weights to sum to one. Every symbol gets an entry.
func Normalize(raw map[string]float64, prices map[string]float64, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	total := 0.0

	for _, s := range symbols {
		w := raw[s]
		if !validPrice(prices[s]) || math.IsNaN(w) || w < 0 {
			w = 0
		}

		out[s] = w
		total += w
	}

	if total <= 0 {
		for s := range out {
			out[s] = 0
		}

		return out
	}

	for s := range out {
		out[s] /= total
	}

	return out
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// Last returns the most recently computed weights.
func (g *Generator) Last() types.TargetWeights {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.last
}

// Held returns the symbols the strategy currently holds, sorted.
func (g *Generator) Held() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.strategy == nil {
		return nil
	}

	held := g.strategy.Held()
	sort.Strings(held)

	return held
}

// Drain waits until every queued roster is allocated.
func (g *Generator) Drain(ctx context.Context) error {
	g.mu.Lock()
	sub := g.sub
	g.mu.Unlock()

	if sub == nil {
		return nil
	}

	return sub.Drain(ctx)
}

// Stop drains and unsubscribes the generator.
func (g *Generator) Stop(ctx context.Context) error {
	err := g.Drain(ctx)
	if err != nil {
		g.log.Warn("portfolio drain incomplete", zap.Error(err))
	}

	g.mu.Lock()
	sub := g.sub
	g.sub = nil

	if g.strategy != nil {
		g.strategy.Reset()
	}

	g.prices = make(map[string]float64)
	g.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	g.log.Info("portfolio generator stopped")

	return err
}
