// Package registry resolves the strategies of a session from the viable
// strategies catalog.
package registry

import (
	"sort"
	"sync"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/strategy"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// Options configures a Registry.
type Options struct {
	CatalogPath string
	// ViabilityThreshold drops signal entries scoring below it.
	ViabilityThreshold    float64
	CombinedBuyThreshold  float64
	CombinedSellThreshold float64
	// SignalBuffer is the enriched-bar window of each component.
	SignalBuffer int
	// ReturnsWindow is the returns matrix depth of portfolio strategies.
	ReturnsWindow int
}

// Registry caches one combined signal strategy per symbol and one buffered
// portfolio strategy per symbol set. On a cache miss the catalog is re-read
// from disk before giving up.
type Registry struct {
	log  *logger.Logger
	opts Options

	mu         sync.Mutex
	catalog    *Catalog
	signals    map[string]*strategy.CombinedWeightedSignalStrategy
	portfolios map[string]*strategy.BufferedPortfolioStrategy
}

// New loads the catalog and returns a registry.
func New(log *logger.Logger, opts Options) (*Registry, error) {
	catalog, err := LoadCatalog(opts.CatalogPath)
	if err != nil {
		return nil, err
	}

	return &Registry{
		log:        log.Named("registry"),
		opts:       opts,
		catalog:    catalog,
		signals:    make(map[string]*strategy.CombinedWeightedSignalStrategy),
		portfolios: make(map[string]*strategy.BufferedPortfolioStrategy),
	}, nil
}

// SignalStrategy returns the combined strategy of symbol.
func (r *Registry) SignalStrategy(symbol string) (*strategy.CombinedWeightedSignalStrategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.signals[symbol]; ok {
		return s, nil
	}

	if _, ok := r.catalog.Signal[symbol]; !ok {
		if err := r.reloadLocked(); err != nil {
			return nil, err
		}
	}

	s, err := r.buildSignalLocked(symbol)
	if err != nil {
		return nil, err
	}

	r.signals[symbol] = s

	return s, nil
}

func (r *Registry) buildSignalLocked(symbol string) (*strategy.CombinedWeightedSignalStrategy, error) {
	entries := r.catalog.Signal[symbol]
	names := make([]string, 0, len(entries))

	for name := range entries {
		names = append(names, name)
	}

	sort.Strings(names)

	var components []strategy.Component

	for _, name := range names {
		entry := entries[name]
		if entry.ViabilityScore < r.opts.ViabilityThreshold {
			r.log.Debug("skipping strategy below viability threshold",
				zap.String("symbol", symbol),
				zap.String("strategy", name),
				zap.Float64("viability_score", entry.ViabilityScore),
			)

			continue
		}

		s, err := strategy.NewSignalStrategy(name, entry.Params)
		if err != nil {
			r.log.Warn("skipping strategy", zap.String("symbol", symbol), zap.String("strategy", name), zap.Error(err))

			continue
		}

		weight := entry.ViabilityScore
		if entry.Weight != nil {
			weight = *entry.Weight
		}

		components = append(components, strategy.Component{
			Strategy:      strategy.NewBufferedSignalStrategy(s, r.opts.SignalBuffer),
			Weight:        weight,
			BuyThreshold:  entry.BuyThreshold,
			SellThreshold: entry.SellThreshold,
		})
	}

	if len(components) == 0 {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "no viable signal strategy for %s", symbol)
	}

	return strategy.NewCombinedWeightedSignalStrategy(symbol, components, r.opts.CombinedBuyThreshold, r.opts.CombinedSellThreshold)
}

// PortfolioStrategy returns the buffered portfolio strategy of the symbol
// set. A set without a usable catalog entry gets equal weights.
func (r *Registry) PortfolioStrategy(symbols []string) (*strategy.BufferedPortfolioStrategy, error) {
	key := strategy.SymbolsKey(symbols)

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.portfolios[key]; ok {
		return p, nil
	}

	if _, ok := r.catalog.Portfolio[key]; !ok {
		if err := r.reloadLocked(); err != nil {
			return nil, err
		}
	}

	var inner strategy.PortfolioStrategy

	entries := r.catalog.Portfolio[key]
	names := make([]string, 0, len(entries))

	for name := range entries {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		p, err := strategy.NewPortfolioStrategy(name, entries[name])
		if err != nil {
			r.log.Warn("skipping portfolio strategy", zap.String("key", key), zap.String("strategy", name), zap.Error(err))

			continue
		}

		inner = p

		break
	}

	if inner == nil {
		r.log.Warn("no portfolio strategy in catalog, using equal weight", zap.String("key", key))

		p, err := strategy.NewEqualWeight(nil)
		if err != nil {
			return nil, err
		}

		inner = p
	}

	buffered := strategy.NewBufferedPortfolioStrategy(inner, symbols, r.opts.ReturnsWindow)
	r.portfolios[key] = buffered

	return buffered, nil
}

// Reload re-reads the catalog and drops every cached strategy.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.reloadLocked(); err != nil {
		return err
	}

	r.signals = make(map[string]*strategy.CombinedWeightedSignalStrategy)
	r.portfolios = make(map[string]*strategy.BufferedPortfolioStrategy)

	return nil
}

func (r *Registry) reloadLocked() error {
	catalog, err := LoadCatalog(r.opts.CatalogPath)
	if err != nil {
		return err
	}

	r.catalog = catalog

	return nil
}

// PutSignal stores a signal entry and persists the catalog.
func (r *Registry) PutSignal(symbol, name string, entry SignalEntry) error {
	if _, err := strategy.NewSignalStrategy(name, entry.Params); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.catalog.Signal[symbol] == nil {
		r.catalog.Signal[symbol] = make(map[string]SignalEntry)
	}

	r.catalog.Signal[symbol][name] = entry
	delete(r.signals, symbol)

	return r.catalog.Save(r.opts.CatalogPath)
}

// PutPortfolio stores a portfolio entry and persists the catalog.
func (r *Registry) PutPortfolio(symbols []string, name string, params map[string]any) error {
	if _, err := strategy.NewPortfolioStrategy(name, params); err != nil {
		return err
	}

	key := strategy.SymbolsKey(symbols)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.catalog.Portfolio[key] == nil {
		r.catalog.Portfolio[key] = make(map[string]map[string]any)
	}

	r.catalog.Portfolio[key][name] = params
	delete(r.portfolios, key)

	return r.catalog.Save(r.opts.CatalogPath)
}
