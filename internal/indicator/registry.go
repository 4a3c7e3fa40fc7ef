package indicator

import (
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

// IndicatorRegistry manages the indicators that make up the enriched feature vector.
type IndicatorRegistry interface {
	RegisterIndicator(indicator Indicator) error
	GetIndicator(name string) (Indicator, error)
	ListIndicators() []string
	RemoveIndicator(name string) error
	// Columns returns every column written by the registered indicators.
	Columns() []types.Column
	// Lookback returns the largest lookback of the registered indicators.
	Lookback() int
	// Compute runs every indicator over the window and returns the feature map.
	Compute(w *Window) map[types.Column]float64
}

// IndicatorRegistryV1 manages all available indicators.
type IndicatorRegistryV1 struct {
	indicators map[string]Indicator
	order      []string
	mu         sync.RWMutex
}

// NewIndicatorRegistry creates a new, empty indicator registry.
func NewIndicatorRegistry() IndicatorRegistry {
	return &IndicatorRegistryV1{
		indicators: make(map[string]Indicator),
		order:      nil,
		mu:         sync.RWMutex{},
	}
}

// NewDefaultRegistry creates a registry holding the full enriched feature set,
// with session-time features computed in loc.
func NewDefaultRegistry(loc *time.Location) IndicatorRegistry {
	r := NewIndicatorRegistry()

	for _, ind := range []Indicator{
		NewPrice(),
		NewMovingAverage(),
		NewExponentialMovingAverage(),
		NewMACD(),
		NewRSI(),
		NewATR(),
		NewBollingerBands(),
		NewStochastic(),
		NewADX(),
		NewCumulative(),
		NewVWAP(),
		NewReturnFeatures(),
		NewSessionTime(loc),
	} {
		// names are unique in this list
		_ = r.RegisterIndicator(ind)
	}

	return r
}

// RegisterIndicator adds an indicator to the registry.
func (r *IndicatorRegistryV1) RegisterIndicator(indicator Indicator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := indicator.Name()
	if _, exists := r.indicators[name]; exists {
		return errors.Newf(errors.ErrCodeInvalidParameter, "RegisterIndicator: indicator with name %s already registered", name)
	}

	r.indicators[name] = indicator
	r.order = append(r.order, name)

	return nil
}

// GetIndicator retrieves an indicator by name.
func (r *IndicatorRegistryV1) GetIndicator(name string) (Indicator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	indicator, exists := r.indicators[name]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "GetIndicator: indicator with name %s not found", name)
	}

	return indicator, nil
}

// ListIndicators returns the registered indicator names, sorted.
func (r *IndicatorRegistryV1) ListIndicators() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.indicators))
	for name := range r.indicators {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// RemoveIndicator removes an indicator from the registry.
func (r *IndicatorRegistryV1) RemoveIndicator(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.indicators[name]; !exists {
		return errors.Newf(errors.ErrCodeDataNotFound, "RemoveIndicator: indicator with name %s not found", name)
	}

	delete(r.indicators, name)

	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)

			break
		}
	}

	return nil
}

// Columns returns the columns of every indicator in registration order.
func (r *IndicatorRegistryV1) Columns() []types.Column {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cols []types.Column
	for _, name := range r.order {
		cols = append(cols, r.indicators[name].Columns()...)
	}

	return cols
}

// Lookback returns the largest lookback of the registered indicators.
func (r *IndicatorRegistryV1) Lookback() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := 0
	for _, ind := range r.indicators {
		if lb := ind.Lookback(); lb > m {
			m = lb
		}
	}

	return m
}

// Compute runs every indicator over the window.
func (r *IndicatorRegistryV1) Compute(w *Window) map[types.Column]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[types.Column]float64, 64)
	for _, name := range r.order {
		r.indicators[name].Compute(w, out)
	}

	return out
}
