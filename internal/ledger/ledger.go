// Package ledger is the cash and position projection of the account. It is
// authoritative for what the process owns and what it may still spend.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type reservation struct {
	symbol    string
	original  decimal.Decimal
	remaining decimal.Decimal
	// orderQty is the share quantity of qty orders; zero for notional orders.
	orderQty float64
}

// Ledger tracks cash, per-order reservations, positions and the in-flight
// order of every symbol.
//
// Compound read-modify-write sequences must hold the symbol lock returned
// by Lock. Individual methods are safe for concurrent use on their own.
type Ledger struct {
	log *logger.Logger

	symbolMu sync.Mutex
	symbols  map[string]*sync.Mutex

	mu           sync.RWMutex
	sodCash      decimal.Decimal
	totalCash    decimal.Decimal
	buyingPower  decimal.Decimal
	reservations map[string]*reservation
	positions    map[string]types.Position
	inFlight     map[string]types.Order

	sink func(types.LedgerSnapshot)
}

// New creates an empty ledger.
func New(log *logger.Logger) *Ledger {
	return &Ledger{
		log:          log.Named("ledger"),
		symbolMu:     sync.Mutex{},
		symbols:      make(map[string]*sync.Mutex),
		mu:           sync.RWMutex{},
		sodCash:      decimal.Zero,
		totalCash:    decimal.Zero,
		buyingPower:  decimal.Zero,
		reservations: make(map[string]*reservation),
		positions:    make(map[string]types.Position),
		inFlight:     make(map[string]types.Order),
		sink:         nil,
	}
}

// SetSnapshotSink registers a callback that receives a snapshot after every mutation.
func (l *Ledger) SetSnapshotSink(sink func(types.LedgerSnapshot)) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// Lock acquires the per-symbol mutex and returns its unlock func.
func (l *Ledger) Lock(symbol string) func() {
	l.symbolMu.Lock()
	m, ok := l.symbols[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.symbols[symbol] = m
	}
	l.symbolMu.Unlock()

	m.Lock()

	return m.Unlock
}

// StartSession samples start-of-day cash from the account and mirrors positions.
// Reservations and in-flight orders are cleared; reconciliation rehydrates them.
func (l *Ledger) StartSession(account types.Account, positions []types.Position) {
	l.mu.Lock()
	l.sodCash = account.Cash
	l.totalCash = account.Cash
	l.buyingPower = account.BuyingPower
	l.reservations = make(map[string]*reservation)
	l.inFlight = make(map[string]types.Order)
	l.positions = make(map[string]types.Position, len(positions))

	for _, p := range positions {
		l.positions[p.Symbol] = p
	}
	l.mu.Unlock()

	l.log.Info("ledger session started",
		zap.String("sod_cash", account.Cash.String()),
		zap.String("buying_power", account.BuyingPower.String()),
		zap.Int("positions", len(positions)),
	)
	l.emit()
}

// SODCash returns start-of-day cash.
func (l *Ledger) SODCash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.sodCash
}

// Available returns total cash minus every outstanding reservation.
func (l *Ledger) Available() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.availableLocked()
}

func (l *Ledger) availableLocked() decimal.Decimal {
	return l.totalCash.Sub(l.reservedLocked())
}

func (l *Ledger) reservedLocked() decimal.Decimal {
	total := decimal.Zero
	for _, r := range l.reservations {
		total = total.Add(r.remaining)
	}

	return total
}

// Position returns the projected position for symbol.
func (l *Ledger) Position(symbol string) types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.positions[symbol]
	if !ok {
		//nolint:exhaustruct
		return types.Position{Symbol: symbol}
	}

	return p
}

// InFlight returns the working order of symbol, if any.
func (l *Ledger) InFlight(symbol string) optional.Option[types.Order] {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.inFlight[symbol]
	if !ok {
		return optional.None[types.Order]()
	}

	return optional.Some(o)
}

// Reserved returns the outstanding reservation of an order.
func (l *Ledger) Reserved(clientOrderID string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.reservations[clientOrderID]
	if !ok {
		return decimal.Zero
	}

	return r.remaining
}

// Reserve sets aside amount for a buy. Reserving the same client order id
// twice has no effect.
func (l *Ledger) Reserve(clientOrderID, symbol string, amount decimal.Decimal, orderQty float64) error {
	l.mu.Lock()

	if _, ok := l.reservations[clientOrderID]; ok {
		l.mu.Unlock()

		return nil
	}

	if amount.IsNegative() {
		l.mu.Unlock()

		return errors.Newf(errors.ErrCodeInvalidParameter, "negative reservation %s for %s", amount, clientOrderID)
	}

	if amount.GreaterThan(l.availableLocked()) {
		available := l.availableLocked()
		l.mu.Unlock()

		return errors.Newf(errors.ErrCodeInsufficientCash, "reserve %s for %s exceeds available %s", amount, symbol, available)
	}

	l.reservations[clientOrderID] = &reservation{
		symbol:    symbol,
		original:  amount,
		remaining: amount,
		orderQty:  orderQty,
	}
	l.buyingPower = l.buyingPower.Sub(amount)
	l.mu.Unlock()

	l.emit()

	return nil
}

// Release returns the remaining reservation of an order to available cash.
func (l *Ledger) Release(clientOrderID string) decimal.Decimal {
	l.mu.Lock()

	r, ok := l.reservations[clientOrderID]
	if !ok {
		l.mu.Unlock()

		return decimal.Zero
	}

	released := r.remaining
	delete(l.reservations, clientOrderID)
	l.buyingPower = l.buyingPower.Add(released)
	l.mu.Unlock()

	l.emit()

	return released
}

// SetInFlight records order as the working order of its symbol. A different
// working order already occupying the slot is an invariant violation.
func (l *Ledger) SetInFlight(order types.Order) error {
	l.mu.Lock()

	if existing, ok := l.inFlight[order.Symbol]; ok && existing.ClientOrderID != order.ClientOrderID {
		l.mu.Unlock()

		return errors.Newf(errors.ErrCodeOrderInFlight, "symbol %s already has working order %s", order.Symbol, existing.ClientOrderID)
	}

	l.inFlight[order.Symbol] = order
	l.mu.Unlock()

	l.emit()

	return nil
}

// ClearInFlight frees the symbol slot if it still holds clientOrderID.
func (l *Ledger) ClearInFlight(symbol, clientOrderID string) bool {
	l.mu.Lock()

	existing, ok := l.inFlight[symbol]
	if !ok || existing.ClientOrderID != clientOrderID {
		l.mu.Unlock()

		return false
	}

	delete(l.inFlight, symbol)
	l.mu.Unlock()

	l.emit()

	return true
}

// ApplyFill books a fill of fillQty shares at price for order. Buys debit
// cash and release the matching share of their reservation; sells credit cash.
func (l *Ledger) ApplyFill(order types.Order, fillQty, price float64, at time.Time) {
	if fillQty <= 0 {
		return
	}

	notional := decimal.NewFromFloat(fillQty).Mul(decimal.NewFromFloat(price))

	l.mu.Lock()

	signed := fillQty
	if order.Side == types.OrderSideSell {
		signed = -fillQty
		l.totalCash = l.totalCash.Add(notional)
		l.buyingPower = l.buyingPower.Add(notional)
	} else {
		if r, ok := l.reservations[order.ClientOrderID]; ok {
			release := notional
			if r.orderQty > 0 {
				release = r.original.Mul(decimal.NewFromFloat(fillQty)).Div(decimal.NewFromFloat(r.orderQty))
			}

			if release.GreaterThan(r.remaining) {
				release = r.remaining
			}

			r.remaining = r.remaining.Sub(release)
			l.buyingPower = l.buyingPower.Add(release)
		}

		l.totalCash = l.totalCash.Sub(notional)
		l.buyingPower = l.buyingPower.Sub(notional)
	}

	p, ok := l.positions[order.Symbol]
	if !ok {
		//nolint:exhaustruct
		p = types.Position{Symbol: order.Symbol}
	}

	p.ApplyFill(signed, price, at)
	l.positions[order.Symbol] = p

	if current, ok := l.inFlight[order.Symbol]; ok && current.ClientOrderID == order.ClientOrderID {
		current.FilledQty += fillQty
		l.inFlight[order.Symbol] = current
	}

	negative := l.availableLocked().IsNegative()
	available := l.availableLocked()
	l.mu.Unlock()

	if negative {
		l.log.Critical("available cash went negative after fill",
			zap.String("symbol", order.Symbol),
			zap.String("client_order_id", order.ClientOrderID),
			zap.String("available", available.String()),
		)
	}

	l.emit()
}

// Symbols returns every symbol with a non-zero position, sorted.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.positions))
	for s, p := range l.positions {
		if p.Qty != 0 {
			out = append(out, s)
		}
	}

	sort.Strings(out)

	return out
}

// Snapshot returns a copy of the ledger state.
func (l *Ledger) Snapshot() types.LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() types.LedgerSnapshot {
	positions := make(map[string]types.Position, len(l.positions))
	for s, p := range l.positions {
		positions[s] = p
	}

	inFlight := make(map[string]optional.Option[types.Order], len(l.inFlight))
	for s, o := range l.inFlight {
		inFlight[s] = optional.Some(o)
	}

	reserved := l.reservedLocked()

	return types.LedgerSnapshot{
		SODCash:       l.sodCash,
		TotalCash:     l.totalCash,
		AvailableCash: l.totalCash.Sub(reserved),
		ReservedCash:  reserved,
		BuyingPower:   l.buyingPower,
		Positions:     positions,
		InFlight:      inFlight,
	}
}

func (l *Ledger) emit() {
	l.mu.RLock()
	sink := l.sink
	var snap types.LedgerSnapshot
	if sink != nil {
		snap = l.snapshotLocked()
	}
	l.mu.RUnlock()

	if sink != nil {
		sink(snap)
	}
}
