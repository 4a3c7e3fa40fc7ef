// Package executor turns target weights into broker orders. It submits at
// most one working order per symbol and never waits for fills.
package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-live/internal/broker"
	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/ledger"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/storage"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sizing selects how a weight delta becomes an order size.
type Sizing string

const (
	SizingQty      Sizing = "qty"
	SizingNotional Sizing = "notional"
)

// Namespace seeds the name-based client order ids.
var Namespace = uuid.MustParse("6f1c2a8e-3d4b-5e6f-8a9b-0c1d2e3f4a5b")

// ClientOrderID returns the deterministic id of the seq-th order of symbol on sessionDate.
func ClientOrderID(symbol, sessionDate string, seq int) string {
	return uuid.NewSHA1(Namespace, []byte(fmt.Sprintf("%s|%s|%d", symbol, sessionDate, seq))).String()
}

// SkipReason explains why no order was submitted for a symbol.
type SkipReason string

const (
	SkipNone              SkipReason = ""
	SkipHold              SkipReason = "hold"
	SkipDirection         SkipReason = "direction_on_hold"
	SkipInFlight          SkipReason = "in_flight"
	SkipInsufficientCash  SkipReason = "insufficient_cash"
	SkipBelowMinimum      SkipReason = "below_min_notional"
	SkipNoPrice           SkipReason = "no_price"
	SkipNoChange          SkipReason = "no_change"
	SkipNoPosition        SkipReason = "no_position"
	SkipTickLimit         SkipReason = "tick_limit"
	SkipNotInRoster       SkipReason = "not_in_roster"
	SkipReservationFailed SkipReason = "reservation_failed"
	SkipRateLimited       SkipReason = "rate_limited"
)

// defaultRateLimitPause applies when a rate-limit error carries no reset hint.
const defaultRateLimitPause = time.Second

// Decision is the sizing outcome for one symbol on one tick.
type Decision struct {
	Symbol string
	Side   types.OrderSide
	// Qty is set for share orders, Notional for dollar orders.
	Qty      float64
	Notional float64
	// Reserve is the cash set aside for a buy.
	Reserve decimal.Decimal
	Price   float64
	Skip    SkipReason
}

// Submitted reports whether the decision produced an order.
func (d Decision) Submitted() bool {
	return d.Skip == SkipNone
}

// HoldReader reads symbol hold statuses.
type HoldReader interface {
	Status(symbol string) types.HoldStatus
}

// FeatureSource supplies the enriched row an order is decided on.
type FeatureSource interface {
	Latest(symbol string) (types.EnrichedBar, bool)
}

// Repository is the persistence the executor writes to.
type Repository interface {
	storage.OrderRepository
	storage.EnrichedRepository
}

// Options configures an Executor.
type Options struct {
	Sizing     Sizing
	Fractional bool
	// MinOrderNotional skips deltas worth less than this many dollars.
	MinOrderNotional float64
	// MaxSubmitPerTick bounds submissions per weights tick. Zero is unbounded.
	MaxSubmitPerTick int
	SubmitTimeout    time.Duration
	WarnThrottle     time.Duration
	OrderType        types.OrderType
	TimeInForce      types.TimeInForce
}

// Stats counts executor outcomes for the session.
type Stats struct {
	Submitted int                `yaml:"submitted" json:"submitted"`
	Rejected  int                `yaml:"rejected" json:"rejected"`
	TimedOut  int                `yaml:"timed_out" json:"timed_out"`
	Skipped   map[SkipReason]int `yaml:"skipped" json:"skipped"`
}

// Executor submits orders for weight deltas.
type Executor struct {
	log      *logger.Logger
	throttle *logger.Throttle
	bus      *bus.Bus
	broker   broker.Broker
	ledger   *ledger.Ledger
	holds    HoldReader
	repo     Repository
	clock    clock.Clock
	opts     Options

	mu          sync.Mutex
	features    FeatureSource
	sessionDate string
	sequences   map[string]int
	roster      map[string]bool
	lastTick    time.Time
	pausedUntil time.Time
	accepting   bool
	sub         *bus.Subscriber
	stats       Stats
}

// New creates an executor.
func New(log *logger.Logger, b *bus.Bus, brk broker.Broker, l *ledger.Ledger, holds HoldReader, repo Repository, clk clock.Clock, opts Options) *Executor {
	if opts.Sizing == "" {
		opts.Sizing = SizingQty
	}

	if opts.MinOrderNotional <= 0 {
		opts.MinOrderNotional = 1.0
	}

	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}

	if opts.WarnThrottle <= 0 {
		opts.WarnThrottle = 30 * time.Second
	}

	if opts.OrderType == "" {
		opts.OrderType = types.OrderTypeMarket
	}

	if opts.TimeInForce == "" {
		opts.TimeInForce = types.TimeInForceDay
	}

	named := log.Named("executor")

	return &Executor{
		log:       named,
		throttle:  logger.NewThrottle(named, opts.WarnThrottle),
		bus:       b,
		broker:    brk,
		ledger:    l,
		holds:     holds,
		repo:      repo,
		clock:     clk,
		opts:      opts,
		sequences: make(map[string]int),
		roster:    make(map[string]bool),
		stats:     Stats{Skipped: make(map[SkipReason]int)},
	}
}

// SetFeatureSource registers where enriched rows are read from when an order is recorded.
func (e *Executor) SetFeatureSource(f FeatureSource) {
	e.mu.Lock()
	e.features = f
	e.mu.Unlock()
}

// StartSession sets the session date and recovers the order sequence of
// every symbol so client order ids are never reused after a restart.
func (e *Executor) StartSession(ctx context.Context, sessionDate string, symbols []string) error {
	sequences := make(map[string]int, len(symbols))
	roster := make(map[string]bool, len(symbols))

	for _, s := range symbols {
		seq, err := e.repo.MaxSequence(ctx, s, sessionDate)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeSessionFailed, err, "failed to recover order sequence of %s", s)
		}

		sequences[s] = seq
		roster[s] = true
	}

	e.mu.Lock()
	e.sessionDate = sessionDate
	e.sequences = sequences
	e.roster = roster
	e.lastTick = time.Time{}
	e.pausedUntil = time.Time{}
	e.stats = Stats{Skipped: make(map[SkipReason]int)}
	e.mu.Unlock()

	e.log.Info("executor session started", zap.String("session_date", sessionDate), zap.Int("symbols", len(symbols)))

	return nil
}

// SetRoster replaces the tradable symbols. Sequences of returning symbols are kept.
func (e *Executor) SetRoster(ctx context.Context, symbols []string) error {
	e.mu.Lock()
	date := e.sessionDate
	e.mu.Unlock()

	roster := make(map[string]bool, len(symbols))
	recovered := make(map[string]int)

	for _, s := range symbols {
		roster[s] = true

		e.mu.Lock()
		_, known := e.sequences[s]
		e.mu.Unlock()

		if known {
			continue
		}

		seq, err := e.repo.MaxSequence(ctx, s, date)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeSessionFailed, err, "failed to recover order sequence of %s", s)
		}

		recovered[s] = seq
	}

	e.mu.Lock()
	for s, seq := range recovered {
		e.sequences[s] = seq
	}

	e.roster = roster
	e.mu.Unlock()

	return nil
}

// Start subscribes to the weights topic.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub != nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "executor already started")
	}

	if e.sessionDate == "" {
		return errors.New(errors.ErrCodeSessionFailed, "executor session not started")
	}

	e.accepting = true
	e.sub = bus.Subscribe(e.bus, bus.WeightsTopic(), "executor", e.OnWeights)
	e.log.Info("executor started", zap.String("sizing", string(e.opts.Sizing)))

	return nil
}

// OnWeights executes one weights tick.
func (e *Executor) OnWeights(ctx context.Context, weights types.TargetWeights) error {
	e.Execute(ctx, weights)

	return nil
}

// Execute runs the submission protocol for every symbol of weights and
// returns the decision made for each, in symbol order.
func (e *Executor) Execute(ctx context.Context, weights types.TargetWeights) []Decision {
	e.mu.Lock()
	if !e.accepting {
		e.mu.Unlock()

		return nil
	}

	if !e.lastTick.IsZero() && !weights.Tick.After(e.lastTick) {
		e.mu.Unlock()
		e.log.Debug("ignoring stale weights", zap.Time("tick", weights.Tick), zap.Time("last_tick", e.lastTick))

		return nil
	}

	e.lastTick = weights.Tick
	e.mu.Unlock()

	symbols := append([]string(nil), weights.Symbols...)
	sort.Strings(symbols)

	decisions := make([]Decision, 0, len(symbols))
	submitted := 0

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}

		var d Decision

		switch {
		case !e.inRoster(symbol):
			d = Decision{Symbol: symbol, Skip: SkipNotInRoster}
		case e.opts.MaxSubmitPerTick > 0 && submitted >= e.opts.MaxSubmitPerTick:
			d = Decision{Symbol: symbol, Skip: SkipTickLimit}
		case e.rateLimited():
			d = Decision{Symbol: symbol, Skip: SkipRateLimited}
		default:
			d = e.execute(ctx, symbol, weights.Weights[symbol], weights.Prices[symbol])
		}

		if d.Submitted() {
			submitted++
		} else {
			e.countSkip(d.Skip)
		}

		decisions = append(decisions, d)
	}

	return decisions
}

// rateLimited reports whether submissions wait for a broker rate-limit reset.
func (e *Executor) rateLimited() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.clock.Now().Before(e.pausedUntil)
}

// pause holds every submission until the reset hint of a rate-limit error.
func (e *Executor) pause(cause error) {
	delay, ok := broker.RetryAfter(cause)
	if !ok {
		return
	}

	if delay <= 0 {
		delay = defaultRateLimitPause
	}

	until := e.clock.Now().Add(delay)

	e.mu.Lock()
	if until.After(e.pausedUntil) {
		e.pausedUntil = until
	}
	e.mu.Unlock()

	e.log.Warn("broker rate limit hit, pausing submissions", zap.Duration("delay", delay), zap.Time("until", until.UTC()))
}

func (e *Executor) inRoster(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.roster[symbol]
}

func (e *Executor) countSkip(reason SkipReason) {
	e.mu.Lock()
	e.stats.Skipped[reason]++
	e.mu.Unlock()
}

// execute decides and, under the symbol lock, submits one order.
func (e *Executor) execute(ctx context.Context, symbol string, weight, price float64) Decision {
	d := e.Decide(symbol, weight, price)
	if !d.Submitted() {
		e.warnSkip(d)

		return d
	}

	unlock := e.ledger.Lock(symbol)
	defer unlock()

	// the slot may have been taken while sizing
	if e.ledger.InFlight(symbol).IsSome() {
		d.Skip = SkipInFlight
		e.warnSkip(d)

		return d
	}

	d.Skip = e.submit(ctx, d)
	if !d.Submitted() {
		e.warnSkip(d)
	}

	return d
}

// Decide applies the hold, in-flight, sizing and cash rules for one symbol.
// It has no side effects.
func (e *Executor) Decide(symbol string, weight, price float64) Decision {
	d := Decision{Symbol: symbol, Price: price, Reserve: decimal.Zero}

	hold := e.holds.Status(symbol)
	if hold.Blocked() {
		d.Skip = SkipHold

		return d
	}

	if !(price > 0) || math.IsInf(price, 0) {
		d.Skip = SkipNoPrice

		return d
	}

	if math.IsNaN(weight) || weight < 0 {
		weight = 0
	}

	current := e.ledger.Position(symbol).Qty
	target := e.ledger.SODCash().Mul(decimal.NewFromFloat(weight))
	currentValue := decimal.NewFromFloat(current).Mul(decimal.NewFromFloat(price))
	delta := target.Sub(currentValue)

	switch {
	case delta.IsPositive():
		d.Side = types.OrderSideBuy
	case delta.IsNegative():
		d.Side = types.OrderSideSell
	default:
		d.Skip = SkipNoChange

		return d
	}

	if (d.Side == types.OrderSideBuy && !hold.CanBuy()) || (d.Side == types.OrderSideSell && !hold.CanSell()) {
		d.Skip = SkipDirection

		return d
	}

	if e.ledger.InFlight(symbol).IsSome() {
		d.Skip = SkipInFlight

		return d
	}

	e.size(&d, target, current, delta, weight)
	if d.Skip != SkipNone {
		return d
	}

	if d.Side == types.OrderSideBuy && d.Reserve.GreaterThan(e.ledger.Available()) {
		d.Skip = SkipInsufficientCash
	}

	return d
}

func (e *Executor) size(d *Decision, target decimal.Decimal, current float64, delta decimal.Decimal, weight float64) {
	price := decimal.NewFromFloat(d.Price)

	if d.Side == types.OrderSideSell {
		if current <= 0 {
			d.Skip = SkipNoPosition

			return
		}

		qty := e.shares(delta.Neg().Div(price))
		if weight == 0 || qty > current {
			qty = current
		}

		d.Qty = qty
	} else if e.opts.Sizing == SizingNotional {
		d.Notional = delta.RoundDown(2).InexactFloat64()
		d.Reserve = decimal.NewFromFloat(d.Notional)
	} else {
		targetQty := e.shares(target.Div(price))
		d.Qty = e.shares(decimal.NewFromFloat(targetQty - current))
		d.Reserve = decimal.NewFromFloat(d.Qty).Mul(price)
	}

	if d.Qty <= 0 && d.Notional <= 0 {
		d.Skip = SkipNoChange

		return
	}

	value := d.Notional
	if d.Qty > 0 {
		value = d.Qty * d.Price
	}

	if value < e.opts.MinOrderNotional {
		d.Skip = SkipBelowMinimum
	}
}

// shares truncates a share amount to whole shares, or four decimals when
// fractional trading is enabled.
func (e *Executor) shares(v decimal.Decimal) float64 {
	if e.opts.Fractional {
		return v.RoundDown(4).InexactFloat64()
	}

	return v.Floor().InexactFloat64()
}

func (e *Executor) warnSkip(d Decision) {
	fields := []zap.Field{
		zap.String("symbol", d.Symbol),
		zap.String("reason", string(d.Skip)),
		zap.String("side", string(d.Side)),
	}

	switch d.Skip {
	case SkipInFlight, SkipInsufficientCash, SkipReservationFailed:
		e.throttle.Warn(string(d.Skip)+":"+d.Symbol, "order skipped", fields...)
	default:
		e.log.Debug("order skipped", fields...)
	}
}

// submit records, reserves and submits the order of d. The caller holds the
// symbol lock.
func (e *Executor) submit(ctx context.Context, d Decision) SkipReason {
	e.mu.Lock()
	e.sequences[d.Symbol]++
	seq := e.sequences[d.Symbol]
	date := e.sessionDate
	features := e.features
	e.mu.Unlock()

	now := e.clock.Now().UTC()
	coid := ClientOrderID(d.Symbol, date, seq)

	//nolint:exhaustruct
	order := types.Order{
		ClientOrderID: coid,
		Symbol:        d.Symbol,
		Side:          d.Side,
		Type:          e.opts.OrderType,
		TimeInForce:   e.opts.TimeInForce,
		Status:        types.OrderStatusNew,
		Qty:           d.Qty,
		Notional:      d.Notional,
		SessionDate:   date,
		Sequence:      seq,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := order.Validate(); err != nil {
		e.log.Error("invalid order", zap.String("symbol", d.Symbol), zap.Error(err))

		return SkipNoChange
	}

	if d.Side == types.OrderSideBuy {
		if err := e.ledger.Reserve(coid, d.Symbol, d.Reserve, d.Qty); err != nil {
			if errors.HasCode(err, errors.ErrCodeInsufficientCash) {
				return SkipInsufficientCash
			}

			return SkipReservationFailed
		}
	}

	if err := e.ledger.SetInFlight(order); err != nil {
		e.ledger.Release(coid)
		e.log.Critical("in-flight slot taken during submission", zap.String("symbol", d.Symbol), zap.Error(err))

		return SkipInFlight
	}

	if err := e.repo.InsertOrder(ctx, order); err != nil {
		e.log.Error("failed to record order", zap.String("client_order_id", coid), zap.Error(err))
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.opts.SubmitTimeout)
	defer cancel()

	ack, err := e.broker.SubmitOrder(submitCtx, broker.SubmitRequest{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Qty:           order.Qty,
		Notional:      order.Notional,
		Type:          order.Type,
		TimeInForce:   order.TimeInForce,
		ClientOrderID: coid,
		LimitPrice:    order.LimitPrice,
		StopPrice:     order.StopPrice,
		ExtendedHours: order.ExtendedHours,
	})

	switch {
	case err == nil:
		e.accepted(ctx, order, ack, features)

		return SkipNone
	case broker.IsTimeout(err) || errors.Is(submitCtx.Err(), context.DeadlineExceeded):
		e.mu.Lock()
		e.stats.TimedOut++
		e.mu.Unlock()

		e.log.Warn("order submission timed out, holding reservation until reconciliation",
			zap.String("symbol", order.Symbol),
			zap.String("client_order_id", coid),
			zap.Error(err),
		)

		return SkipNone
	default:
		e.rejected(ctx, order, err)
		e.pause(err)

		return SkipNone
	}
}

func (e *Executor) accepted(ctx context.Context, order types.Order, ack types.Order, features FeatureSource) {
	order.ID = ack.ID
	if ack.Status == types.OrderStatusAccepted {
		order.Status = types.OrderStatusAccepted
	}

	order.UpdatedAt = e.clock.Now().UTC()

	if current, err := e.ledger.InFlight(order.Symbol).Take(); err == nil && current.ClientOrderID == order.ClientOrderID {
		current.ID = order.ID
		current.Status = order.Status
		current.UpdatedAt = order.UpdatedAt

		if err := e.ledger.SetInFlight(current); err != nil {
			e.log.Warn("failed to refresh in-flight order", zap.Error(err))
		}
	}

	if err := e.repo.UpdateOrder(ctx, order); err != nil {
		e.log.Error("failed to record order acknowledgement", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))
	}

	if features != nil {
		if row, ok := features.Latest(order.Symbol); ok {
			if err := e.repo.InsertEnriched(ctx, order.ClientOrderID, row); err != nil {
				e.log.Warn("failed to record enriched row", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))
			}
		}
	}

	e.mu.Lock()
	e.stats.Submitted++
	e.mu.Unlock()

	e.log.Info("order submitted",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("qty", order.Qty),
		zap.Float64("notional", order.Notional),
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("order_id", order.ID),
	)
}

func (e *Executor) rejected(ctx context.Context, order types.Order, cause error) {
	order.Status = types.OrderStatusRejected
	order.Reason = cause.Error()
	order.UpdatedAt = e.clock.Now().UTC()

	e.ledger.Release(order.ClientOrderID)
	e.ledger.ClearInFlight(order.Symbol, order.ClientOrderID)

	if err := e.repo.UpdateOrder(ctx, order); err != nil {
		e.log.Error("failed to record rejected order", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))
	}

	e.mu.Lock()
	e.stats.Rejected++
	e.mu.Unlock()

	e.log.Error("order submission failed",
		zap.String("symbol", order.Symbol),
		zap.String("client_order_id", order.ClientOrderID),
		zap.Int("code", int(errors.GetCode(cause))),
		zap.Error(cause),
	)
}

// Stats returns a copy of the session counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	skipped := make(map[SkipReason]int, len(e.stats.Skipped))
	for k, v := range e.stats.Skipped {
		skipped[k] = v
	}

	out := e.stats
	out.Skipped = skipped

	return out
}

// Sequence returns the last sequence number used for symbol.
func (e *Executor) Sequence(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.sequences[symbol]
}

// Stop stops accepting weights, waits for the tick being executed and unsubscribes.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.accepting = false
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()

	if sub == nil {
		return nil
	}

	err := sub.Drain(ctx)
	sub.Unsubscribe()

	if err != nil {
		return errors.Wrap(errors.ErrCodeStopBudgetExceeded, "executor did not drain in time", err)
	}

	e.log.Info("executor stopped")

	return nil
}
