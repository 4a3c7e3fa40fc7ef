// Package orderstream applies broker order updates to the persisted orders,
// the ledger and the symbol holds.
package orderstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/internal/broker"
	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/ledger"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/storage"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// Repository is the persistence the stream reads and writes.
type Repository interface {
	storage.OrderRepository
	storage.TradeRepository
	storage.SessionRepository
}

// Replayer retries database writes parked after persistent failures.
type Replayer interface {
	Replay(ctx context.Context) (int, error)
}

// HoldApplier moves symbol holds for an order event.
type HoldApplier interface {
	ApplyOrderEvent(event types.OrderEvent)
}

// Options configures a Stream.
type Options struct {
	// ReorderWindow is how long events are buffered for ordering. Zero applies immediately.
	ReorderWindow     time.Duration
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	DaysToSettle      int
	WarnThrottle      time.Duration
	// SettlePoll is the polling interval of Flush.
	SettlePoll time.Duration
}

// Stats counts applied and dropped events.
type Stats struct {
	Received   int `yaml:"received" json:"received"`
	Applied    int `yaml:"applied" json:"applied"`
	Unknown    int `yaml:"unknown" json:"unknown"`
	Stale      int `yaml:"stale" json:"stale"`
	Fills      int `yaml:"fills" json:"fills"`
	Reconnects int `yaml:"reconnects" json:"reconnects"`
}

// Stream consumes the broker order stream.
type Stream struct {
	log      *logger.Logger
	throttle *logger.Throttle
	bus      *bus.Bus
	broker   broker.Broker
	ledger   *ledger.Ledger
	holds    HoldApplier
	repo     Repository
	clock    clock.Clock
	opts     Options
	buffer   *reorderBuffer
	replays  sync.WaitGroup

	mu        sync.Mutex
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
	onFatal   func(error)
	stats     Stats
}

// New creates an order stream.
func New(log *logger.Logger, b *bus.Bus, brk broker.Broker, l *ledger.Ledger, holds HoldApplier, repo Repository, clk clock.Clock, opts Options) *Stream {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}

	if opts.ReconnectDelayMax < opts.ReconnectDelay {
		opts.ReconnectDelayMax = 30 * opts.ReconnectDelay
	}

	if opts.DaysToSettle <= 0 {
		opts.DaysToSettle = 1
	}

	if opts.WarnThrottle <= 0 {
		opts.WarnThrottle = 30 * time.Second
	}

	if opts.SettlePoll <= 0 {
		opts.SettlePoll = 100 * time.Millisecond
	}

	named := log.Named("orderstream")
	s := &Stream{
		log:      named,
		throttle: logger.NewThrottle(named, opts.WarnThrottle),
		bus:      b,
		broker:   brk,
		ledger:   l,
		holds:    holds,
		repo:     repo,
		clock:    clk,
		opts:     opts,
	}
	s.buffer = newReorderBuffer(clk, opts.ReorderWindow, s.applyBatch)

	return s
}

// OnFatal registers a callback for unrecoverable stream errors such as refused credentials.
func (s *Stream) OnFatal(fn func(error)) {
	s.mu.Lock()
	s.onFatal = fn
	s.mu.Unlock()
}

// Start subscribes to the broker order stream and keeps it connected until Stop.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "order stream already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, s.done)

	s.log.Info("order stream started")

	return nil
}

func (s *Stream) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.ReconnectDelay
	policy.MaxInterval = s.opts.ReconnectDelayMax
	policy.MaxElapsedTime = 0

	for attempt := 0; ; attempt++ {
		s.recordStart(ctx)

		if attempt > 0 {
			s.mu.Lock()
			s.stats.Reconnects++
			s.mu.Unlock()

			// replay concurrently with the new subscription; applying a
			// broker snapshot twice is a no-op
			s.replays.Add(1)

			go func() {
				defer s.replays.Done()

				if err := s.ReplayGap(ctx); err != nil {
					s.log.Warn("order gap replay failed", zap.Error(err))
				}
			}()
		}

		connected := s.clock.Now()
		err := s.broker.StreamOrders(ctx, s.Enqueue)

		s.recordEnd(context.WithoutCancel(ctx))

		if ctx.Err() != nil {
			return
		}

		if broker.IsFatal(err) {
			s.log.Error("order stream refused", zap.Error(err))
			s.fatal(err)

			return
		}

		if s.clock.Now().Sub(connected) > s.opts.ReconnectDelayMax {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		s.log.Warn("order stream lost, reconnecting", zap.Error(err), zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
		}
	}
}

func (s *Stream) fatal(err error) {
	s.mu.Lock()
	fn := s.onFatal
	s.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

func (s *Stream) recordStart(ctx context.Context) {
	id, err := s.repo.InsertSession(ctx, storage.StreamOrders, s.clock.Now().UTC())
	if err != nil {
		s.log.Warn("failed to record order stream session", zap.Error(err))

		return
	}

	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *Stream) recordEnd(ctx context.Context) {
	s.mu.Lock()
	id := s.sessionID
	s.sessionID = ""
	s.mu.Unlock()

	if id == "" {
		return
	}

	if err := s.repo.UpdateSessionEnd(ctx, id, s.clock.Now().UTC()); err != nil {
		s.log.Warn("failed to close order stream session", zap.Error(err))
	}
}

// Enqueue accepts one broker event into the reorder buffer. Events older
// than what was already applied for the symbol are dropped.
func (s *Stream) Enqueue(event types.OrderEvent) {
	s.mu.Lock()
	s.stats.Received++
	s.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now().UTC()
	}

	if !s.buffer.push(event) {
		s.mu.Lock()
		s.stats.Stale++
		s.mu.Unlock()

		s.throttle.Warn("stale:"+event.Order.Symbol, "dropping order event older than the reorder window",
			zap.String("symbol", event.Order.Symbol),
			zap.String("client_order_id", event.Order.ClientOrderID),
			zap.String("event", string(event.Event)),
			zap.Time("timestamp", event.Timestamp),
		)
	}
}

func (s *Stream) applyBatch(_ string, events []types.OrderEvent) {
	ctx := context.Background()

	for _, event := range events {
		if _, err := s.Apply(ctx, event); err != nil {
			s.log.Error("failed to apply order event",
				zap.String("symbol", event.Order.Symbol),
				zap.String("client_order_id", event.Order.ClientOrderID),
				zap.String("event", string(event.Event)),
				zap.Error(err),
			)
		}
	}
}

// Apply reconciles one event into the order, trade, ledger and hold state.
// It reports whether the event matched a local order; events for unknown
// orders are dropped.
func (s *Stream) Apply(ctx context.Context, event types.OrderEvent) (bool, error) {
	symbol := event.Order.Symbol
	unlock := s.ledger.Lock(symbol)
	defer unlock()

	order, found, err := s.lookup(ctx, event.Order)
	if err != nil {
		return false, err
	}

	if !found {
		s.mu.Lock()
		s.stats.Unknown++
		s.mu.Unlock()

		s.log.Info("dropping event for unknown order",
			zap.String("symbol", symbol),
			zap.String("client_order_id", event.Order.ClientOrderID),
			zap.String("order_id", event.Order.ID),
			zap.String("event", string(event.Event)),
		)

		return false, nil
	}

	if order.Status.IsTerminal() {
		s.log.Debug("ignoring event for terminal order",
			zap.String("client_order_id", order.ClientOrderID),
			zap.String("status", string(order.Status)),
			zap.String("event", string(event.Event)),
		)

		return true, nil
	}

	if order.ID == "" {
		order.ID = event.Order.ID
	}

	if order.Qty == 0 && event.Order.Qty > 0 {
		order.Qty = event.Order.Qty
	}

	stale := false

	if target, ok := event.TargetStatus(); ok && target != order.Status {
		path, err := types.TransitionPath(order.Status, target)
		if err != nil {
			stale = true
			s.log.Warn("ignoring order status move",
				zap.String("client_order_id", order.ClientOrderID),
				zap.String("from", string(order.Status)),
				zap.String("to", string(target)),
			)
		} else {
			order.Status = path[len(path)-1]
		}
	}

	if err := s.applyFill(ctx, &order, event); err != nil {
		return true, err
	}

	if event.Event == types.OrderEventRejected && event.Order.Reason != "" {
		order.Reason = event.Order.Reason
	}

	order.UpdatedAt = event.Timestamp.UTC()

	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		s.log.Error("failed to record order update", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))
	}

	if order.Status.IsWorking() {
		if err := s.ledger.SetInFlight(order); err != nil {
			s.log.Critical("second working order for symbol",
				zap.String("symbol", symbol),
				zap.String("client_order_id", order.ClientOrderID),
				zap.Error(err),
			)
		}
	} else {
		s.ledger.Release(order.ClientOrderID)
		s.ledger.ClearInFlight(symbol, order.ClientOrderID)
	}

	applied := event
	applied.Order = order

	// an out of order event must not undo the hold of a later one
	if !stale {
		s.holds.ApplyOrderEvent(applied)
	}
	bus.Publish(ctx, s.bus, bus.OrderEventTopic(), applied)

	s.mu.Lock()
	s.stats.Applied++
	s.mu.Unlock()

	return true, nil
}

// lookup finds the local order an event refers to: the symbol's in-flight
// slot first, then the orders repository.
func (s *Stream) lookup(ctx context.Context, remote types.Order) (types.Order, bool, error) {
	if current, err := s.ledger.InFlight(remote.Symbol).Take(); err == nil && current.ClientOrderID == remote.ClientOrderID {
		return current, true, nil
	}

	if remote.ClientOrderID == "" {
		return types.Order{}, false, nil
	}

	stored, err := s.repo.FetchByClientOrderID(ctx, remote.ClientOrderID)
	if err != nil {
		return types.Order{}, false, errors.Wrap(errors.ErrCodeQueryFailed, "failed to look up order", err)
	}

	order, err := stored.Take()
	if err != nil {
		return types.Order{}, false, nil
	}

	return order, true, nil
}

// applyFill books the fill reported by event as the delta between the
// broker's cumulative filled quantity and the local one.
func (s *Stream) applyFill(ctx context.Context, order *types.Order, event types.OrderEvent) error {
	cumulative := event.Order.FilledQty
	if cumulative == 0 && event.Qty > 0 &&
		(event.Event == types.OrderEventFill || event.Event == types.OrderEventPartialFill) {
		cumulative = order.FilledQty + event.Qty
	}

	delta := cumulative - order.FilledQty
	if delta <= 0 {
		return nil
	}

	price := event.Price
	if price <= 0 {
		if avg, err := event.Order.Price.Take(); err == nil {
			price = avg
		}
	}

	if price <= 0 {
		return errors.Newf(errors.ErrCodeInvariantViolated, "fill of %s without a price", order.ClientOrderID)
	}

	externalID := event.ExecutionID
	if externalID == "" {
		externalID = fmt.Sprintf("%s:%s", orderKey(*order), formatQty(cumulative))
	}

	executedAt := event.Timestamp.UTC()

	//nolint:exhaustruct
	trade := types.Trade{
		ExternalID:     externalID,
		OrderID:        order.ID,
		ClientOrderID:  order.ClientOrderID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Price:          price,
		Qty:            delta,
		ExecutedAt:     executedAt,
		SettlementDate: types.SettlementDate(executedAt, s.opts.DaysToSettle),
	}

	if err := s.repo.InsertTrade(ctx, trade); err != nil {
		s.log.Error("failed to record trade", zap.String("external_id", externalID), zap.Error(err))
	}

	s.ledger.ApplyFill(*order, delta, price, executedAt)

	order.FilledQty = cumulative
	if avg, err := event.Order.Price.Take(); err == nil {
		order.Price = optional.Some(avg)
	} else {
		order.Price = optional.Some(price)
	}

	s.mu.Lock()
	s.stats.Fills++
	s.mu.Unlock()

	s.log.Info("order filled",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("qty", delta),
		zap.Float64("price", price),
		zap.Float64("filled_qty", cumulative),
		zap.String("client_order_id", order.ClientOrderID),
	)

	return nil
}

func orderKey(order types.Order) string {
	if order.ID != "" {
		return order.ID
	}

	return order.ClientOrderID
}

func formatQty(q float64) string {
	return fmt.Sprintf("%g", q)
}

// Buffered returns the number of events waiting in the reorder buffer.
func (s *Stream) Buffered() int {
	return s.buffer.buffered()
}

// Stats returns a copy of the counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

// Flush waits up to settle for every in-flight order to terminalize, then
// applies everything still buffered.
func (s *Stream) Flush(ctx context.Context, settle time.Duration) error {
	deadline := time.Now().Add(settle)

	for len(s.workingSymbols()) > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			s.buffer.releaseAll()

			return errors.Wrap(errors.ErrCodeStopBudgetExceeded, "order stream flush interrupted", ctx.Err())
		case <-time.After(s.opts.SettlePoll):
		}
	}

	s.buffer.releaseAll()

	if working := s.workingSymbols(); len(working) > 0 {
		s.log.Warn("orders still working after settle window", zap.Strings("symbols", working))
	}

	return nil
}

func (s *Stream) workingSymbols() []string {
	snapshot := s.ledger.Snapshot()

	var out []string

	for symbol, order := range snapshot.InFlight {
		if o, err := order.Take(); err == nil && o.Status.IsWorking() {
			out = append(out, symbol)
		}
	}

	return out
}

// Stop disconnects from the broker and applies everything still buffered.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeStopBudgetExceeded, "order stream did not stop in time", ctx.Err())
	}

	s.replays.Wait()
	s.buffer.releaseAll()
	s.log.Info("order stream stopped", zap.Int("applied", s.Stats().Applied))

	return nil
}

// ResetSession clears the reorder watermarks for a new session.
func (s *Stream) ResetSession() {
	s.buffer.reset()
}
