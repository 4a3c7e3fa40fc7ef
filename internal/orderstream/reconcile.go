package orderstream

import (
	"context"
	"sort"

	"github.com/rxtech-lab/argo-live/internal/broker"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcileResult summarizes a session-start reconciliation.
type ReconcileResult struct {
	Replayed  int   `yaml:"replayed" json:"replayed"`
	Settled   int64 `yaml:"settled" json:"settled"`
	Adopted   int   `yaml:"adopted" json:"adopted"`
	Refreshed int   `yaml:"refreshed" json:"refreshed"`
	Canceled  int   `yaml:"canceled" json:"canceled"`
}

// Reconcile merges the broker's open orders with the persisted ones before
// the session opens. Unknown broker orders are adopted, the newer of two
// working orders on one symbol is canceled, and every surviving working
// order is rehydrated into the ledger and refreshed from the broker.
func (s *Stream) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	replayed, err := s.replayWrites(ctx)
	if err != nil {
		s.log.Warn("parked writes could not be replayed yet", zap.Error(err))
	}

	result.Replayed = replayed

	settled, err := s.repo.UpdateSettled(ctx, s.clock.Now().UTC())
	if err != nil {
		s.log.Warn("failed to mark settled trades", zap.Error(err))
	}

	result.Settled = settled

	remote, err := s.broker.Orders(ctx, broker.OrderQueryOpen)
	if err != nil {
		return result, errors.Wrap(errors.ErrCodeSessionFailed, "failed to list open broker orders", err)
	}

	for _, order := range remote {
		adopted, err := s.adopt(ctx, order)
		if err != nil {
			return result, err
		}

		if adopted {
			result.Adopted++
		}
	}

	local, err := s.repo.FetchNonTerminal(ctx)
	if err != nil {
		return result, errors.Wrap(errors.ErrCodeSessionFailed, "failed to load working orders", err)
	}

	keep, duplicates := splitDuplicates(local)

	for _, dup := range duplicates {
		s.log.Critical("two working orders for one symbol, canceling the newer",
			zap.String("symbol", dup.Symbol),
			zap.String("client_order_id", dup.ClientOrderID),
			zap.String("order_id", dup.ID),
		)

		if dup.ID == "" {
			continue
		}

		if err := s.broker.CancelOrder(ctx, dup.ID); err != nil {
			s.log.Error("failed to cancel duplicate order", zap.String("order_id", dup.ID), zap.Error(err))

			continue
		}

		result.Canceled++
	}

	for _, order := range keep {
		if order.Status.IsWorking() {
			s.rehydrate(order)
		}

		if err := s.refresh(ctx, order); err != nil {
			s.log.Warn("failed to refresh order", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))

			continue
		}

		result.Refreshed++
	}

	s.log.Info("orders reconciled",
		zap.Int("replayed", result.Replayed),
		zap.Int64("settled", result.Settled),
		zap.Int("adopted", result.Adopted),
		zap.Int("refreshed", result.Refreshed),
		zap.Int("canceled", result.Canceled),
	)

	return result, nil
}

func (s *Stream) replayWrites(ctx context.Context) (int, error) {
	replayer, ok := s.repo.(Replayer)
	if !ok {
		return 0, nil
	}

	return replayer.Replay(ctx)
}

// adopt records a broker order that was never persisted locally.
func (s *Stream) adopt(ctx context.Context, order types.Order) (bool, error) {
	if order.ClientOrderID == "" {
		return false, nil
	}

	stored, err := s.repo.FetchByClientOrderID(ctx, order.ClientOrderID)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeSessionFailed, "failed to look up broker order", err)
	}

	if stored.IsSome() {
		return false, nil
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.clock.Now().UTC()
	}

	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	if err := s.repo.InsertOrder(ctx, order); err != nil {
		return false, errors.Wrap(errors.ErrCodeSessionFailed, "failed to adopt broker order", err)
	}

	s.log.Warn("adopted broker order unknown locally",
		zap.String("symbol", order.Symbol),
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("status", string(order.Status)),
	)

	return true, nil
}

// splitDuplicates keeps the oldest working order of every symbol.
func splitDuplicates(orders []types.Order) (keep, duplicates []types.Order) {
	sorted := append([]types.Order(nil), orders...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}

		return sorted[i].Sequence < sorted[j].Sequence
	})

	working := make(map[string]bool)

	for _, order := range sorted {
		if !order.Status.IsWorking() {
			keep = append(keep, order)

			continue
		}

		if working[order.Symbol] {
			duplicates = append(duplicates, order)

			continue
		}

		working[order.Symbol] = true
		keep = append(keep, order)
	}

	return keep, duplicates
}

// rehydrate restores the in-flight slot and the outstanding buy reservation of order.
func (s *Stream) rehydrate(order types.Order) {
	unlock := s.ledger.Lock(order.Symbol)
	defer unlock()

	if err := s.ledger.SetInFlight(order); err != nil {
		s.log.Critical("failed to rehydrate in-flight order", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))

		return
	}

	if order.Side != types.OrderSideBuy {
		return
	}

	amount := s.outstanding(order)
	if amount.IsZero() {
		s.log.Warn("no reference price for working buy, nothing reserved", zap.String("client_order_id", order.ClientOrderID))

		return
	}

	if err := s.ledger.Reserve(order.ClientOrderID, order.Symbol, amount, order.Qty); err != nil {
		s.log.Warn("failed to restore reservation", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))
	}
}

// outstanding estimates the cash a working buy may still consume.
func (s *Stream) outstanding(order types.Order) decimal.Decimal {
	if order.Notional > 0 {
		spent := 0.0
		if avg, err := order.Price.Take(); err == nil {
			spent = avg * order.FilledQty
		}

		return decimal.Max(decimal.Zero, decimal.NewFromFloat(order.Notional-spent))
	}

	var price float64

	switch {
	case order.LimitPrice.IsSome():
		price = order.LimitPrice.Unwrap()
	case order.Price.IsSome():
		price = order.Price.Unwrap()
	default:
		price = s.ledger.Position(order.Symbol).AvgPrice
	}

	return decimal.NewFromFloat(order.RemainingQty()).Mul(decimal.NewFromFloat(price))
}

// ReplayGap refreshes every working order from the broker after the order
// stream was disconnected.
func (s *Stream) ReplayGap(ctx context.Context) error {
	if _, err := s.replayWrites(ctx); err != nil {
		s.log.Warn("parked writes could not be replayed yet", zap.Error(err))
	}

	orders, err := s.repo.FetchNonTerminal(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to load working orders", err)
	}

	seen := make(map[string]bool, len(orders))
	for _, order := range orders {
		seen[order.ClientOrderID] = true
	}

	// orders whose insert is still parked only live in the ledger
	for _, slot := range s.ledger.Snapshot().InFlight {
		if order, err := slot.Take(); err == nil && !seen[order.ClientOrderID] {
			orders = append(orders, order)
		}
	}

	var firstErr error

	for _, order := range orders {
		if err := s.refresh(ctx, order); err != nil {
			s.log.Warn("failed to refresh order", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.log.Info("order gap replayed", zap.Int("orders", len(orders)))

	return firstErr
}

// refresh applies the broker's current view of order. An order the broker
// has never seen was lost in submission and is resolved as rejected.
func (s *Stream) refresh(ctx context.Context, order types.Order) error {
	var (
		remote types.Order
		err    error
	)

	if order.ID != "" {
		remote, err = s.broker.GetOrder(ctx, order.ID)
	} else {
		remote, err = s.broker.GetOrderByClientID(ctx, order.ClientOrderID)
	}

	if errors.HasCodeInChain(err, errors.ErrCodeBrokerNotFound) && order.ID == "" {
		remote = order
		remote.Status = types.OrderStatusRejected
		remote.Reason = "order unknown to broker"
		err = nil
	}

	if err != nil {
		return err
	}

	if remote.ClientOrderID == "" {
		remote.ClientOrderID = order.ClientOrderID
	}

	if remote.Symbol == "" {
		remote.Symbol = order.Symbol
	}

	at := remote.UpdatedAt
	if at.IsZero() {
		at = s.clock.Now().UTC()
	}

	event := types.OrderEvent{
		Event:     types.EventForStatus(remote.Status),
		Order:     remote,
		Timestamp: at,
	}

	if _, err := s.Apply(ctx, event); err != nil {
		return err
	}

	s.buffer.advance(remote.Symbol, at)

	return nil
}
