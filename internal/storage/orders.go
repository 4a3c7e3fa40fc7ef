package storage

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

var orderColumns = []string{
	"client_order_id", "id", "symbol", "side", "order_type", "time_in_force", "status",
	"qty", "notional", "limit_price", "stop_price", "price", "filled_qty", "extended_hours",
	"session_date", "seq_no", "created_at", "updated_at", "settled", "reason",
}

var terminalStatuses = []string{
	string(types.OrderStatusFilled),
	string(types.OrderStatusCanceled),
	string(types.OrderStatusRejected),
	string(types.OrderStatusExpired),
}

// InsertOrder records a new order. Inserting a client order id twice keeps the first row.
func (s *Store) InsertOrder(ctx context.Context, o types.Order) error {
	insert := s.sq.Insert("orders").
		Columns(orderColumns...).
		Values(
			o.ClientOrderID, o.ID, o.Symbol, string(o.Side), string(o.Type), string(o.TimeInForce), string(o.Status),
			o.Qty, o.Notional, nullable(o.LimitPrice), nullable(o.StopPrice), nullable(o.Price), o.FilledQty,
			o.ExtendedHours, o.SessionDate, o.Sequence, o.CreatedAt.UTC(), o.UpdatedAt.UTC(), o.Settled, o.Reason,
		).
		Suffix("ON CONFLICT (client_order_id) DO NOTHING")

	return s.write(ctx, "insert order "+o.ClientOrderID, func(ctx context.Context) error {
		return s.exec(ctx, insert)
	})
}

// UpdateOrder stores the mutable fields of an order: broker id, status,
// quantities, fill price, timestamps and reason.
func (s *Store) UpdateOrder(ctx context.Context, o types.Order) error {
	update := s.sq.Update("orders").
		Set("id", o.ID).
		Set("status", string(o.Status)).
		Set("qty", o.Qty).
		Set("filled_qty", o.FilledQty).
		Set("price", nullable(o.Price)).
		Set("updated_at", o.UpdatedAt.UTC()).
		Set("settled", o.Settled).
		Set("reason", o.Reason).
		Where(squirrel.Eq{"client_order_id": o.ClientOrderID})

	return s.write(ctx, "update order "+o.ClientOrderID, func(ctx context.Context) error {
		return s.exec(ctx, update)
	})
}

// FetchByClientOrderID returns the order with the client order id, if any.
func (s *Store) FetchByClientOrderID(ctx context.Context, clientOrderID string) (optional.Option[types.Order], error) {
	orders, err := s.queryOrders(ctx, s.sq.Select(orderColumns...).
		From("orders").
		Where(squirrel.Eq{"client_order_id": clientOrderID}))
	if err != nil {
		return optional.None[types.Order](), err
	}

	if len(orders) == 0 {
		return optional.None[types.Order](), nil
	}

	return optional.Some(orders[0]), nil
}

// FetchNonTerminal returns every order that may still change, oldest first.
// done_for_day orders are included.
func (s *Store) FetchNonTerminal(ctx context.Context) ([]types.Order, error) {
	return s.queryOrders(ctx, s.sq.Select(orderColumns...).
		From("orders").
		Where(squirrel.NotEq{"status": terminalStatuses}).
		OrderBy("created_at ASC", "seq_no ASC"))
}

// FetchOrders returns the orders of a session date, or every order when
// sessionDate is empty.
func (s *Store) FetchOrders(ctx context.Context, sessionDate string) ([]types.Order, error) {
	query := s.sq.Select(orderColumns...).From("orders").OrderBy("created_at ASC", "seq_no ASC")
	if sessionDate != "" {
		query = query.Where(squirrel.Eq{"session_date": sessionDate})
	}

	return s.queryOrders(ctx, query)
}

// MaxSequence returns the highest sequence used for symbol on the session
// date, or zero.
func (s *Store) MaxSequence(ctx context.Context, symbol, sessionDate string) (int, error) {
	query, args, err := s.sq.Select("COALESCE(MAX(seq_no), 0)").
		From("orders").
		Where(squirrel.Eq{"symbol": symbol, "session_date": sessionDate}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build sequence query", err)
	}

	var seq int

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&seq); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read order sequence", err)
	}

	return seq, nil
}

func (s *Store) queryOrders(ctx context.Context, builder squirrel.SelectBuilder) ([]types.Order, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build order query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query orders", err)
	}
	defer rows.Close()

	var orders []types.Order

	for rows.Next() {
		var (
			o                              types.Order
			side, orderType, tif, status   string
			limitPrice, stopPrice, avgFill sql.NullFloat64
		)

		err := rows.Scan(
			&o.ClientOrderID, &o.ID, &o.Symbol, &side, &orderType, &tif, &status,
			&o.Qty, &o.Notional, &limitPrice, &stopPrice, &avgFill, &o.FilledQty, &o.ExtendedHours,
			&o.SessionDate, &o.Sequence, &o.CreatedAt, &o.UpdatedAt, &o.Settled, &o.Reason,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan order", err)
		}

		o.Side = types.OrderSide(side)
		o.Type = types.OrderType(orderType)
		o.TimeInForce = types.TimeInForce(tif)
		o.Status = types.OrderStatus(status)
		o.LimitPrice = fromNullable(limitPrice)
		o.StopPrice = fromNullable(stopPrice)
		o.Price = fromNullable(avgFill)
		o.CreatedAt = o.CreatedAt.UTC()
		o.UpdatedAt = o.UpdatedAt.UTC()

		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate orders", err)
	}

	return orders, nil
}
