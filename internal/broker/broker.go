// Package broker defines the brokerage adapter consumed by the live core.
package broker

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

// OrderQueryStatus filters Orders.
type OrderQueryStatus string

const (
	OrderQueryOpen   OrderQueryStatus = "open"
	OrderQueryClosed OrderQueryStatus = "closed"
	OrderQueryAll    OrderQueryStatus = "all"
)

// SubmitRequest is an order submission. Exactly one of Qty and Notional is set.
type SubmitRequest struct {
	Symbol        string                   `json:"symbol" validate:"required"`
	Side          types.OrderSide          `json:"side" validate:"required,oneof=buy sell"`
	Qty           float64                  `json:"qty" validate:"gte=0"`
	Notional      float64                  `json:"notional" validate:"gte=0"`
	Type          types.OrderType          `json:"type" validate:"required,oneof=market limit stop stop_limit"`
	TimeInForce   types.TimeInForce        `json:"time_in_force" validate:"required,oneof=day gtc ioc fok opg cls"`
	ClientOrderID string                   `json:"client_order_id" validate:"required,max=128"`
	LimitPrice    optional.Option[float64] `json:"limit_price"`
	StopPrice     optional.Option[float64] `json:"stop_price"`
	ExtendedHours bool                     `json:"extended_hours"`
}

// Validate checks the request before it leaves the process.
func (r SubmitRequest) Validate() error {
	if err := validator.New().Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order request", err)
	}

	if (r.Qty > 0) == (r.Notional > 0) {
		return errors.New(errors.ErrCodeInvalidOrder, "order request needs exactly one of qty and notional")
	}

	if (r.Type == types.OrderTypeLimit || r.Type == types.OrderTypeStopLimit) && r.LimitPrice.IsNone() {
		return errors.Newf(errors.ErrCodeInvalidOrder, "%s order needs a limit price", r.Type)
	}

	if (r.Type == types.OrderTypeStop || r.Type == types.OrderTypeStopLimit) && r.StopPrice.IsNone() {
		return errors.Newf(errors.ErrCodeInvalidOrder, "%s order needs a stop price", r.Type)
	}

	return nil
}

// OrderEventHandler receives one order stream update.
type OrderEventHandler func(event types.OrderEvent)

// Broker is the brokerage the live core trades through. Every call honours
// the context deadline.
type Broker interface {
	Account(ctx context.Context) (types.Account, error)
	Positions(ctx context.Context) ([]types.Position, error)
	Orders(ctx context.Context, status OrderQueryStatus) ([]types.Order, error)
	GetOrder(ctx context.Context, id string) (types.Order, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (types.Order, error)
	SubmitOrder(ctx context.Context, req SubmitRequest) (types.Order, error)
	CancelOrder(ctx context.Context, id string) error
	// StreamOrders delivers order updates to handler until the connection
	// drops or ctx is done. It returns nil only when ctx is done.
	StreamOrders(ctx context.Context, handler OrderEventHandler) error
	Calendar(ctx context.Context, start, end time.Time) ([]types.CalendarDay, error)
	Clock(ctx context.Context) (types.MarketClock, error)
}
