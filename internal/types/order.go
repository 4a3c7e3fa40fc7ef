package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/pkg/errors"
)

type OrderSide string

type OrderType string

type TimeInForce string

type OrderStatus string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
	TimeInForceOPG TimeInForce = "opg"
	TimeInForceCLS TimeInForce = "cls"
)

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusDoneForDay      OrderStatus = "done_for_day"
)

// transitions lists the allowed local order status moves.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew: {OrderStatusAccepted, OrderStatusRejected},
	OrderStatusAccepted: {
		OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCanceled,
		OrderStatusExpired, OrderStatusDoneForDay,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCanceled,
		OrderStatusExpired, OrderStatusDoneForDay,
	},
	// a done_for_day order is closed out by the broker on a later session.
	OrderStatusDoneForDay: {OrderStatusCanceled, OrderStatusExpired},
}

// IsTerminal reports whether no further broker events can change the order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// IsWorking reports whether the order still occupies the symbol's in-flight slot.
func (s OrderStatus) IsWorking() bool {
	return !s.IsTerminal() && s != OrderStatusDoneForDay
}

// CanTransition reports whether from → to is an allowed move.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// TransitionPath returns the statuses to walk through to get from → to.
// A broker may report a fill or cancel for an order whose accept we never
// saw; in that case the implicit accept is included in the path.
func TransitionPath(from, to OrderStatus) ([]OrderStatus, error) {
	if CanTransition(from, to) {
		return []OrderStatus{to}, nil
	}

	if from == OrderStatusNew && CanTransition(OrderStatusAccepted, to) {
		return []OrderStatus{OrderStatusAccepted, to}, nil
	}

	return nil, errors.Newf(errors.ErrCodeInvalidTransition, "order status %s cannot move to %s", from, to)
}

// Order is a broker order created by the executor. Orders are append-only:
// only status, fill quantity, price and timestamps change after insertion.
type Order struct {
	// ID is the broker-assigned id. Empty until the broker acknowledges the order.
	ID            string      `yaml:"id" json:"id"`
	ClientOrderID string      `yaml:"client_order_id" json:"client_order_id" validate:"required"`
	Symbol        string      `yaml:"symbol" json:"symbol" validate:"required"`
	Side          OrderSide   `yaml:"side" json:"side" validate:"required,oneof=buy sell"`
	Type          OrderType   `yaml:"type" json:"type" validate:"required,oneof=market limit stop stop_limit"`
	TimeInForce   TimeInForce `yaml:"time_in_force" json:"time_in_force" validate:"required,oneof=day gtc ioc fok opg cls"`
	Status        OrderStatus `yaml:"status" json:"status" validate:"required"`
	// Qty is the share quantity. Zero for notional orders until fills arrive.
	Qty float64 `yaml:"qty" json:"qty" validate:"gte=0"`
	// Notional is the dollar amount for notional orders.
	Notional   float64                  `yaml:"notional" json:"notional" validate:"gte=0"`
	LimitPrice optional.Option[float64] `yaml:"limit_price" json:"limit_price"`
	StopPrice  optional.Option[float64] `yaml:"stop_price" json:"stop_price"`
	// Price is the average fill price reported by the broker.
	Price         optional.Option[float64] `yaml:"price" json:"price"`
	FilledQty     float64                  `yaml:"filled_qty" json:"filled_qty" validate:"gte=0"`
	ExtendedHours bool                     `yaml:"extended_hours" json:"extended_hours"`
	SessionDate   string                   `yaml:"session_date" json:"session_date"`
	Sequence      int                      `yaml:"sequence" json:"sequence" validate:"gte=0"`
	CreatedAt     time.Time                `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time                `yaml:"updated_at" json:"updated_at"`
	Settled       bool                     `yaml:"settled" json:"settled"`
	// Reason holds the broker rejection reason, if any.
	Reason string `yaml:"reason" json:"reason"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	if o.Qty == 0 && o.Notional == 0 {
		return errors.New(errors.ErrCodeInvalidOrder, "order needs qty or notional")
	}

	if o.Qty > 0 && o.Notional > 0 {
		return errors.New(errors.ErrCodeInvalidOrder, "order cannot carry both qty and notional")
	}

	return nil
}

// RemainingQty returns the unfilled share quantity for qty orders.
func (o *Order) RemainingQty() float64 {
	if o.Qty <= o.FilledQty {
		return 0
	}

	return o.Qty - o.FilledQty
}

// SignedFilledQty returns the filled quantity, negative for sells.
func (o *Order) SignedFilledQty() float64 {
	if o.Side == OrderSideSell {
		return -o.FilledQty
	}

	return o.FilledQty
}

// OrderEventType is the broker's trade-update event name.
type OrderEventType string

const (
	OrderEventNew                  OrderEventType = "new"
	OrderEventAccepted             OrderEventType = "accepted"
	OrderEventPendingNew           OrderEventType = "pending_new"
	OrderEventPartialFill          OrderEventType = "partial_fill"
	OrderEventFill                 OrderEventType = "fill"
	OrderEventCanceled             OrderEventType = "canceled"
	OrderEventRejected             OrderEventType = "rejected"
	OrderEventExpired              OrderEventType = "expired"
	OrderEventDoneForDay           OrderEventType = "done_for_day"
	OrderEventReplaced             OrderEventType = "replaced"
	OrderEventPendingCancel        OrderEventType = "pending_cancel"
	OrderEventPendingReplace       OrderEventType = "pending_replace"
	OrderEventStopped              OrderEventType = "stopped"
	OrderEventSuspended            OrderEventType = "suspended"
	OrderEventCalculated           OrderEventType = "calculated"
	OrderEventOrderCancelRejected  OrderEventType = "order_cancel_rejected"
	OrderEventOrderReplaceRejected OrderEventType = "order_replace_rejected"
)

// OrderEvent is one update from the broker order stream.
type OrderEvent struct {
	Event     OrderEventType `json:"event"`
	Order     Order          `json:"order"`
	Timestamp time.Time      `json:"timestamp"`
	// ExecutionID identifies a fill. Empty for non-fill events.
	ExecutionID string `json:"execution_id"`
	// Price and Qty describe the individual fill for fill events.
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// TargetStatus maps a broker event onto the local order status it implies.
// Events that only affect holds return false.
func (e OrderEvent) TargetStatus() (OrderStatus, bool) {
	switch e.Event {
	case OrderEventNew, OrderEventAccepted:
		return OrderStatusAccepted, true
	case OrderEventPartialFill:
		return OrderStatusPartiallyFilled, true
	case OrderEventFill:
		return OrderStatusFilled, true
	case OrderEventCanceled, OrderEventReplaced:
		return OrderStatusCanceled, true
	case OrderEventRejected:
		return OrderStatusRejected, true
	case OrderEventExpired:
		return OrderStatusExpired, true
	case OrderEventDoneForDay:
		return OrderStatusDoneForDay, true
	default:
		return "", false
	}
}

// EventForStatus returns the broker event that corresponds to reaching status.
// Used when replaying broker order snapshots.
func EventForStatus(status OrderStatus) OrderEventType {
	switch status {
	case OrderStatusAccepted, OrderStatusNew:
		return OrderEventNew
	case OrderStatusPartiallyFilled:
		return OrderEventPartialFill
	case OrderStatusFilled:
		return OrderEventFill
	case OrderStatusCanceled:
		return OrderEventCanceled
	case OrderStatusRejected:
		return OrderEventRejected
	case OrderStatusExpired:
		return OrderEventExpired
	case OrderStatusDoneForDay:
		return OrderEventDoneForDay
	default:
		return OrderEventNew
	}
}
