package types

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
)

func validOrder() Order {
	return Order{
		ID:            "",
		ClientOrderID: "9b2f1d9e-4c0b-5b8e-9c89-1a2b3c4d5e6f",
		Symbol:        "AAA",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		TimeInForce:   TimeInForceDay,
		Status:        OrderStatusNew,
		Qty:           100,
		Notional:      0,
		LimitPrice:    optional.None[float64](),
		StopPrice:     optional.None[float64](),
		Price:         optional.None[float64](),
		FilledQty:     0,
		ExtendedHours: false,
		SessionDate:   "2024-01-02",
		Sequence:      1,
		CreatedAt:     time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		Settled:       false,
		Reason:        "",
	}
}

func TestOrderValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(o *Order)
		shouldError bool
	}{
		{name: "valid qty order", mutate: func(_ *Order) {}, shouldError: false},
		{name: "valid notional order", mutate: func(o *Order) { o.Qty = 0; o.Notional = 2500 }, shouldError: false},
		{name: "missing client order id", mutate: func(o *Order) { o.ClientOrderID = "" }, shouldError: true},
		{name: "bad side", mutate: func(o *Order) { o.Side = "short" }, shouldError: true},
		{name: "no size", mutate: func(o *Order) { o.Qty = 0 }, shouldError: true},
		{name: "both sizes", mutate: func(o *Order) { o.Notional = 10 }, shouldError: true},
		{name: "negative qty", mutate: func(o *Order) { o.Qty = -1 }, shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := validOrder()
			tt.mutate(&order)

			err := order.Validate()
			if tt.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusFilled.IsTerminal())
	assert.True(t, OrderStatusCanceled.IsTerminal())
	assert.True(t, OrderStatusRejected.IsTerminal())
	assert.True(t, OrderStatusExpired.IsTerminal())
	assert.False(t, OrderStatusNew.IsTerminal())
	assert.False(t, OrderStatusPartiallyFilled.IsTerminal())
	assert.False(t, OrderStatusDoneForDay.IsTerminal())

	assert.True(t, OrderStatusAccepted.IsWorking())
	assert.False(t, OrderStatusDoneForDay.IsWorking())
	assert.False(t, OrderStatusFilled.IsWorking())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusNew, OrderStatusAccepted, true},
		{OrderStatusNew, OrderStatusRejected, true},
		{OrderStatusNew, OrderStatusFilled, false},
		{OrderStatusAccepted, OrderStatusPartiallyFilled, true},
		{OrderStatusAccepted, OrderStatusFilled, true},
		{OrderStatusAccepted, OrderStatusRejected, false},
		{OrderStatusPartiallyFilled, OrderStatusPartiallyFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusDoneForDay, true},
		{OrderStatusFilled, OrderStatusCanceled, false},
		{OrderStatusCanceled, OrderStatusFilled, false},
		{OrderStatusDoneForDay, OrderStatusExpired, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionPath(t *testing.T) {
	path, err := TransitionPath(OrderStatusNew, OrderStatusFilled)
	assert.NoError(t, err)
	assert.Equal(t, []OrderStatus{OrderStatusAccepted, OrderStatusFilled}, path)

	path, err = TransitionPath(OrderStatusAccepted, OrderStatusFilled)
	assert.NoError(t, err)
	assert.Equal(t, []OrderStatus{OrderStatusFilled}, path)

	_, err = TransitionPath(OrderStatusFilled, OrderStatusCanceled)
	assert.Error(t, err)
}

func TestOrderEventTargetStatus(t *testing.T) {
	status, ok := OrderEvent{Event: OrderEventNew}.TargetStatus()
	assert.True(t, ok)
	assert.Equal(t, OrderStatusAccepted, status)

	status, ok = OrderEvent{Event: OrderEventPartialFill}.TargetStatus()
	assert.True(t, ok)
	assert.Equal(t, OrderStatusPartiallyFilled, status)

	_, ok = OrderEvent{Event: OrderEventPendingCancel}.TargetStatus()
	assert.False(t, ok)

	assert.Equal(t, OrderEventFill, EventForStatus(OrderStatusFilled))
	assert.Equal(t, OrderEventDoneForDay, EventForStatus(OrderStatusDoneForDay))
}

func TestOrderQuantities(t *testing.T) {
	order := validOrder()
	order.FilledQty = 40
	assert.Equal(t, 60.0, order.RemainingQty())
	assert.Equal(t, 40.0, order.SignedFilledQty())

	order.Side = OrderSideSell
	assert.Equal(t, -40.0, order.SignedFilledQty())

	order.FilledQty = 120
	assert.Equal(t, 0.0, order.RemainingQty())
}
