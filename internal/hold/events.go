package hold

import "github.com/rxtech-lab/argo-live/internal/types"

// EventClass groups broker order events by their effect on holds.
type EventClass int

const (
	ClassNone EventClass = iota
	ClassHoldAll
	ClassSideRestricted
	ClassFill
	ClassRelease
	ClassDoneForDay
)

// Classify returns the hold class of a broker event.
func Classify(event types.OrderEventType) EventClass {
	switch event {
	case types.OrderEventNew, types.OrderEventAccepted, types.OrderEventPendingNew,
		types.OrderEventPendingCancel, types.OrderEventPendingReplace,
		types.OrderEventStopped, types.OrderEventSuspended, types.OrderEventCalculated:
		return ClassHoldAll
	case types.OrderEventOrderCancelRejected, types.OrderEventOrderReplaceRejected:
		return ClassSideRestricted
	case types.OrderEventFill, types.OrderEventPartialFill:
		return ClassFill
	case types.OrderEventCanceled, types.OrderEventRejected, types.OrderEventExpired, types.OrderEventReplaced:
		return ClassRelease
	case types.OrderEventDoneForDay:
		return ClassDoneForDay
	default:
		return ClassNone
	}
}

// ApplyOrderEvent moves the symbol's hold according to the event class.
func (t *Tracker) ApplyOrderEvent(event types.OrderEvent) {
	symbol := event.Order.Symbol
	reason := string(event.Event)

	switch Classify(event.Event) {
	case ClassHoldAll:
		t.Transition(symbol, types.HoldAll, reason)
	case ClassSideRestricted:
		if event.Order.Side == types.OrderSideBuy {
			t.Transition(symbol, types.HoldBuyOnly, reason)
		} else {
			t.Transition(symbol, types.HoldSellOnly, reason)
		}
	case ClassFill:
		if event.Order.Side == types.OrderSideBuy {
			t.TransitionAfter(symbol, types.HoldAll, types.HoldSellOnly, reason)
		} else {
			t.TransitionAfter(symbol, types.HoldAll, types.HoldOpen, reason)
		}
	case ClassRelease:
		t.Transition(symbol, types.HoldOpen, reason)
	case ClassDoneForDay:
		t.Transition(symbol, types.HoldClosedForDay, reason)
	case ClassNone:
	}
}
