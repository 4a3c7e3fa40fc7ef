package bus

import (
	"time"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// DefaultBlockTimeout bounds how long a BoundedBlock publisher waits.
const DefaultBlockTimeout = 250 * time.Millisecond

// BarTopic carries raw bars for one symbol.
func BarTopic(symbol string) Topic[types.Bar] {
	return NewTopic[types.Bar]("bars."+symbol, LatestWins(1))
}

// QuoteTopic carries quotes for one symbol.
func QuoteTopic(symbol string) Topic[types.Quote] {
	return NewTopic[types.Quote]("quotes."+symbol, LatestWins(1))
}

// TradeTickTopic carries tape prints for one symbol.
func TradeTickTopic(symbol string) Topic[types.TradeTick] {
	return NewTopic[types.TradeTick]("trades."+symbol, LatestWins(1))
}

// EnrichedTopic carries enriched bars for one symbol.
func EnrichedTopic(symbol string) Topic[types.EnrichedBar] {
	return NewTopic[types.EnrichedBar]("enriched."+symbol, LatestWins(1))
}

// SignalTopic carries the per-symbol signal.
func SignalTopic(symbol string) Topic[types.Signal] {
	return NewTopic[types.Signal]("signal."+symbol, LatestWins(1))
}

// RosterTopic carries one SignalRoster per tick.
func RosterTopic() Topic[types.SignalRoster] {
	return NewTopic[types.SignalRoster]("signals.roster", LatestWins(1))
}

// WeightsTopic carries the portfolio target weights.
func WeightsTopic() Topic[types.TargetWeights] {
	return NewTopic[types.TargetWeights]("portfolio.weights", LatestWins(1))
}

// OrderEventTopic carries broker order events. Nothing is ever dropped.
func OrderEventTopic() Topic[types.OrderEvent] {
	return NewTopic[types.OrderEvent]("orders.events", Unbounded())
}

// HoldTopic carries hold status changes.
func HoldTopic() Topic[types.HoldChange] {
	return NewTopic[types.HoldChange]("holds.changes", Unbounded())
}

// LedgerTopic carries ledger snapshots taken after every mutation.
func LedgerTopic() Topic[types.LedgerSnapshot] {
	return NewTopic[types.LedgerSnapshot]("ledger.snapshots", LatestWins(1))
}
