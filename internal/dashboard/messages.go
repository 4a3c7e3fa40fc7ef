package dashboard

import (
	"github.com/rxtech-lab/argo-live/internal/trading/engine"
	"github.com/rxtech-lab/argo-live/internal/types"
)

// HoldMsg carries a hold transition.
type HoldMsg struct {
	Change types.HoldChange
}

// WeightsMsg carries the latest target weights.
type WeightsMsg struct {
	Weights types.TargetWeights
}

// SignalMsg carries the latest signal of one symbol.
type SignalMsg struct {
	Signal types.Signal
}

// BarMsg carries the latest raw bar of one symbol.
type BarMsg struct {
	Bar types.Bar
}

// LedgerMsg carries a ledger snapshot.
type LedgerMsg struct {
	Snapshot types.LedgerSnapshot
}

// StateMsg carries a lifecycle state change of the live core.
type StateMsg struct {
	State engine.State
}

// ErrorMsg carries a non-fatal error reported by the live core.
type ErrorMsg struct {
	Err error
}
