package engine

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// State is the lifecycle phase of the live core.
type State string

const (
	StateIdle      State = "idle"
	StatePreMarket State = "pre_market"
	StateOpen      State = "open"
	StateClosing   State = "closing"
	StateClosed    State = "closed"
	StateStopped   State = "stopped"
)

// Status is a point-in-time view of the live core for the control surface.
type Status struct {
	State       State                       `json:"state" yaml:"state"`
	SessionDate string                      `json:"session_date" yaml:"session_date"`
	RunPath     string                      `json:"run_path" yaml:"run_path"`
	Symbols     []string                    `json:"symbols" yaml:"symbols"`
	Holds       map[string]types.HoldStatus `json:"holds" yaml:"holds"`
	NextTimers  map[string]time.Time        `json:"next_timers" yaml:"next_timers"`
	Submitted   int                         `json:"submitted" yaml:"submitted"`
	StartedAt   time.Time                   `json:"started_at" yaml:"started_at"`
}

// Lifecycle callback types for the live core.

// OnSessionStartCallback is called once the open phase has started every stage.
type OnSessionStartCallback func(sessionDate string, symbols []string, runPath string) error

// OnSessionEndCallback is called after a session was torn down and its artifacts written.
type OnSessionEndCallback func(stats types.SessionStats)

// OnHoldChangeCallback is called for every symbol hold transition.
type OnHoldChangeCallback func(change types.HoldChange)

// OnOrderEventCallback is called for every order event applied to local state.
type OnOrderEventCallback func(event types.OrderEvent)

// OnErrorCallback is called when a non-fatal error occurs.
type OnErrorCallback func(err error)

// OnStatusUpdateCallback is called when the lifecycle state changes.
type OnStatusUpdateCallback func(state State)

// Callbacks holds all lifecycle callbacks of the live core.
// All fields are pointers - nil means no callback will be invoked.
type Callbacks struct {
	// OnSessionStart is called when the market opens and the pipeline runs.
	OnSessionStart *OnSessionStartCallback

	// OnSessionEnd is called after the close teardown finished.
	OnSessionEnd *OnSessionEndCallback

	OnHoldChange *OnHoldChangeCallback
	OnOrderEvent *OnOrderEventCallback

	// OnError is called when a non-fatal error occurs.
	OnError *OnErrorCallback

	// OnStatusUpdate is called when the lifecycle state changes.
	OnStatusUpdate *OnStatusUpdateCallback
}

// LiveCore runs market sessions back to back: pre-market warmup, the open
// session pipeline and the close teardown.
type LiveCore interface {
	// Run registers the session timers and blocks until ctx is cancelled,
	// Stop is called or a fatal error occurs. A running session is torn
	// down within the graceful stop budget before Run returns.
	Run(ctx context.Context, callbacks Callbacks) error

	// Stop requests a graceful stop and waits for Run to return.
	Stop(ctx context.Context) error

	// Status returns the current lifecycle view.
	Status() Status

	// SetRoster replaces the traded symbols. A running session applies the
	// change before it returns.
	SetRoster(ctx context.Context, symbols []string) error
}
