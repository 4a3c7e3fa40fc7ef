// Package hold tracks the per-symbol trading permission that gates the
// order executor.
package hold

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/queued"
	"github.com/rxtech-lab/argo-live/internal/types"
	"go.uber.org/zap"
)

// rosterUpdate moves every roster symbol at once. Closing outranks opening.
type rosterUpdate struct {
	status types.HoldStatus
	reason string
}

func (u rosterUpdate) Key() string {
	return "roster:" + string(u.status)
}

func (u rosterUpdate) Priority() int {
	if u.status == types.HoldClosedForDay {
		return 2
	}

	return 1
}

// Tracker owns the hold status of every roster symbol.
type Tracker struct {
	log           *logger.Logger
	scheduler     *clock.Scheduler
	postFillDelay time.Duration

	mu          sync.RWMutex
	statuses    map[string]types.HoldStatus
	roster      []string
	sessionOpen bool
	allClosed   bool

	onChange    func(types.HoldChange)
	onAllClosed func()
	working     func(symbol string) bool

	updates *queued.Queue[rosterUpdate]
	ctx     context.Context
	started bool
}

// NewTracker creates a tracker. Deferred transitions are scheduled on scheduler.
func NewTracker(log *logger.Logger, scheduler *clock.Scheduler, postFillDelay time.Duration) *Tracker {
	t := &Tracker{
		log:           log.Named("hold"),
		scheduler:     scheduler,
		postFillDelay: postFillDelay,
		mu:            sync.RWMutex{},
		statuses:      make(map[string]types.HoldStatus),
		roster:        nil,
		sessionOpen:   false,
		allClosed:     false,
		onChange:      nil,
		onAllClosed:   nil,
		working:       nil,
		updates:       nil,
		ctx:           context.Background(),
		started:       false,
	}
	t.updates = queued.New(log, "hold-roster", t.applyRoster)

	return t
}

// Start runs the roster update applier.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()

		return
	}

	t.ctx = ctx
	t.started = true
	t.mu.Unlock()

	t.updates.Start(ctx)
}

// Stop cancels deferred transitions and stops the roster applier.
func (t *Tracker) Stop() {
	t.cancelDeferred(t.Roster())

	t.mu.RLock()
	started := t.started
	t.mu.RUnlock()

	if started {
		t.updates.Close()
	}
}

// OnChange registers a callback for every status change.
func (t *Tracker) OnChange(fn func(types.HoldChange)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// OnAllClosed registers a callback fired once per session when every roster
// symbol reaches CLOSED_FOR_DAY through order events.
func (t *Tracker) OnAllClosed(fn func()) {
	t.mu.Lock()
	t.onAllClosed = fn
	t.mu.Unlock()
}

// SetWorking registers the lookup of symbols with a working order. OpenSession
// moves those symbols to HOLD_ALL instead of OPEN.
func (t *Tracker) SetWorking(fn func(symbol string) bool) {
	t.mu.Lock()
	t.working = fn
	t.mu.Unlock()
}

// SetRoster replaces the tracked symbols. New symbols start CLOSED_FOR_DAY.
func (t *Tracker) SetRoster(symbols []string) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	t.mu.Lock()
	statuses := make(map[string]types.HoldStatus, len(sorted))
	for _, s := range sorted {
		if current, ok := t.statuses[s]; ok {
			statuses[s] = current
		} else {
			statuses[s] = types.HoldClosedForDay
		}
	}

	removed := make([]string, 0)
	for s := range t.statuses {
		if _, ok := statuses[s]; !ok {
			removed = append(removed, s)
		}
	}

	t.statuses = statuses
	t.roster = sorted
	t.mu.Unlock()

	t.cancelDeferred(removed)
}

// Roster returns the tracked symbols.
func (t *Tracker) Roster() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]string(nil), t.roster...)
}

// Status returns the hold status of symbol. Untracked symbols are CLOSED_FOR_DAY.
func (t *Tracker) Status(symbol string) types.HoldStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status, ok := t.statuses[symbol]
	if !ok {
		return types.HoldClosedForDay
	}

	return status
}

// Snapshot returns a copy of every status.
func (t *Tracker) Snapshot() map[string]types.HoldStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]types.HoldStatus, len(t.statuses))
	for s, h := range t.statuses {
		out[s] = h
	}

	return out
}

// OpenSession moves every roster symbol to OPEN, or to HOLD_ALL when it has a
// working order. This is the only way out of CLOSED_FOR_DAY.
func (t *Tracker) OpenSession(ctx context.Context) error {
	t.updates.AsyncUpdate(rosterUpdate{status: types.HoldOpen, reason: "market_open"})

	return t.updates.Flush(ctx)
}

// CloseSession moves every roster symbol to CLOSED_FOR_DAY and cancels deferred transitions.
func (t *Tracker) CloseSession(ctx context.Context) error {
	t.updates.AsyncUpdate(rosterUpdate{status: types.HoldClosedForDay, reason: "market_close"})

	return t.updates.Flush(ctx)
}

func (t *Tracker) applyRoster(_ context.Context, u rosterUpdate) error {
	roster := t.Roster()
	t.cancelDeferred(roster)

	t.mu.RLock()
	working := t.working
	t.mu.RUnlock()

	targets := make(map[string]types.HoldStatus, len(roster))
	for _, s := range roster {
		targets[s] = u.status
		if u.status == types.HoldOpen && working != nil && working(s) {
			targets[s] = types.HoldAll
		}
	}

	t.mu.Lock()
	t.sessionOpen = u.status == types.HoldOpen
	t.allClosed = false

	changes := make([]types.HoldChange, 0, len(roster))
	for _, s := range roster {
		from, to := t.statuses[s], targets[s]
		if from == to {
			continue
		}

		reason := u.reason
		if to != u.status {
			reason = "working_order"
		}

		t.statuses[s] = to
		changes = append(changes, types.HoldChange{Symbol: s, From: from, To: to, Reason: reason})
	}
	onChange := t.onChange
	t.mu.Unlock()

	t.log.Info("roster hold update", zap.String("status", string(u.status)), zap.Int("symbols", len(roster)))

	if onChange != nil {
		for _, c := range changes {
			onChange(c)
		}
	}

	return nil
}

// Transition moves symbol to status. A pending deferred transition for the
// symbol is canceled. CLOSED_FOR_DAY is absorbing: it reports false and
// changes nothing until the next OpenSession.
func (t *Tracker) Transition(symbol string, status types.HoldStatus, reason string) bool {
	t.scheduler.Cancel(deferredName(symbol))

	return t.set(symbol, status, reason)
}

// TransitionAfter moves symbol to interim now and to final after the post-fill delay.
func (t *Tracker) TransitionAfter(symbol string, interim, final types.HoldStatus, reason string) bool {
	if !t.Transition(symbol, interim, reason) {
		return false
	}

	t.mu.RLock()
	ctx := t.ctx
	t.mu.RUnlock()

	when := t.scheduler.Clock().Now().Add(t.postFillDelay).UTC()
	err := t.scheduler.Schedule(ctx, deferredName(symbol), when, func(context.Context) {
		t.set(symbol, final, reason+":post_fill_delay")
	})
	if err != nil {
		t.log.Warn("failed to schedule deferred hold transition", zap.String("symbol", symbol), zap.Error(err))
	}

	return true
}

func (t *Tracker) set(symbol string, status types.HoldStatus, reason string) bool {
	t.mu.Lock()

	from, ok := t.statuses[symbol]
	if !ok {
		t.mu.Unlock()
		t.log.Warn("hold transition for untracked symbol", zap.String("symbol", symbol))

		return false
	}

	if from == types.HoldClosedForDay {
		t.mu.Unlock()

		return false
	}

	if from == status {
		t.mu.Unlock()

		return true
	}

	t.statuses[symbol] = status
	onChange := t.onChange

	var fireAllClosed func()
	if status == types.HoldClosedForDay && t.sessionOpen && !t.allClosed && t.everyClosedLocked() {
		t.allClosed = true
		fireAllClosed = t.onAllClosed
	}
	t.mu.Unlock()

	t.log.Debug("hold transition",
		zap.String("symbol", symbol),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.String("reason", reason),
	)

	if onChange != nil {
		onChange(types.HoldChange{Symbol: symbol, From: from, To: status, Reason: reason})
	}

	if fireAllClosed != nil {
		t.log.Info("every roster symbol is closed for the day")
		fireAllClosed()
	}

	return true
}

func (t *Tracker) everyClosedLocked() bool {
	if len(t.roster) == 0 {
		return false
	}

	for _, s := range t.roster {
		if t.statuses[s] != types.HoldClosedForDay {
			return false
		}
	}

	return true
}

func (t *Tracker) cancelDeferred(symbols []string) {
	for _, s := range symbols {
		t.scheduler.Cancel(deferredName(s))
	}
}

func deferredName(symbol string) string {
	return "hold:" + symbol
}
