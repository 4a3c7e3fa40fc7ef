package engine_v1

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/broker"
	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/config"
	"github.com/rxtech-lab/argo-live/internal/enricher"
	"github.com/rxtech-lab/argo-live/internal/executor"
	"github.com/rxtech-lab/argo-live/internal/hold"
	"github.com/rxtech-lab/argo-live/internal/ledger"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/marketstream"
	"github.com/rxtech-lab/argo-live/internal/orderstream"
	"github.com/rxtech-lab/argo-live/internal/portfolio"
	"github.com/rxtech-lab/argo-live/internal/registry"
	"github.com/rxtech-lab/argo-live/internal/signal"
	"github.com/rxtech-lab/argo-live/internal/storage"
	"github.com/rxtech-lab/argo-live/internal/trading/engine"
	"github.com/rxtech-lab/argo-live/internal/trading/engine/engine_v1/session"
	"github.com/rxtech-lab/argo-live/internal/trading/engine/engine_v1/stats"
	"github.com/rxtech-lab/argo-live/internal/trading/engine/engine_v1/writers"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// TimerNextSession retries the timer registration when the broker still
// reports the session that was just closed.
const TimerNextSession = "next_session"

// RegisterRetry is the delay before TimerNextSession fires.
const RegisterRetry = time.Minute

// Store is the persistence the live core needs.
type Store interface {
	storage.Repository
	Replay(ctx context.Context) (int, error)
	Export(ctx context.Context, dir string) (map[string]string, error)
}

// Strategies resolves signal and portfolio strategies.
type Strategies interface {
	signal.Resolver
	portfolio.Resolver
}

// Dependencies are the external collaborators of the live core.
type Dependencies struct {
	Broker broker.Broker
	Store  Store
	Dialer marketstream.Dialer
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Strategies defaults to a registry over the configured catalog.
	Strategies Strategies
	Logger     *logger.Logger
}

type phase int

const (
	phasePreMarket phase = iota
	phaseOpen
	phaseClose
	phaseForceStop
	phaseRegister
	phaseRoster
)

func (p phase) String() string {
	switch p {
	case phasePreMarket:
		return "pre_market"
	case phaseOpen:
		return "open"
	case phaseClose:
		return "close"
	case phaseForceStop:
		return "force_stop"
	case phaseRegister:
		return "register"
	case phaseRoster:
		return "roster"
	default:
		return "unknown"
	}
}

type request struct {
	phase   phase
	session clock.Session
	symbols []string
	reply   chan error
}

// sessionWriters are the parquet writers of one run folder.
type sessionWriters struct {
	bars    *writers.BarsWriter
	holds   *writers.HoldsWriter
	weights *writers.WeightsWriter
}

// LiveCoreV1 implements engine.LiveCore.
type LiveCoreV1 struct {
	cfg    config.Config
	log    *logger.Logger
	broker broker.Broker
	store  Store

	bus       *bus.Bus
	clock     *clock.Service
	ledger    *ledger.Ledger
	holds     *hold.Tracker
	orders    *orderstream.Stream
	executor  *executor.Executor
	market    *marketstream.Stream
	enricher  *enricher.Enricher
	signals   *signal.Generator
	portfolio *portfolio.Generator
	sessions  *session.SessionManager
	stats     *stats.StatsTracker

	requests chan request
	fatal    chan error
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu            sync.RWMutex
	running       bool
	state         engine.State
	callbacks     engine.Callbacks
	startedAt     time.Time
	current       clock.Session
	premarketDone bool
	openDone      bool
	closedDate    string
	writers       *sessionWriters
	sessionSubs   []*bus.Subscriber
	barSubs       map[string]*bus.Subscriber
	symbols       []string
}

// NewLiveCoreV1 wires every stage of the live core. Nothing connects until Run.
func NewLiveCoreV1(cfg config.Config, deps Dependencies) (*LiveCoreV1, error) {
	if deps.Broker == nil {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "broker is required")
	}

	if deps.Store == nil {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "store is required")
	}

	if deps.Dialer == nil {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "market data dialer is required")
	}

	if len(cfg.Symbols) == 0 {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "no symbols configured")
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.NewReal()
	}

	strategies := deps.Strategies
	if strategies == nil {
		reg, err := registry.New(log, registry.Options{
			CatalogPath:           cfg.CatalogPath,
			ViabilityThreshold:    cfg.ViabilityThreshold,
			CombinedBuyThreshold:  cfg.CombinedBuyThreshold,
			CombinedSellThreshold: cfg.CombinedSellThreshold,
			SignalBuffer:          cfg.SignalBuffer,
			ReturnsWindow:         cfg.PortfolioWindow,
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeEngineInitFailed, "failed to build strategy registry", err)
		}

		strategies = reg
	}

	e := &LiveCoreV1{
		cfg:      cfg,
		log:      log.Named("live"),
		broker:   deps.Broker,
		store:    deps.Store,
		bus:      bus.New(log),
		requests: make(chan request, 16),
		symbols:  append([]string(nil), cfg.Symbols...),
		fatal:    make(chan error, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		state:    engine.StateIdle,
		sessions: session.NewSessionManager(log, cfg.DataDir),
		stats:    stats.NewStatsTracker(log),
	}

	e.clock = clock.NewService(clk, deps.Broker, cfg.PremarketDuration(), log)

	e.ledger = ledger.New(log)
	e.ledger.SetSnapshotSink(func(snapshot types.LedgerSnapshot) {
		bus.Publish(context.Background(), e.bus, bus.LedgerTopic(), snapshot)
	})

	e.holds = hold.NewTracker(log, e.clock.Scheduler(), cfg.PostFillDelay())
	e.holds.OnChange(e.onHoldChange)
	e.holds.SetWorking(func(symbol string) bool {
		return e.ledger.InFlight(symbol).IsSome()
	})
	e.holds.OnAllClosed(func() {
		e.enqueue(request{phase: phaseForceStop})
	})

	e.orders = orderstream.New(log, e.bus, deps.Broker, e.ledger, e.holds, deps.Store, clk, orderstream.Options{
		ReorderWindow:     cfg.ReorderWindow,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectDelayMax: cfg.ReconnectDelayMax,
		DaysToSettle:      cfg.DaysToSettle,
		WarnThrottle:      cfg.WarnThrottle,
	})
	e.orders.OnFatal(e.fail)

	e.enricher = enricher.New(log, e.bus, nil, enricher.Options{
		WindowSize: cfg.BarWindow,
		Location:   cfg.Location(),
	})

	e.signals = signal.NewGenerator(log, e.bus, clk, strategies, signal.Options{
		BatchWindow: cfg.RosterBatchWindow,
	})

	e.portfolio = portfolio.NewGenerator(log, e.bus, strategies)

	e.executor = executor.New(log, e.bus, deps.Broker, e.ledger, e.holds, deps.Store, clk, executor.Options{
		Sizing:           executor.Sizing(cfg.OrderSizing),
		Fractional:       cfg.Fractional,
		MinOrderNotional: cfg.MinOrderNotional,
		MaxSubmitPerTick: cfg.MaxSubmitPerTick,
		SubmitTimeout:    cfg.HTTPTimeout,
		WarnThrottle:     cfg.WarnThrottle,
		OrderType:        types.OrderTypeMarket,
		TimeInForce:      types.TimeInForceDay,
	})
	e.executor.SetFeatureSource(e.enricher)

	e.market = marketstream.NewStream(log, e.bus, clk, deps.Dialer, deps.Store, marketstream.Options{
		Topics:            marketstream.DefaultTopics,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectDelayMax: cfg.ReconnectDelayMax,
		KeepAliveTimeout:  cfg.KeepAliveTimeout,
	})

	return e, nil
}

// Bus exposes the message bus to read-only observers such as the dashboard.
func (e *LiveCoreV1) Bus() *bus.Bus {
	return e.bus
}

// Ledger exposes the cash and position ledger.
func (e *LiveCoreV1) Ledger() *ledger.Ledger {
	return e.ledger
}

// Run implements engine.LiveCore.
func (e *LiveCoreV1) Run(ctx context.Context, callbacks engine.Callbacks) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()

		return errors.New(errors.ErrCodeEngineInitFailed, "live core already running")
	}

	e.running = true
	e.callbacks = callbacks
	e.startedAt = e.clock.NowUTC()
	e.mu.Unlock()

	defer close(e.done)

	// stages outlive ctx so the close teardown can still talk to the broker
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	e.holds.Start(runCtx)

	defer func() {
		e.clock.Stop()
		e.holds.Stop()
		e.bus.Close()
		e.setState(engine.StateStopped)
	}()

	if err := e.register(runCtx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("context done, stopping live core")
			e.shutdown()

			return nil
		case <-e.stopCh:
			e.log.Info("stop requested")
			e.shutdown()

			return nil
		case err := <-e.fatal:
			e.log.Error("fatal error, tearing down", zap.Error(err))
			e.shutdown()

			return err
		case req := <-e.requests:
			if err := e.handle(runCtx, req); err != nil {
				e.log.Error("session phase failed, tearing down", zap.String("phase", req.phase.String()), zap.Error(err))
				e.shutdown()

				return err
			}
		}
	}
}

// Stop implements engine.LiveCore.
func (e *LiveCoreV1) Stop(ctx context.Context) error {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()

	e.stopOnce.Do(func() { close(e.stopCh) })

	if !running {
		return nil
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeStopBudgetExceeded, "live core did not stop in time", ctx.Err())
	}
}

// Status implements engine.LiveCore.
func (e *LiveCoreV1) Status() engine.Status {
	e.mu.RLock()
	status := engine.Status{
		State:       e.state,
		SessionDate: e.current.Date,
		RunPath:     "",
		Symbols:     append([]string(nil), e.symbols...),
		Holds:       e.holds.Snapshot(),
		NextTimers:  make(map[string]time.Time),
		Submitted:   e.executor.Stats().Submitted,
		StartedAt:   e.startedAt,
	}
	premarket := e.premarketDone
	e.mu.RUnlock()

	if premarket {
		status.RunPath = e.sessions.GetCurrentRunPath()
	}

	scheduler := e.clock.Scheduler()
	for _, name := range scheduler.Pending() {
		if at, ok := scheduler.When(name); ok {
			status.NextTimers[name] = at
		}
	}

	return status
}

// SetRoster replaces the traded symbols. An open session keeps streaming the
// remaining symbols; added symbols stay CLOSED_FOR_DAY until the next open.
func (e *LiveCoreV1) SetRoster(ctx context.Context, symbols []string) error {
	next := normalizeSymbols(symbols)
	if len(next) == 0 {
		return errors.New(errors.ErrCodeInvalidParameter, "roster needs at least one symbol")
	}

	e.mu.Lock()
	if !e.running {
		e.symbols = next
		e.mu.Unlock()

		return nil
	}
	e.mu.Unlock()

	req := request{phase: phaseRoster, symbols: next, reply: make(chan error, 1)}

	select {
	case e.requests <- req:
	case <-e.done:
		return errors.New(errors.ErrCodeEngineNotInitialized, "live core stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-e.done:
		return errors.New(errors.ErrCodeEngineNotInitialized, "live core stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (e *LiveCoreV1) Done() <-chan struct{} {
	return e.done
}

func (e *LiveCoreV1) enqueue(req request) {
	select {
	case e.requests <- req:
	case <-e.done:
	}
}

func (e *LiveCoreV1) fail(err error) {
	select {
	case e.fatal <- err:
	default:
	}
}

func (e *LiveCoreV1) register(ctx context.Context) error {
	handlers := clock.SessionHandlers{
		PreMarket: func(_ context.Context, s clock.Session) { e.enqueue(request{phase: phasePreMarket, session: s}) },
		Open:      func(_ context.Context, s clock.Session) { e.enqueue(request{phase: phaseOpen, session: s}) },
		Close:     func(_ context.Context, s clock.Session) { e.enqueue(request{phase: phaseClose, session: s}) },
	}

	next, err := e.clock.RegisterSessionTimers(ctx, handlers)
	if err != nil {
		return errors.Wrap(errors.ErrCodeScheduleFailed, "failed to register session timers", err)
	}

	e.mu.RLock()
	closed := e.closedDate
	e.mu.RUnlock()

	if next.Date != closed {
		return nil
	}

	// the broker still reports the session that was just closed
	scheduler := e.clock.Scheduler()
	scheduler.Cancel(clock.TimerPreMarketOpen)
	scheduler.Cancel(clock.TimerMarketOpen)
	scheduler.Cancel(clock.TimerMarketClose)

	retryAt := e.clock.NowUTC().Add(RegisterRetry)
	e.log.Info("session already closed, retrying timer registration", zap.String("date", closed), zap.Time("retry_at", retryAt))

	return scheduler.Schedule(ctx, TimerNextSession, retryAt, func(context.Context) {
		e.enqueue(request{phase: phaseRegister})
	})
}

func (e *LiveCoreV1) handle(ctx context.Context, req request) error {
	e.mu.RLock()
	closed := e.closedDate
	current := e.current.Date
	premarket := e.premarketDone
	open := e.openDone
	e.mu.RUnlock()

	switch req.phase {
	case phaseRegister:
		return e.register(ctx)
	case phaseRoster:
		err := e.changeRoster(ctx, req.symbols)
		if err != nil {
			e.log.Error("roster change failed", zap.Strings("symbols", req.symbols), zap.Error(err))
		}

		req.reply <- err

		return nil
	case phasePreMarket:
		if req.session.Date == closed || (req.session.Date == current && premarket) {
			return nil
		}

		return e.preMarket(ctx, req.session)
	case phaseOpen:
		if req.session.Date == closed || (req.session.Date == current && open) {
			return nil
		}

		if req.session.Date != current || !premarket {
			if err := e.preMarket(ctx, req.session); err != nil {
				return err
			}
		}

		return e.open(ctx, req.session)
	case phaseClose:
		if req.session.Date != closed && req.session.Date == current && premarket {
			e.closeSession()
		}

		e.mu.Lock()
		e.closedDate = req.session.Date
		e.mu.Unlock()

		return e.register(ctx)
	case phaseForceStop:
		if !premarket || current == closed {
			return nil
		}

		e.log.Warn("every symbol is closed for the day, stopping the session early", zap.String("date", current))
		e.closeSession()

		e.mu.Lock()
		e.closedDate = current
		e.mu.Unlock()

		return nil
	}

	return nil
}

// preMarket warms up the ledger, reconciles orders and subscribes to the
// order event stream. Every symbol stays closed until the open.
func (e *LiveCoreV1) preMarket(ctx context.Context, s clock.Session) error {
	e.log.Info("pre-market", zap.String("date", s.Date))

	e.mu.Lock()
	e.current = s
	e.premarketDone = false
	e.openDone = false
	e.mu.Unlock()

	account, err := e.broker.Account(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSessionFailed, "failed to read broker account", err)
	}

	positions, err := e.broker.Positions(ctx)
	if err != nil {
		e.log.Warn("failed to read broker positions, using persisted positions", zap.Error(err))

		positions, err = e.store.FetchOpen(ctx, e.cfg.User, account.ID)
		if err != nil {
			return errors.Wrap(errors.ErrCodeSessionFailed, "failed to load positions", err)
		}
	}

	e.ledger.StartSession(account, positions)

	now := e.clock.NowUTC()
	if err := e.sessions.StartRun(s.Date, now); err != nil {
		return errors.Wrap(errors.ErrCodeSessionFailed, "failed to create run folder", err)
	}

	runPath := e.sessions.GetCurrentRunPath()
	symbols := e.roster()
	e.stats.Initialize(symbols, e.sessions.GetRunID(), s.Date, now)
	e.stats.SetOutputPath(filepath.Join(runPath, "stats.yaml"))

	w, err := e.openWriters(runPath)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.writers = w
	e.mu.Unlock()

	e.subscribeSession()
	e.holds.SetRoster(symbols)

	e.orders.ResetSession()

	result, err := e.orders.Reconcile(ctx)
	if err != nil {
		return err
	}

	if err := e.executor.StartSession(ctx, s.Date, symbols); err != nil {
		return err
	}

	if err := e.orders.Start(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeSessionFailed, "failed to start order stream", err)
	}

	e.mu.Lock()
	e.premarketDone = true
	e.mu.Unlock()
	e.setState(engine.StatePreMarket)

	e.log.Info("pre-market ready",
		zap.String("date", s.Date),
		zap.String("run_path", runPath),
		zap.Int("adopted", result.Adopted),
		zap.Int("refreshed", result.Refreshed),
	)

	return nil
}

func (e *LiveCoreV1) openWriters(runPath string) (*sessionWriters, error) {
	w := &sessionWriters{
		bars:    writers.NewBarsWriter(filepath.Join(runPath, "bars.parquet")),
		holds:   writers.NewHoldsWriter(filepath.Join(runPath, "holds.parquet")),
		weights: writers.NewWeightsWriter(filepath.Join(runPath, "weights.parquet")),
	}

	if err := w.bars.Initialize(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSessionFailed, "failed to initialize bars writer", err)
	}

	if err := w.holds.Initialize(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSessionFailed, "failed to initialize holds writer", err)
	}

	if err := w.weights.Initialize(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSessionFailed, "failed to initialize weights writer", err)
	}

	return w, nil
}

// subscribeSession attaches the session recorders to the bus.
func (e *LiveCoreV1) subscribeSession() {
	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.writers
	subs := make([]*bus.Subscriber, 0, 2)

	subs = append(subs, bus.Subscribe(e.bus, bus.OrderEventTopic(), "live.orders", func(_ context.Context, event types.OrderEvent) error {
		e.stats.RecordOrderEvent(event)

		if cb := e.callbacks.OnOrderEvent; cb != nil {
			(*cb)(event)
		}

		return nil
	}))

	subs = append(subs, bus.Subscribe(e.bus, bus.WeightsTopic(), "live.weights", func(_ context.Context, weights types.TargetWeights) error {
		return w.weights.Write(weights)
	}))

	e.sessionSubs = subs
	e.barSubs = make(map[string]*bus.Subscriber, len(e.symbols))

	for _, symbol := range e.symbols {
		e.recordBarsLocked(symbol)
	}
}

func (e *LiveCoreV1) recordBarsLocked(symbol string) {
	w := e.writers
	e.barSubs[symbol] = bus.Subscribe(e.bus, bus.BarTopic(symbol), "live.bars."+symbol, func(_ context.Context, bar types.Bar) error {
		return w.bars.Write(bar)
	})
}

// open flips the roster to OPEN and starts the pipeline in dependency order.
func (e *LiveCoreV1) open(ctx context.Context, s clock.Session) error {
	e.log.Info("market open", zap.String("date", s.Date))

	if err := e.holds.OpenSession(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeSessionFailed, "failed to open holds", err)
	}

	symbols := e.roster()

	if err := e.enricher.Start(ctx, symbols); err != nil {
		return err
	}

	if err := e.signals.Start(ctx, symbols); err != nil {
		return err
	}

	if err := e.portfolio.Start(ctx, symbols, e.heldSymbols()); err != nil {
		return err
	}

	if err := e.executor.Start(ctx); err != nil {
		return err
	}

	if err := e.market.Start(ctx, symbols); err != nil {
		return errors.Wrap(errors.ErrCodeMarketDataConnectFailed, "failed to start market data stream", err)
	}

	e.mu.Lock()
	e.openDone = true
	cb := e.callbacks.OnSessionStart
	e.mu.Unlock()
	e.setState(engine.StateOpen)

	if cb != nil {
		if err := (*cb)(s.Date, symbols, e.sessions.GetCurrentRunPath()); err != nil {
			e.reportError(errors.Wrap(errors.ErrCodeCallbackFailed, "OnSessionStart callback failed", err))
		}
	}

	return nil
}

func (e *LiveCoreV1) roster() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]string(nil), e.symbols...)
}

// changeRoster applies a new symbol set to the running session. Outside a
// session it only takes effect at the next pre-market.
func (e *LiveCoreV1) changeRoster(ctx context.Context, symbols []string) error {
	e.mu.Lock()
	previous := e.symbols
	e.symbols = symbols
	active := e.premarketDone && e.current.Date != e.closedDate
	open := active && e.openDone

	var dropped []*bus.Subscriber

	if active && e.barSubs != nil {
		keep := make(map[string]bool, len(symbols))
		for _, s := range symbols {
			keep[s] = true
		}

		for s, sub := range e.barSubs {
			if !keep[s] {
				dropped = append(dropped, sub)
				delete(e.barSubs, s)
			}
		}

		for _, s := range symbols {
			if _, ok := e.barSubs[s]; !ok {
				e.recordBarsLocked(s)
			}
		}
	}
	e.mu.Unlock()

	e.log.Info("roster changed",
		zap.Strings("from", previous),
		zap.Strings("to", symbols),
		zap.Bool("session_active", active),
		zap.Bool("session_open", open),
	)

	for _, sub := range dropped {
		sub.Unsubscribe()
	}

	if !active {
		return nil
	}

	e.holds.SetRoster(symbols)

	if err := e.executor.SetRoster(ctx, symbols); err != nil {
		return err
	}

	if !open {
		return nil
	}

	e.enricher.Restart(symbols)
	e.signals.Restart(ctx, symbols)

	if err := e.portfolio.Restart(symbols); err != nil {
		return errors.Wrap(errors.ErrCodeSessionFailed, "failed to restart portfolio", err)
	}

	if err := e.market.Restart(ctx, symbols); err != nil {
		return errors.Wrap(errors.ErrCodeMarketDataConnectFailed, "failed to restart market data stream", err)
	}

	return nil
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))

	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}

		seen[s] = true
		out = append(out, s)
	}

	sort.Strings(out)

	return out
}

func (e *LiveCoreV1) heldSymbols() []string {
	snapshot := e.ledger.Snapshot()
	held := make([]string, 0, len(snapshot.Positions))

	for symbol, p := range snapshot.Positions {
		if p.Qty > 0 {
			held = append(held, symbol)
		}
	}

	sort.Strings(held)

	return held
}

// shutdown closes a session that is still running.
func (e *LiveCoreV1) shutdown() {
	e.mu.RLock()
	active := (e.premarketDone || e.writers != nil) && e.current.Date != e.closedDate
	e.mu.RUnlock()

	if active {
		e.closeSession()
	}
}

// closeSession tears the session down. Every step runs even when an earlier
// one failed, all of them inside the graceful stop budget.
func (e *LiveCoreV1) closeSession() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.GracefulStopBudget)
	defer cancel()

	e.setState(engine.StateClosing)
	e.log.Info("closing session", zap.String("date", e.current.Date))

	step := func(name string, err error) {
		if err != nil {
			e.log.Warn("close step failed", zap.String("step", name), zap.Error(err))
			e.reportError(err)
		}
	}

	step("holds", e.holds.CloseSession(ctx))
	step("executor", e.executor.Stop(ctx))
	step("enricher_drain", e.enricher.Drain(ctx))
	step("market_stream", e.market.Stop(ctx))
	step("enricher", e.enricher.Stop(ctx))
	step("signals", e.signals.Stop(ctx))
	step("portfolio", e.portfolio.Stop(ctx))
	step("order_flush", e.orders.Flush(ctx, e.cfg.SettleWindow))
	step("order_stream", e.orders.Stop(ctx))

	e.mu.Lock()
	subs := e.sessionSubs
	e.sessionSubs = nil
	for _, sub := range e.barSubs {
		subs = append(subs, sub)
	}
	e.barSubs = nil
	w := e.writers
	e.writers = nil
	e.mu.Unlock()

	for _, sub := range subs {
		step(sub.Name(), sub.Drain(ctx))
		sub.Unsubscribe()
	}

	step("positions", e.savePositions(ctx))

	runPath := e.sessions.GetCurrentRunPath()

	files, err := e.store.Export(ctx, runPath)
	step("export", err)

	if files == nil {
		files = make(map[string]string)
	}

	if w != nil {
		step("bars", w.bars.Flush())
		step("holds_writer", w.holds.Flush())
		step("weights", w.weights.Flush())
		files["bars"] = w.bars.GetOutputPath()
		files["holds"] = w.holds.GetOutputPath()
		files["weights"] = w.weights.GetOutputPath()
		step("bars_close", w.bars.Close())
		step("holds_close", w.holds.Close())
		step("weights_close", w.weights.Close())
	}

	e.stats.SetSubmitted(e.executor.Stats().Submitted)
	e.stats.SetFiles(files)
	e.stats.Finish(e.clock.NowUTC())
	step("stats", e.stats.WriteStatsYAML())

	summary := e.stats.GetStats()

	e.mu.RLock()
	cb := e.callbacks.OnSessionEnd
	e.mu.RUnlock()

	if cb != nil {
		(*cb)(summary)
	}

	e.setState(engine.StateClosed)
	e.log.Info("session closed",
		zap.String("date", summary.Date),
		zap.Int("submitted", summary.Orders.Submitted),
		zap.Int("fills", summary.Fills),
		zap.Float64("traded_notional", summary.TradedNotional),
	)
}

func (e *LiveCoreV1) savePositions(ctx context.Context) error {
	snapshot := e.ledger.Snapshot()
	positions := make([]types.Position, 0, len(snapshot.Positions))

	for _, p := range snapshot.Positions {
		positions = append(positions, p)
	}

	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	return e.store.SavePositions(ctx, positions)
}

func (e *LiveCoreV1) onHoldChange(change types.HoldChange) {
	bus.Publish(context.Background(), e.bus, bus.HoldTopic(), change)

	e.mu.RLock()
	w := e.writers
	cb := e.callbacks.OnHoldChange
	e.mu.RUnlock()

	if w != nil {
		if err := w.holds.Write(change, e.clock.NowUTC()); err != nil {
			e.log.Warn("failed to record hold change", zap.String("symbol", change.Symbol), zap.Error(err))
		}
	}

	if cb != nil {
		(*cb)(change)
	}
}

func (e *LiveCoreV1) setState(state engine.State) {
	e.mu.Lock()
	changed := e.state != state
	e.state = state
	cb := e.callbacks.OnStatusUpdate
	e.mu.Unlock()

	if changed && cb != nil {
		(*cb)(state)
	}
}

func (e *LiveCoreV1) reportError(err error) {
	e.mu.RLock()
	cb := e.callbacks.OnError
	e.mu.RUnlock()

	if cb != nil {
		(*cb)(err)
	}
}

// Verify LiveCoreV1 implements engine.LiveCore interface.
var _ engine.LiveCore = (*LiveCoreV1)(nil)
