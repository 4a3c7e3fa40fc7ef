package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-live/internal/broker"
	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/ledger"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/storage"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/mocks"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

const sessionDate = "2025-03-06"

type stubHolds struct {
	mu       sync.Mutex
	statuses map[string]types.HoldStatus
}

func (h *stubHolds) Status(symbol string) types.HoldStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	status, ok := h.statuses[symbol]
	if !ok {
		return types.HoldOpen
	}

	return status
}

func (h *stubHolds) set(symbol string, status types.HoldStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.statuses[symbol] = status
}

type stubFeatures map[string]types.EnrichedBar

func (f stubFeatures) Latest(symbol string) (types.EnrichedBar, bool) {
	bar, ok := f[symbol]

	return bar, ok
}

type ExecutorTestSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	broker *mocks.MockBroker
	bus    *bus.Bus
	ledger *ledger.Ledger
	holds  *stubHolds
	store  *storage.Store
	clock  *clock.Manual
	tick   time.Time
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}

func (suite *ExecutorTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.broker = mocks.NewMockBroker(suite.ctrl)
	suite.bus = bus.New(logger.NewNop())
	suite.ledger = ledger.New(logger.NewNop())
	suite.holds = &stubHolds{statuses: make(map[string]types.HoldStatus)}
	suite.clock = clock.NewManual(time.Date(2025, 3, 6, 15, 0, 0, 0, time.UTC))
	suite.tick = time.Date(2025, 3, 6, 15, 0, 0, 0, time.UTC)

	store, err := storage.Open(logger.NewNop(), storage.Options{})
	suite.Require().NoError(err)
	suite.store = store

	suite.startLedger(10000, nil)
}

func (suite *ExecutorTestSuite) TearDownTest() {
	suite.ctrl.Finish()
	suite.bus.Close()
	suite.NoError(suite.store.Close())
}

func (suite *ExecutorTestSuite) startLedger(cash float64, positions []types.Position) {
	//nolint:exhaustruct
	suite.ledger.StartSession(types.Account{
		ID:          "acct",
		Cash:        decimal.NewFromFloat(cash),
		BuyingPower: decimal.NewFromFloat(cash),
	}, positions)
}

func (suite *ExecutorTestSuite) newExecutor(opts Options, symbols ...string) *Executor {
	e := New(logger.NewNop(), suite.bus, suite.broker, suite.ledger, suite.holds, suite.store, suite.clock, opts)
	suite.Require().NoError(e.StartSession(context.Background(), sessionDate, symbols))

	return e
}

func (suite *ExecutorTestSuite) weights(w map[string]float64, prices map[string]float64) types.TargetWeights {
	suite.tick = suite.tick.Add(time.Minute)

	symbols := make([]string, 0, len(w))
	for s := range w {
		symbols = append(symbols, s)
	}

	return types.TargetWeights{Tick: suite.tick, Symbols: symbols, Weights: w, Prices: prices}
}

func (suite *ExecutorTestSuite) acceptSubmissions(times int) *[]broker.SubmitRequest {
	var requests []broker.SubmitRequest

	suite.broker.EXPECT().SubmitOrder(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req broker.SubmitRequest) (types.Order, error) {
			requests = append(requests, req)

			//nolint:exhaustruct
			return types.Order{ID: "broker-" + req.ClientOrderID[:8], ClientOrderID: req.ClientOrderID, Status: types.OrderStatusAccepted}, nil
		}).Times(times)

	return &requests
}

func (suite *ExecutorTestSuite) TestSingleBuy() {
	e := suite.newExecutor(Options{}, "AAA")
	e.SetFeatureSource(stubFeatures{"AAA": {Bar: types.Bar{Symbol: "AAA", Time: suite.tick, Close: 100}, Features: map[types.Column]float64{"rsi_14": 55}}})
	requests := suite.acceptSubmissions(1)

	decisions := e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 1.0}, map[string]float64{"AAA": 100}))
	suite.Require().Len(decisions, 1)
	suite.True(decisions[0].Submitted())
	suite.Equal(types.OrderSideBuy, decisions[0].Side)
	suite.Equal(100.0, decisions[0].Qty)

	coid := ClientOrderID("AAA", sessionDate, 1)
	suite.Require().Len(*requests, 1)
	suite.Equal(coid, (*requests)[0].ClientOrderID)
	suite.Equal(100.0, (*requests)[0].Qty)
	suite.Equal(types.TimeInForceDay, (*requests)[0].TimeInForce)

	inFlight, err := suite.ledger.InFlight("AAA").Take()
	suite.Require().NoError(err)
	suite.Equal(coid, inFlight.ClientOrderID)
	suite.Equal(types.OrderStatusAccepted, inFlight.Status)
	suite.NotEmpty(inFlight.ID)
	suite.True(suite.ledger.Reserved(coid).Equal(decimal.NewFromInt(10000)))
	suite.True(suite.ledger.Available().IsZero())

	stored, err := suite.store.FetchByClientOrderID(context.Background(), coid)
	suite.Require().NoError(err)
	order, err := stored.Take()
	suite.Require().NoError(err)
	suite.Equal(types.OrderStatusAccepted, order.Status)
	suite.Equal(1, order.Sequence)
	suite.Equal(sessionDate, order.SessionDate)

	rows, err := suite.store.FetchEnriched(context.Background(), coid)
	suite.Require().NoError(err)
	suite.Len(rows, 1)
	suite.Equal(1, e.Stats().Submitted)
}

func (suite *ExecutorTestSuite) TestInFlightSymbolIsSkipped() {
	e := suite.newExecutor(Options{}, "BBB")

	//nolint:exhaustruct
	suite.Require().NoError(suite.ledger.SetInFlight(types.Order{
		ClientOrderID: "prior",
		Symbol:        "BBB",
		Side:          types.OrderSideBuy,
		Status:        types.OrderStatusAccepted,
		Qty:           5,
	}))

	decisions := e.Execute(context.Background(), suite.weights(map[string]float64{"BBB": 0.1}, map[string]float64{"BBB": 100}))
	suite.Require().Len(decisions, 1)
	suite.Equal(SkipInFlight, decisions[0].Skip)

	inFlight, err := suite.ledger.InFlight("BBB").Take()
	suite.Require().NoError(err)
	suite.Equal("prior", inFlight.ClientOrderID)
	suite.Equal(1, e.Stats().Skipped[SkipInFlight])
	suite.Equal(0, e.Sequence("BBB"))
}

func (suite *ExecutorTestSuite) TestHoldsGateSubmission() {
	suite.startLedger(10000, []types.Position{{Symbol: "SELL", Qty: 10, AvgPrice: 100}})
	e := suite.newExecutor(Options{}, "CLOSED", "HOLD", "BUYONLY", "SELL")

	suite.holds.set("CLOSED", types.HoldClosedForDay)
	suite.holds.set("HOLD", types.HoldAll)
	suite.holds.set("BUYONLY", types.HoldSellOnly)
	suite.holds.set("SELL", types.HoldBuyOnly)

	decisions := e.Execute(context.Background(), suite.weights(
		map[string]float64{"CLOSED": 0.2, "HOLD": 0.2, "BUYONLY": 0.2, "SELL": 0},
		map[string]float64{"CLOSED": 10, "HOLD": 10, "BUYONLY": 10, "SELL": 100},
	))

	reasons := make(map[string]SkipReason, len(decisions))
	for _, d := range decisions {
		reasons[d.Symbol] = d.Skip
	}

	suite.Equal(map[string]SkipReason{
		"CLOSED":  SkipHold,
		"HOLD":    SkipHold,
		"BUYONLY": SkipDirection,
		"SELL":    SkipDirection,
	}, reasons)
}

func (suite *ExecutorTestSuite) TestInsufficientCash() {
	e := suite.newExecutor(Options{}, "AAA")
	suite.Require().NoError(suite.ledger.Reserve("other", "ZZZ", decimal.NewFromInt(9950), 0))

	decisions := e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.5}, map[string]float64{"AAA": 100}))
	suite.Require().Len(decisions, 1)
	suite.Equal(SkipInsufficientCash, decisions[0].Skip)
	suite.True(suite.ledger.InFlight("AAA").IsNone())
}

func (suite *ExecutorTestSuite) TestRejectedSubmissionReleasesCash() {
	e := suite.newExecutor(Options{}, "AAA")

	suite.broker.EXPECT().SubmitOrder(gomock.Any(), gomock.Any()).
		Return(types.Order{}, errors.New(errors.ErrCodeBrokerBadRequest, "insufficient buying power"))

	decisions := e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.5}, map[string]float64{"AAA": 100}))
	suite.Require().Len(decisions, 1)

	coid := ClientOrderID("AAA", sessionDate, 1)
	suite.True(suite.ledger.Reserved(coid).IsZero())
	suite.True(suite.ledger.Available().Equal(decimal.NewFromInt(10000)))
	suite.True(suite.ledger.InFlight("AAA").IsNone())

	stored, err := suite.store.FetchByClientOrderID(context.Background(), coid)
	suite.Require().NoError(err)
	order, err := stored.Take()
	suite.Require().NoError(err)
	suite.Equal(types.OrderStatusRejected, order.Status)
	suite.Contains(order.Reason, "insufficient buying power")
	suite.Equal(1, e.Stats().Rejected)

	// the next tick is eligible again with a fresh client order id
	requests := suite.acceptSubmissions(1)
	e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.5}, map[string]float64{"AAA": 100}))
	suite.Require().Len(*requests, 1)
	suite.Equal(ClientOrderID("AAA", sessionDate, 2), (*requests)[0].ClientOrderID)
}

func (suite *ExecutorTestSuite) TestRateLimitPausesUntilReset() {
	e := suite.newExecutor(Options{}, "AAA", "BBB")

	suite.broker.EXPECT().SubmitOrder(gomock.Any(), gomock.Any()).
		Return(types.Order{}, broker.NewRateLimited("too many requests", 5*time.Second))

	prices := map[string]float64{"AAA": 100, "BBB": 50}
	decisions := e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.25, "BBB": 0.25}, prices))
	suite.Require().Len(decisions, 2)
	suite.Equal(SkipRateLimited, decisions[1].Skip)
	suite.True(suite.ledger.InFlight("AAA").IsNone())
	suite.Equal(1, e.Stats().Rejected)

	suite.clock.Advance(4 * time.Second)
	decisions = e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.25, "BBB": 0.25}, prices))
	suite.Equal(SkipRateLimited, decisions[0].Skip)
	suite.Equal(SkipRateLimited, decisions[1].Skip)

	suite.clock.Advance(time.Second)
	requests := suite.acceptSubmissions(2)
	e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.25, "BBB": 0.25}, prices))
	suite.Len(*requests, 2)
}

func (suite *ExecutorTestSuite) TestTimeoutHoldsReservation() {
	e := suite.newExecutor(Options{SubmitTimeout: 20 * time.Millisecond}, "AAA")

	suite.broker.EXPECT().SubmitOrder(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ broker.SubmitRequest) (types.Order, error) {
			<-ctx.Done()

			return types.Order{}, errors.Wrap(errors.ErrCodeBrokerTimeout, "submit timed out", ctx.Err())
		})

	e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.5}, map[string]float64{"AAA": 100}))

	coid := ClientOrderID("AAA", sessionDate, 1)
	suite.True(suite.ledger.Reserved(coid).Equal(decimal.NewFromInt(5000)))

	inFlight, err := suite.ledger.InFlight("AAA").Take()
	suite.Require().NoError(err)
	suite.Equal(types.OrderStatusNew, inFlight.Status)
	suite.Equal(1, e.Stats().TimedOut)

	// the symbol stays blocked until reconciliation resolves the order
	decisions := e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.5}, map[string]float64{"AAA": 100}))
	suite.Equal(SkipInFlight, decisions[0].Skip)
}

func (suite *ExecutorTestSuite) TestSequenceRecoveredFromStorage() {
	for seq := 1; seq <= 3; seq++ {
		//nolint:exhaustruct
		suite.Require().NoError(suite.store.InsertOrder(context.Background(), types.Order{
			ClientOrderID: ClientOrderID("AAA", sessionDate, seq),
			Symbol:        "AAA",
			Side:          types.OrderSideBuy,
			Type:          types.OrderTypeMarket,
			TimeInForce:   types.TimeInForceDay,
			Status:        types.OrderStatusFilled,
			Qty:           1,
			SessionDate:   sessionDate,
			Sequence:      seq,
			CreatedAt:     suite.clock.Now(),
			UpdatedAt:     suite.clock.Now(),
		}))
	}

	e := suite.newExecutor(Options{}, "AAA")
	suite.Equal(3, e.Sequence("AAA"))

	requests := suite.acceptSubmissions(1)
	e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.1}, map[string]float64{"AAA": 100}))
	suite.Require().Len(*requests, 1)
	suite.Equal(ClientOrderID("AAA", sessionDate, 4), (*requests)[0].ClientOrderID)
}

func (suite *ExecutorTestSuite) TestSizing() {
	suite.startLedger(10000, []types.Position{{Symbol: "POS", Qty: 10, AvgPrice: 100}})

	tests := []struct {
		name     string
		opts     Options
		symbol   string
		weight   float64
		price    float64
		side     types.OrderSide
		qty      float64
		notional float64
		skip     SkipReason
	}{
		{name: "whole shares", symbol: "NEW", weight: 0.1, price: 30, side: types.OrderSideBuy, qty: 33},
		{name: "fractional shares", opts: Options{Fractional: true}, symbol: "NEW", weight: 0.1, price: 30, side: types.OrderSideBuy, qty: 33.3333},
		{name: "top up existing position", symbol: "POS", weight: 0.5, price: 100, side: types.OrderSideBuy, qty: 40},
		{name: "notional top up", opts: Options{Sizing: SizingNotional}, symbol: "POS", weight: 0.5, price: 100, side: types.OrderSideBuy, notional: 4000},
		{name: "trim sells qty", opts: Options{Sizing: SizingNotional}, symbol: "POS", weight: 0.05, price: 100, side: types.OrderSideSell, qty: 5},
		{name: "zero weight closes the position", symbol: "POS", weight: 0, price: 90, side: types.OrderSideSell, qty: 10},
		{name: "no position to sell", symbol: "NEW", weight: 0, price: 30, skip: SkipNoChange},
		{name: "at target", symbol: "POS", weight: 0.1, price: 100, skip: SkipNoChange},
		{name: "rounds to nothing", symbol: "NEW", weight: 0.00005, price: 100, side: types.OrderSideBuy, skip: SkipNoChange},
		{name: "below minimum notional", opts: Options{Fractional: true}, symbol: "NEW", weight: 0.00005, price: 100, side: types.OrderSideBuy, skip: SkipBelowMinimum},
		{name: "missing price", symbol: "NEW", weight: 0.1, price: 0, skip: SkipNoPrice},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			e := New(logger.NewNop(), suite.bus, suite.broker, suite.ledger, suite.holds, suite.store, suite.clock, tt.opts)

			d := e.Decide(tt.symbol, tt.weight, tt.price)
			suite.Equal(tt.skip, d.Skip)

			if tt.skip != SkipNone {
				return
			}

			suite.Equal(tt.side, d.Side)
			suite.InDelta(tt.qty, d.Qty, 1e-9)
			suite.InDelta(tt.notional, d.Notional, 1e-9)
		})
	}
}

func (suite *ExecutorTestSuite) TestTickLimitAndStaleTicks() {
	e := suite.newExecutor(Options{MaxSubmitPerTick: 1}, "AAA", "BBB")
	requests := suite.acceptSubmissions(1)

	w := suite.weights(map[string]float64{"AAA": 0.2, "BBB": 0.2}, map[string]float64{"AAA": 10, "BBB": 10})
	decisions := e.Execute(context.Background(), w)
	suite.Require().Len(decisions, 2)
	suite.True(decisions[0].Submitted())
	suite.Equal(SkipTickLimit, decisions[1].Skip)
	suite.Len(*requests, 1)

	// replaying the same tick does nothing
	suite.Nil(e.Execute(context.Background(), w))
}

func (suite *ExecutorTestSuite) TestSymbolsOutsideRosterAreSkipped() {
	e := suite.newExecutor(Options{}, "AAA")

	decisions := e.Execute(context.Background(), suite.weights(map[string]float64{"ZZZ": 0.5}, map[string]float64{"ZZZ": 10}))
	suite.Require().Len(decisions, 1)
	suite.Equal(SkipNotInRoster, decisions[0].Skip)

	suite.Require().NoError(e.SetRoster(context.Background(), []string{"ZZZ"}))
	suite.acceptSubmissions(1)

	decisions = e.Execute(context.Background(), suite.weights(map[string]float64{"ZZZ": 0.5}, map[string]float64{"ZZZ": 10}))
	suite.True(decisions[0].Submitted())
}

func (suite *ExecutorTestSuite) TestSubscribesToWeights() {
	e := suite.newExecutor(Options{}, "AAA")
	suite.acceptSubmissions(1)
	suite.Require().NoError(e.Start(context.Background()))
	suite.Error(e.Start(context.Background()))

	bus.Publish(context.Background(), suite.bus, bus.WeightsTopic(), suite.weights(map[string]float64{"AAA": 0.3}, map[string]float64{"AAA": 50}))

	suite.Eventually(func() bool { return e.Stats().Submitted == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	suite.Require().NoError(e.Stop(ctx))

	// weights after Stop are ignored
	suite.Nil(e.Execute(context.Background(), suite.weights(map[string]float64{"AAA": 0.3}, map[string]float64{"AAA": 50})))
}

func (suite *ExecutorTestSuite) TestClientOrderIDIsDeterministic() {
	suite.Equal(ClientOrderID("AAA", sessionDate, 1), ClientOrderID("AAA", sessionDate, 1))
	suite.NotEqual(ClientOrderID("AAA", sessionDate, 1), ClientOrderID("AAA", sessionDate, 2))
	suite.NotEqual(ClientOrderID("AAA", sessionDate, 1), ClientOrderID("AAA", "2025-03-07", 1))
	suite.Len(ClientOrderID("AAA", sessionDate, 1), 36)
}
