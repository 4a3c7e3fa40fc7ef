package orderstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/internal/broker"
	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/clock"
	"github.com/rxtech-lab/argo-live/internal/hold"
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

type StreamTestSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	ctrl    *gomock.Controller
	broker  *mocks.MockBroker
	bus     *bus.Bus
	ledger  *ledger.Ledger
	holds   *hold.Tracker
	store   *storage.Store
	clock   *clock.Manual
	started time.Time
}

func TestStreamSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}

func (suite *StreamTestSuite) SetupTest() {
	suite.ctx, suite.cancel = context.WithCancel(context.Background())
	suite.ctrl = gomock.NewController(suite.T())
	suite.broker = mocks.NewMockBroker(suite.ctrl)
	suite.bus = bus.New(logger.NewNop())
	suite.started = time.Date(2025, 3, 6, 15, 0, 0, 0, time.UTC)
	suite.clock = clock.NewManual(suite.started)

	suite.ledger = ledger.New(logger.NewNop())
	//nolint:exhaustruct
	suite.ledger.StartSession(types.Account{
		ID:          "acct",
		Cash:        decimal.NewFromInt(10000),
		BuyingPower: decimal.NewFromInt(10000),
		Equity:      decimal.NewFromInt(10000),
	}, nil)

	suite.holds = hold.NewTracker(logger.NewNop(), clock.NewScheduler(suite.clock, logger.NewNop()), 2*time.Second)
	suite.holds.SetRoster([]string{"AAA", "BBB"})
	suite.holds.Start(suite.ctx)
	suite.Require().NoError(suite.holds.OpenSession(suite.ctx))

	store, err := storage.Open(logger.NewNop(), storage.Options{Path: "", User: "test", Account: "acct"})
	suite.Require().NoError(err)
	suite.store = store
}

func (suite *StreamTestSuite) TearDownTest() {
	suite.holds.Stop()
	suite.cancel()
	suite.bus.Close()
	suite.Require().NoError(suite.store.Close())
}

func (suite *StreamTestSuite) newStream(window time.Duration) *Stream {
	return New(logger.NewNop(), suite.bus, suite.broker, suite.ledger, suite.holds, suite.store, suite.clock, Options{
		ReorderWindow:  window,
		ReconnectDelay: 5 * time.Millisecond,
		DaysToSettle:   1,
		SettlePoll:     5 * time.Millisecond,
	})
}

// seedBuy records a working buy the way the executor leaves it after submission.
func (suite *StreamTestSuite) seedBuy(symbol, clientOrderID, orderID string, qty, price float64) types.Order {
	//nolint:exhaustruct
	order := types.Order{
		ID:            orderID,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeMarket,
		TimeInForce:   types.TimeInForceDay,
		Status:        types.OrderStatusAccepted,
		Qty:           qty,
		SessionDate:   "2025-03-06",
		Sequence:      1,
		CreatedAt:     suite.started,
		UpdatedAt:     suite.started,
	}

	if orderID == "" {
		order.Status = types.OrderStatusNew
	}

	amount := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
	suite.Require().NoError(suite.ledger.Reserve(clientOrderID, symbol, amount, qty))
	suite.Require().NoError(suite.ledger.SetInFlight(order))
	suite.Require().NoError(suite.store.InsertOrder(suite.ctx, order))

	return order
}

func (suite *StreamTestSuite) event(kind types.OrderEventType, order types.Order, at time.Time) types.OrderEvent {
	//nolint:exhaustruct
	return types.OrderEvent{Event: kind, Order: order, Timestamp: at}
}

func (suite *StreamTestSuite) fill(kind types.OrderEventType, order types.Order, execID string, cumulative, price float64, at time.Time) types.OrderEvent {
	remote := order
	remote.FilledQty = cumulative
	remote.Price = optional.Some(price)

	return types.OrderEvent{
		Event:       kind,
		Order:       remote,
		Timestamp:   at,
		ExecutionID: execID,
		Price:       price,
		Qty:         0,
	}
}

func (suite *StreamTestSuite) stored(clientOrderID string) types.Order {
	found, err := suite.store.FetchByClientOrderID(suite.ctx, clientOrderID)
	suite.Require().NoError(err)

	order, err := found.Take()
	suite.Require().NoError(err)

	return order
}

func (suite *StreamTestSuite) TestFillLifecycle() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 100, 100)

	stream.Enqueue(suite.event(types.OrderEventNew, order, suite.started.Add(time.Second)))
	suite.Equal(types.HoldAll, suite.holds.Status("AAA"))

	stream.Enqueue(suite.fill(types.OrderEventPartialFill, order, "exec-1", 40, 100, suite.started.Add(2*time.Second)))
	suite.Equal(types.OrderStatusPartiallyFilled, suite.stored("coid-1").Status)
	suite.Equal(40.0, suite.ledger.Position("AAA").Qty)
	suite.True(suite.ledger.Reserved("coid-1").Equal(decimal.NewFromInt(6000)))
	suite.True(suite.ledger.Available().IsZero())

	stream.Enqueue(suite.fill(types.OrderEventFill, order, "exec-2", 100, 100, suite.started.Add(3*time.Second)))

	final := suite.stored("coid-1")
	suite.Equal(types.OrderStatusFilled, final.Status)
	suite.Equal(100.0, final.FilledQty)
	suite.Equal(100.0, suite.ledger.Position("AAA").Qty)
	suite.True(suite.ledger.Reserved("coid-1").IsZero())
	suite.True(suite.ledger.Available().IsZero())
	suite.True(suite.ledger.InFlight("AAA").IsNone())

	trades, err := suite.store.FetchTradesByOrderID(suite.ctx, "o-1")
	suite.Require().NoError(err)
	suite.Require().Len(trades, 2)
	suite.Equal("exec-1", trades[0].ExternalID)
	suite.Equal(40.0, trades[0].Qty)
	suite.Equal(60.0, trades[1].Qty)
	suite.Equal(time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), trades[1].SettlementDate)

	suite.Equal(types.HoldAll, suite.holds.Status("AAA"))
	suite.clock.Advance(2 * time.Second)
	suite.Equal(types.HoldSellOnly, suite.holds.Status("AAA"))

	stats := stream.Stats()
	suite.Equal(3, stats.Received)
	suite.Equal(3, stats.Applied)
	suite.Equal(2, stats.Fills)
}

func (suite *StreamTestSuite) TestDuplicateFillIsBookedOnce() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 10, 50)
	fill := suite.fill(types.OrderEventFill, order, "exec-1", 10, 50, suite.started.Add(time.Second))

	applied, err := stream.Apply(suite.ctx, fill)
	suite.Require().NoError(err)
	suite.True(applied)

	applied, err = stream.Apply(suite.ctx, fill)
	suite.Require().NoError(err)
	suite.True(applied)

	trades, err := suite.store.FetchTradesByOrderID(suite.ctx, "o-1")
	suite.Require().NoError(err)
	suite.Len(trades, 1)
	suite.Equal(10.0, suite.ledger.Position("AAA").Qty)
	suite.Equal(1, stream.Stats().Fills)
}

func (suite *StreamTestSuite) TestIncrementalFillQuantities() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 10, 50)

	partial := suite.fill(types.OrderEventPartialFill, order, "exec-1", 0, 50, suite.started.Add(time.Second))
	partial.Qty = 4
	stream.Enqueue(partial)

	last := suite.fill(types.OrderEventFill, order, "exec-2", 0, 51, suite.started.Add(2*time.Second))
	last.Qty = 6
	stream.Enqueue(last)

	position := suite.ledger.Position("AAA")
	suite.Equal(10.0, position.Qty)
	suite.InDelta(50.6, position.AvgPrice, 1e-9)
	suite.Equal(types.OrderStatusFilled, suite.stored("coid-1").Status)
}

func (suite *StreamTestSuite) TestUnknownOrderIsDropped() {
	stream := suite.newStream(0)

	//nolint:exhaustruct
	foreign := types.Order{ID: "o-x", ClientOrderID: "someone-else", Symbol: "AAA", Side: types.OrderSideBuy}

	applied, err := stream.Apply(suite.ctx, suite.fill(types.OrderEventFill, foreign, "exec-x", 5, 10, suite.started))
	suite.Require().NoError(err)
	suite.False(applied)
	suite.Equal(1, stream.Stats().Unknown)
	suite.Equal(0.0, suite.ledger.Position("AAA").Qty)
	suite.Equal(types.HoldOpen, suite.holds.Status("AAA"))
}

func (suite *StreamTestSuite) TestReorderWindowSortsByTimestamp() {
	stream := suite.newStream(100 * time.Millisecond)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 100, 100)

	// the final fill arrives before the partial it follows
	stream.Enqueue(suite.fill(types.OrderEventFill, order, "exec-2", 100, 100, suite.started.Add(2*time.Second)))
	stream.Enqueue(suite.fill(types.OrderEventPartialFill, order, "exec-1", 40, 100, suite.started.Add(time.Second)))
	suite.Equal(2, stream.Buffered())
	suite.Equal(types.OrderStatusAccepted, suite.stored("coid-1").Status)

	suite.clock.Advance(100 * time.Millisecond)
	suite.Equal(0, stream.Buffered())

	trades, err := suite.store.FetchTradesByOrderID(suite.ctx, "o-1")
	suite.Require().NoError(err)
	suite.Require().Len(trades, 2)
	suite.Equal(40.0, trades[0].Qty)
	suite.Equal(60.0, trades[1].Qty)
	suite.Equal(types.OrderStatusFilled, suite.stored("coid-1").Status)

	// older than what was already released
	stream.Enqueue(suite.event(types.OrderEventCanceled, order, suite.started.Add(500*time.Millisecond)))
	suite.Equal(0, stream.Buffered())
	suite.Equal(1, stream.Stats().Stale)
	suite.Equal(types.OrderStatusFilled, suite.stored("coid-1").Status)
}

func (suite *StreamTestSuite) TestCancelAfterPartialReleasesRemainder() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 100, 100)

	stream.Enqueue(suite.fill(types.OrderEventPartialFill, order, "exec-1", 30, 100, suite.started.Add(time.Second)))
	stream.Enqueue(suite.event(types.OrderEventCanceled, order, suite.started.Add(2*time.Second)))

	suite.Equal(types.OrderStatusCanceled, suite.stored("coid-1").Status)
	suite.True(suite.ledger.Reserved("coid-1").IsZero())
	suite.True(suite.ledger.Available().Equal(decimal.NewFromInt(7000)))
	suite.True(suite.ledger.InFlight("AAA").IsNone())
	suite.Equal(types.HoldOpen, suite.holds.Status("AAA"))
}

func (suite *StreamTestSuite) TestEventsAfterTerminalAreIgnored() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 10, 10)

	stream.Enqueue(suite.event(types.OrderEventCanceled, order, suite.started.Add(time.Second)))
	suite.Equal(types.HoldOpen, suite.holds.Status("AAA"))

	stream.Enqueue(suite.event(types.OrderEventPendingCancel, order, suite.started.Add(2*time.Second)))
	suite.Equal(types.HoldOpen, suite.holds.Status("AAA"))
	suite.Equal(types.OrderStatusCanceled, suite.stored("coid-1").Status)
}

func (suite *StreamTestSuite) TestLateAcceptAfterPartialFillKeepsHold() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 100, 100)

	stream.Enqueue(suite.fill(types.OrderEventPartialFill, order, "exec-1", 40, 100, suite.started.Add(2*time.Second)))
	suite.Equal(types.HoldAll, suite.holds.Status("AAA"))

	stream.Enqueue(suite.event(types.OrderEventAccepted, order, suite.started.Add(3*time.Second)))
	suite.Equal(types.OrderStatusPartiallyFilled, suite.stored("coid-1").Status)
	suite.Equal(types.HoldAll, suite.holds.Status("AAA"))

	// the post fill release still fires
	suite.clock.Advance(2 * time.Second)
	suite.Equal(types.HoldSellOnly, suite.holds.Status("AAA"))
}

func (suite *StreamTestSuite) TestDoneForDayClosesSymbol() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 10, 10)

	stream.Enqueue(suite.event(types.OrderEventDoneForDay, order, suite.started.Add(time.Second)))

	suite.Equal(types.OrderStatusDoneForDay, suite.stored("coid-1").Status)
	suite.True(suite.ledger.InFlight("AAA").IsNone())
	suite.True(suite.ledger.Reserved("coid-1").IsZero())
	suite.Equal(types.HoldClosedForDay, suite.holds.Status("AAA"))
	suite.Equal(types.HoldOpen, suite.holds.Status("BBB"))
}

func (suite *StreamTestSuite) TestAppliedEventsArePublished() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 10, 10)

	var (
		mu       sync.Mutex
		received []types.OrderEvent
	)

	sub := bus.Subscribe(suite.bus, bus.OrderEventTopic(), "test", func(_ context.Context, e types.OrderEvent) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()

		return nil
	})
	defer sub.Unsubscribe()

	stream.Enqueue(suite.fill(types.OrderEventFill, order, "exec-1", 10, 10, suite.started.Add(time.Second)))

	suite.Require().NoError(sub.Drain(suite.ctx))

	mu.Lock()
	defer mu.Unlock()
	suite.Require().Len(received, 1)
	suite.Equal(types.OrderStatusFilled, received[0].Order.Status)
	suite.Equal(10.0, received[0].Order.FilledQty)
}

func (suite *StreamTestSuite) TestFlushReleasesBufferedEvents() {
	stream := suite.newStream(time.Hour)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 10, 10)

	stream.Enqueue(suite.fill(types.OrderEventFill, order, "exec-1", 10, 10, suite.started.Add(time.Second)))
	suite.Equal(1, stream.Buffered())

	suite.Require().NoError(stream.Flush(suite.ctx, 20*time.Millisecond))
	suite.Equal(0, stream.Buffered())
	suite.Equal(types.OrderStatusFilled, suite.stored("coid-1").Status)
}

func (suite *StreamTestSuite) TestLostSubmissionResolvesAsRejected() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-lost", "", 10, 10)

	suite.broker.EXPECT().
		GetOrderByClientID(gomock.Any(), "coid-lost").
		Return(types.Order{}, errors.New(errors.ErrCodeBrokerNotFound, "not found"))

	suite.Require().NoError(stream.ReplayGap(suite.ctx))

	stored := suite.stored(order.ClientOrderID)
	suite.Equal(types.OrderStatusRejected, stored.Status)
	suite.Equal("order unknown to broker", stored.Reason)
	suite.True(suite.ledger.Reserved("coid-lost").IsZero())
	suite.True(suite.ledger.InFlight("AAA").IsNone())
	suite.True(suite.ledger.Available().Equal(decimal.NewFromInt(10000)))
}

func (suite *StreamTestSuite) TestTimedOutSubmissionFoundByClientID() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-slow", "", 10, 10)

	remote := order
	remote.ID = "o-late"
	remote.Status = types.OrderStatusAccepted
	suite.broker.EXPECT().GetOrderByClientID(gomock.Any(), "coid-slow").Return(remote, nil)

	suite.Require().NoError(stream.ReplayGap(suite.ctx))

	stored := suite.stored("coid-slow")
	suite.Equal("o-late", stored.ID)
	suite.Equal(types.OrderStatusAccepted, stored.Status)

	inFlight, err := suite.ledger.InFlight("AAA").Take()
	suite.Require().NoError(err)
	suite.Equal("o-late", inFlight.ID)
	suite.True(suite.ledger.Reserved("coid-slow").Equal(decimal.NewFromInt(100)))
}

func (suite *StreamTestSuite) TestReconcileAdoptsCancelsAndRehydrates() {
	// reconciliation starts from an empty ledger
	//nolint:exhaustruct
	suite.ledger.StartSession(types.Account{
		ID:          "acct",
		Cash:        decimal.NewFromInt(10000),
		BuyingPower: decimal.NewFromInt(10000),
	}, []types.Position{{Symbol: "CCC", Qty: 10, AvgPrice: 20}})

	stream := suite.newStream(0)

	//nolint:exhaustruct
	base := types.Order{
		Type:        types.OrderTypeMarket,
		TimeInForce: types.TimeInForceDay,
		Status:      types.OrderStatusAccepted,
		SessionDate: "2025-03-05",
	}

	aaa := base
	aaa.ID, aaa.ClientOrderID, aaa.Symbol, aaa.Side, aaa.Qty = "o-1", "a-1", "AAA", types.OrderSideBuy, 10
	aaa.CreatedAt = suite.started.Add(-time.Hour)

	older := base
	older.ID, older.ClientOrderID, older.Symbol, older.Side, older.Qty = "oc-1", "c-1", "CCC", types.OrderSideSell, 5
	older.CreatedAt = suite.started.Add(-2 * time.Hour)

	newer := older
	newer.ID, newer.ClientOrderID = "oc-2", "c-2"
	newer.CreatedAt = suite.started.Add(-time.Hour)

	for _, o := range []types.Order{aaa, older, newer} {
		suite.Require().NoError(suite.store.InsertOrder(suite.ctx, o))
	}

	foreign := base
	foreign.ID, foreign.ClientOrderID, foreign.Symbol, foreign.Side, foreign.Qty = "o-9", "b-1", "BBB", types.OrderSideBuy, 2
	foreign.Type = types.OrderTypeLimit
	foreign.LimitPrice = optional.Some(50.0)
	foreign.CreatedAt = suite.started.Add(-30 * time.Minute)

	filled := aaa
	filled.Status = types.OrderStatusFilled
	filled.FilledQty = 10
	filled.Price = optional.Some(100.0)
	filled.UpdatedAt = suite.started.Add(-time.Minute)

	suite.broker.EXPECT().Orders(gomock.Any(), broker.OrderQueryOpen).Return([]types.Order{aaa, foreign}, nil)
	suite.broker.EXPECT().CancelOrder(gomock.Any(), "oc-2").Return(nil)
	suite.broker.EXPECT().GetOrder(gomock.Any(), "o-1").Return(filled, nil)
	suite.broker.EXPECT().GetOrder(gomock.Any(), "o-9").Return(foreign, nil)
	suite.broker.EXPECT().GetOrder(gomock.Any(), "oc-1").Return(older, nil)

	result, err := stream.Reconcile(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(1, result.Adopted)
	suite.Equal(1, result.Canceled)
	suite.Equal(3, result.Refreshed)

	suite.Equal(types.OrderStatusFilled, suite.stored("a-1").Status)
	suite.Equal(10.0, suite.ledger.Position("AAA").Qty)
	suite.True(suite.ledger.InFlight("AAA").IsNone())

	adopted := suite.stored("b-1")
	suite.Equal("BBB", adopted.Symbol)
	suite.True(suite.ledger.InFlight("BBB").IsSome())
	suite.True(suite.ledger.Reserved("b-1").Equal(decimal.NewFromInt(100)))

	kept, err := suite.ledger.InFlight("CCC").Take()
	suite.Require().NoError(err)
	suite.Equal("c-1", kept.ClientOrderID)

	suite.True(suite.ledger.Available().Equal(decimal.NewFromInt(8900)))
}

func (suite *StreamTestSuite) TestReconnectReplaysGap() {
	stream := suite.newStream(0)
	order := suite.seedBuy("AAA", "coid-1", "o-1", 100, 100)

	snapshot := order
	snapshot.Status = types.OrderStatusPartiallyFilled
	snapshot.FilledQty = 40
	snapshot.Price = optional.Some(100.0)
	snapshot.UpdatedAt = suite.started.Add(time.Second)

	gomock.InOrder(
		suite.broker.EXPECT().StreamOrders(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, handler broker.OrderEventHandler) error {
				handler(suite.fill(types.OrderEventPartialFill, order, "exec-1", 40, 100, suite.started.Add(time.Second)))

				return errors.New(errors.ErrCodeBrokerStreamFailed, "connection reset")
			}),
		suite.broker.EXPECT().StreamOrders(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ broker.OrderEventHandler) error {
				<-ctx.Done()

				return nil
			}),
	)
	suite.broker.EXPECT().GetOrder(gomock.Any(), "o-1").Return(snapshot, nil).AnyTimes()

	suite.Require().NoError(stream.Start(suite.ctx))
	suite.Error(stream.Start(suite.ctx))

	suite.Eventually(func() bool {
		return stream.Stats().Reconnects == 1
	}, time.Second, 5*time.Millisecond)

	suite.Require().NoError(stream.Stop(suite.ctx))

	trades, err := suite.store.FetchTradesByOrderID(suite.ctx, "o-1")
	suite.Require().NoError(err)
	suite.Len(trades, 1)
	suite.Equal(40.0, suite.ledger.Position("AAA").Qty)

	sessions, err := suite.store.FetchSessions(suite.ctx, storage.StreamOrders)
	suite.Require().NoError(err)
	suite.Require().Len(sessions, 2)

	for _, session := range sessions {
		suite.False(session.End.IsZero())
	}
}

func (suite *StreamTestSuite) TestRefusedCredentialsAreFatal() {
	stream := suite.newStream(0)
	fatal := make(chan error, 1)
	stream.OnFatal(func(err error) { fatal <- err })

	suite.broker.EXPECT().StreamOrders(gomock.Any(), gomock.Any()).
		Return(errors.New(errors.ErrCodeBrokerUnauthorized, "bad key")).
		Times(1)

	suite.Require().NoError(stream.Start(suite.ctx))

	select {
	case err := <-fatal:
		suite.True(errors.HasCodeInChain(err, errors.ErrCodeBrokerUnauthorized))
	case <-time.After(time.Second):
		suite.Fail("fatal callback not called")
	}

	suite.Require().NoError(stream.Stop(suite.ctx))
	suite.Equal(0, stream.Stats().Reconnects)
}

func (suite *StreamTestSuite) TestSplitDuplicatesKeepsOldest() {
	//nolint:exhaustruct
	orders := []types.Order{
		{ClientOrderID: "b", Symbol: "AAA", Status: types.OrderStatusAccepted, CreatedAt: suite.started.Add(time.Minute)},
		{ClientOrderID: "a", Symbol: "AAA", Status: types.OrderStatusNew, CreatedAt: suite.started},
		{ClientOrderID: "d", Symbol: "AAA", Status: types.OrderStatusDoneForDay, CreatedAt: suite.started},
		{ClientOrderID: "c", Symbol: "BBB", Status: types.OrderStatusAccepted, CreatedAt: suite.started},
	}

	keep, duplicates := splitDuplicates(orders)

	ids := make([]string, 0, len(keep))
	for _, o := range keep {
		ids = append(ids, o.ClientOrderID)
	}

	suite.ElementsMatch([]string{"a", "c", "d"}, ids)
	suite.Require().Len(duplicates, 1)
	suite.Equal("b", duplicates[0].ClientOrderID)
}
