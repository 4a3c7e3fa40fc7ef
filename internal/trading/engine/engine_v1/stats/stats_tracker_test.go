package stats

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/stretchr/testify/suite"
)

type StatsTrackerTestSuite struct {
	suite.Suite
	tempDir string
	logger  *logger.Logger
	start   time.Time
}

func (s *StatsTrackerTestSuite) SetupSuite() {
	s.logger = logger.NewNop()
	s.start = time.Date(2025, 3, 6, 14, 30, 0, 0, time.UTC)
}

func (s *StatsTrackerTestSuite) SetupTest() {
	tempDir, err := os.MkdirTemp("", "stats_tracker_test_*")
	s.Require().NoError(err)
	s.tempDir = tempDir
}

func (s *StatsTrackerTestSuite) TearDownTest() {
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}

func TestStatsTrackerTestSuite(t *testing.T) {
	suite.Run(t, new(StatsTrackerTestSuite))
}

func (s *StatsTrackerTestSuite) tracker() *StatsTracker {
	st := NewStatsTracker(s.logger)
	st.Initialize([]string{"AAPL", "MSFT"}, "run_1", "2025-03-06", s.start)

	return st
}

func event(kind types.OrderEventType, coid, symbol string, side types.OrderSide, status types.OrderStatus, filled, price float64) types.OrderEvent {
	//nolint:exhaustruct
	order := types.Order{
		ClientOrderID: coid,
		Symbol:        symbol,
		Side:          side,
		Status:        status,
		Qty:           10,
		FilledQty:     filled,
	}
	if filled > 0 {
		order.Price = optional.Some(price)
	}

	//nolint:exhaustruct
	return types.OrderEvent{Event: kind, Order: order, Price: price}
}

func (s *StatsTrackerTestSuite) TestInitialize() {
	st := s.tracker()

	stats := st.GetStats()
	s.Equal("run_1", stats.ID)
	s.Equal("2025-03-06", stats.Date)
	s.Equal(s.start, stats.SessionStart)
	s.Equal([]string{"AAPL", "MSFT"}, stats.Symbols)
	s.Zero(stats.Fills)
	s.Empty(stats.PerSymbol)
}

func (s *StatsTrackerTestSuite) TestFillsAreCountedByCumulativeDelta() {
	st := s.tracker()

	st.RecordOrderEvent(event(types.OrderEventNew, "c-1", "AAPL", types.OrderSideBuy, types.OrderStatusAccepted, 0, 0))
	st.RecordOrderEvent(event(types.OrderEventPartialFill, "c-1", "AAPL", types.OrderSideBuy, types.OrderStatusPartiallyFilled, 4, 100))
	st.RecordOrderEvent(event(types.OrderEventFill, "c-1", "AAPL", types.OrderSideBuy, types.OrderStatusFilled, 10, 101))
	// a replayed snapshot of the same fill adds nothing
	st.RecordOrderEvent(event(types.OrderEventFill, "c-1", "AAPL", types.OrderSideBuy, types.OrderStatusFilled, 10, 101))

	stats := st.GetStats()
	s.Equal(2, stats.Fills)
	s.Equal(1, stats.Orders.Filled)
	s.InDelta(4*100+6*101, stats.TradedNotional, 1e-9)
	s.InDelta(10, stats.PerSymbol["AAPL"].BoughtQty, 1e-9)
	s.Equal(2, stats.PerSymbol["AAPL"].Fills)
}

func (s *StatsTrackerTestSuite) TestTerminalOutcomes() {
	st := s.tracker()

	st.RecordOrderEvent(event(types.OrderEventRejected, "c-1", "AAPL", types.OrderSideBuy, types.OrderStatusRejected, 0, 0))
	st.RecordOrderEvent(event(types.OrderEventCanceled, "c-2", "MSFT", types.OrderSideSell, types.OrderStatusCanceled, 0, 0))
	st.RecordOrderEvent(event(types.OrderEventExpired, "c-3", "MSFT", types.OrderSideSell, types.OrderStatusExpired, 0, 0))
	st.RecordOrderEvent(event(types.OrderEventDoneForDay, "c-4", "AAPL", types.OrderSideSell, types.OrderStatusDoneForDay, 0, 0))
	st.RecordOrderEvent(event(types.OrderEventPartialFill, "c-5", "MSFT", types.OrderSideSell, types.OrderStatusPartiallyFilled, 3, 300))
	st.RecordOrderEvent(event(types.OrderEventCanceled, "c-5", "MSFT", types.OrderSideSell, types.OrderStatusCanceled, 3, 300))
	st.RecordOrderEvent(event(types.OrderEventNew, "", "MSFT", types.OrderSideSell, types.OrderStatusRejected, 0, 0))
	st.SetSubmitted(5)

	stats := st.GetStats()
	s.Equal(types.OrderCounts{Submitted: 5, Rejected: 1, Canceled: 2, Expired: 1, DoneForDay: 1}, stats.Orders)
	s.Equal(1, stats.Fills)
	s.InDelta(3, stats.PerSymbol["MSFT"].SoldQty, 1e-9)
	s.InDelta(900, stats.PerSymbol["MSFT"].TradedNotional, 1e-9)
}

func (s *StatsTrackerTestSuite) TestInitializeResetsCounters() {
	st := s.tracker()
	st.RecordOrderEvent(event(types.OrderEventFill, "c-1", "AAPL", types.OrderSideBuy, types.OrderStatusFilled, 10, 100))

	st.Initialize([]string{"AAPL"}, "run_2", "2025-03-07", s.start.Add(24*time.Hour))

	stats := st.GetStats()
	s.Equal("run_2", stats.ID)
	s.Zero(stats.Fills)
	s.Zero(stats.Orders.Filled)
	s.Empty(stats.PerSymbol)
}

func (s *StatsTrackerTestSuite) TestWriteStatsYAML() {
	st := s.tracker()

	// no output path configured
	s.NoError(st.WriteStatsYAML())

	statsPath := filepath.Join(s.tempDir, "stats.yaml")
	st.SetOutputPath(statsPath)
	st.SetFiles(map[string]string{"orders": filepath.Join(s.tempDir, "orders.parquet")})
	st.RecordOrderEvent(event(types.OrderEventFill, "c-1", "AAPL", types.OrderSideBuy, types.OrderStatusFilled, 10, 100))
	st.Finish(s.start.Add(6*time.Hour + 30*time.Minute))

	s.Require().NoError(st.WriteStatsYAML())
	s.Equal(statsPath, st.GetStatsOutputPath())

	written, err := types.ReadSessionStats(statsPath)
	s.Require().NoError(err)
	s.Equal("run_1", written.ID)
	s.Equal(1, written.Orders.Filled)
	s.InDelta(1000, written.TradedNotional, 1e-9)
	s.True(written.SessionEnd.Equal(s.start.Add(6*time.Hour + 30*time.Minute)))
	s.Equal(filepath.Join(s.tempDir, "orders.parquet"), written.Files["orders"])
}

func (s *StatsTrackerTestSuite) TestWriteStatsYAML_InvalidPath() {
	st := s.tracker()
	st.SetOutputPath(filepath.Join(s.tempDir, "missing", "stats.yaml"))

	s.Error(st.WriteStatsYAML())
}
