package clock

import (
	"context"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ClockTestSuite struct {
	suite.Suite
	start  time.Time
	manual *Manual
	sched  *Scheduler
}

func TestClockSuite(t *testing.T) {
	suite.Run(t, new(ClockTestSuite))
}

func (suite *ClockTestSuite) SetupTest() {
	suite.start = time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC)
	suite.manual = NewManual(suite.start)
	suite.sched = NewScheduler(suite.manual, logger.NewNop())
}

func (suite *ClockTestSuite) TestManualFiresInDeadlineOrder() {
	var fired []string
	suite.manual.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	suite.manual.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	stopped := suite.manual.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })

	suite.True(stopped.Stop())
	suite.False(stopped.Stop())

	suite.manual.Advance(1500 * time.Millisecond)
	suite.Equal([]string{"a"}, fired)

	suite.manual.Advance(10 * time.Second)
	suite.Equal([]string{"a", "b"}, fired)
	suite.Equal(0, suite.manual.PendingTimers())
}

func (suite *ClockTestSuite) TestScheduleRejectsNonUTC() {
	ny, err := time.LoadLocation("America/New_York")
	suite.Require().NoError(err)

	err = suite.sched.Schedule(context.Background(), "open", suite.start.In(ny), func(context.Context) {})
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTimezone))

	err = suite.sched.Schedule(context.Background(), "open", time.Time{}, func(context.Context) {})
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTimezone))
}

func (suite *ClockTestSuite) TestRescheduleCancelsPrior() {
	var fired []string
	ctx := context.Background()

	suite.Require().NoError(suite.sched.Schedule(ctx, "hold:AAA", suite.start.Add(time.Second), func(context.Context) {
		fired = append(fired, "first")
	}))
	suite.Require().NoError(suite.sched.Schedule(ctx, "hold:AAA", suite.start.Add(2*time.Second), func(context.Context) {
		fired = append(fired, "second")
	}))

	when, ok := suite.sched.When("hold:AAA")
	suite.True(ok)
	suite.Equal(suite.start.Add(2*time.Second), when)

	suite.manual.Advance(5 * time.Second)
	suite.Equal([]string{"second"}, fired)
	suite.Empty(suite.sched.Pending())
}

func (suite *ClockTestSuite) TestPastTimeFiresOnNextTick() {
	fired := false
	suite.Require().NoError(suite.sched.Schedule(context.Background(), "late", suite.start.Add(-time.Hour), func(context.Context) {
		fired = true
	}))

	suite.manual.Advance(0)
	suite.True(fired)
}

func (suite *ClockTestSuite) TestCancelAndStop() {
	ctx := context.Background()
	fired := 0

	suite.Require().NoError(suite.sched.Schedule(ctx, "a", suite.start.Add(time.Second), func(context.Context) { fired++ }))
	suite.Require().NoError(suite.sched.Schedule(ctx, "b", suite.start.Add(time.Second), func(context.Context) { fired++ }))
	suite.Equal([]string{"a", "b"}, suite.sched.Pending())

	suite.True(suite.sched.Cancel("a"))
	suite.False(suite.sched.Cancel("a"))

	suite.sched.Stop()
	suite.manual.Advance(time.Minute)
	suite.Equal(0, fired)

	err := suite.sched.Schedule(ctx, "c", suite.start.Add(time.Hour), func(context.Context) {})
	suite.True(errors.HasCode(err, errors.ErrCodeScheduleFailed))
}

func (suite *ClockTestSuite) TestCanceledContextSkipsCallback() {
	ctx, cancel := context.WithCancel(context.Background())
	fired := false

	suite.Require().NoError(suite.sched.Schedule(ctx, "a", suite.start.Add(time.Second), func(context.Context) { fired = true }))
	cancel()

	suite.manual.Advance(time.Minute)
	suite.False(fired)
}

type fakeCalendar struct {
	clock types.MarketClock
	days  []types.CalendarDay
}

func (f *fakeCalendar) Clock(_ context.Context) (types.MarketClock, error) {
	return f.clock, nil
}

func (f *fakeCalendar) Calendar(_ context.Context, _, _ time.Time) ([]types.CalendarDay, error) {
	return f.days, nil
}

func tradingDay() types.CalendarDay {
	return types.CalendarDay{
		Date:  "2024-01-02",
		Open:  time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
		Close: time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC),
	}
}

func (suite *ClockTestSuite) TestRegisterSessionTimersBeforeOpen() {
	day := tradingDay()
	cal := &fakeCalendar{
		clock: types.MarketClock{Timestamp: suite.start, IsOpen: false, NextOpen: day.Open, NextClose: day.Close},
		days:  []types.CalendarDay{day},
	}
	service := NewService(suite.manual, cal, 30*time.Minute, logger.NewNop())

	var events []string
	session, err := service.RegisterSessionTimers(context.Background(), SessionHandlers{
		PreMarket: func(context.Context, Session) { events = append(events, "premarket") },
		Open:      func(context.Context, Session) { events = append(events, "open") },
		Close:     func(context.Context, Session) { events = append(events, "close") },
	})
	suite.Require().NoError(err)

	suite.Equal("2024-01-02", session.Date)
	suite.Equal(time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC), session.PreMarketOpen)
	suite.False(session.InProgress)
	suite.Equal([]string{TimerMarketClose, TimerMarketOpen, TimerPreMarketOpen}, service.Scheduler().Pending())

	suite.manual.Set(time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC))
	suite.Equal([]string{"premarket"}, events)

	suite.manual.Set(time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC))
	suite.Equal([]string{"premarket", "open", "close"}, events)
}

func (suite *ClockTestSuite) TestRegisterSessionTimersDuringSession() {
	day := tradingDay()
	suite.manual.Set(time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC))

	cal := &fakeCalendar{
		clock: types.MarketClock{IsOpen: true, NextOpen: day.Open.AddDate(0, 0, 1), NextClose: day.Close},
		days:  []types.CalendarDay{day},
	}
	service := NewService(suite.manual, cal, 30*time.Minute, logger.NewNop())

	var events []string
	session, err := service.RegisterSessionTimers(context.Background(), SessionHandlers{
		PreMarket: func(context.Context, Session) { events = append(events, "premarket") },
		Open:      func(context.Context, Session) { events = append(events, "open") },
		Close:     nil,
	})
	suite.Require().NoError(err)
	suite.True(session.InProgress)
	suite.Equal(day.Open, session.Open)

	suite.manual.Advance(0)
	suite.Equal([]string{"premarket", "open"}, events)

	suite.manual.Advance(6 * time.Hour)
	suite.Empty(service.Scheduler().Pending())
}
