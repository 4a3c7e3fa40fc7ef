package clock

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// Timer names registered for each session.
const (
	TimerPreMarketOpen = "pre_market_open"
	TimerMarketOpen    = "market_open"
	TimerMarketClose   = "market_close"
)

// Calendar is the slice of the broker the clock service needs.
type Calendar interface {
	Clock(ctx context.Context) (types.MarketClock, error)
	Calendar(ctx context.Context, start, end time.Time) ([]types.CalendarDay, error)
}

// Session is one trading day's boundaries, all in UTC.
type Session struct {
	Date          string
	PreMarketOpen time.Time
	Open          time.Time
	Close         time.Time
	// InProgress is true when the process started after the open.
	InProgress bool
}

// SessionHandlers are the callbacks bound to the session timers.
type SessionHandlers struct {
	PreMarket func(ctx context.Context, session Session)
	Open      func(ctx context.Context, session Session)
	Close     func(ctx context.Context, session Session)
}

// Service combines the wall clock, the broker calendar and the scheduler.
type Service struct {
	clock     Clock
	calendar  Calendar
	scheduler *Scheduler
	premarket time.Duration
	log       *logger.Logger
}

// NewService creates the clock service.
func NewService(clock Clock, calendar Calendar, premarket time.Duration, log *logger.Logger) *Service {
	return &Service{
		clock:     clock,
		calendar:  calendar,
		scheduler: NewScheduler(clock, log),
		premarket: premarket,
		log:       log.Named("clock"),
	}
}

// NowUTC returns the current time in UTC.
func (s *Service) NowUTC() time.Time {
	return s.clock.Now().UTC()
}

// Clock exposes the underlying clock.
func (s *Service) Clock() Clock {
	return s.clock
}

// Scheduler exposes the named scheduler.
func (s *Service) Scheduler() *Scheduler {
	return s.scheduler
}

// NextOpen returns the next market open according to the broker.
func (s *Service) NextOpen(ctx context.Context) (time.Time, error) {
	mc, err := s.calendar.Clock(ctx)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrCodeSessionFailed, "failed to read market clock", err)
	}

	return mc.NextOpen.UTC(), nil
}

// NextClose returns the next market close according to the broker.
func (s *Service) NextClose(ctx context.Context) (time.Time, error) {
	mc, err := s.calendar.Clock(ctx)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrCodeSessionFailed, "failed to read market clock", err)
	}

	return mc.NextClose.UTC(), nil
}

// CurrentSession resolves the session that is open now, or the next one.
func (s *Service) CurrentSession(ctx context.Context) (Session, error) {
	mc, err := s.calendar.Clock(ctx)
	if err != nil {
		return Session{}, errors.Wrap(errors.ErrCodeSessionFailed, "failed to read market clock", err)
	}

	now := s.NowUTC()
	//nolint:exhaustruct
	session := Session{}

	if mc.IsOpen {
		session.Close = mc.NextClose.UTC()
		session.InProgress = true

		day, err := s.dayContaining(ctx, session.Close)
		if err != nil {
			return Session{}, err
		}

		session.Date = day.Date
		session.Open = day.Open.UTC()
	} else {
		day, err := s.dayContaining(ctx, mc.NextOpen.UTC())
		if err != nil {
			return Session{}, err
		}

		session.Date = day.Date
		session.Open = mc.NextOpen.UTC()
		session.Close = day.Close.UTC()
	}

	session.PreMarketOpen = session.Open.Add(-s.premarket)
	if now.After(session.PreMarketOpen) {
		session.InProgress = true
	}

	return session, nil
}

func (s *Service) dayContaining(ctx context.Context, t time.Time) (types.CalendarDay, error) {
	days, err := s.calendar.Calendar(ctx, t.AddDate(0, 0, -1), t.AddDate(0, 0, 1))
	if err != nil {
		return types.CalendarDay{}, errors.Wrap(errors.ErrCodeSessionFailed, "failed to read calendar", err)
	}

	for _, day := range days {
		if !t.Before(day.Open.UTC()) && !t.After(day.Close.UTC()) {
			return day, nil
		}
	}

	return types.CalendarDay{}, errors.Newf(errors.ErrCodeSessionFailed, "no trading day contains %s", t.Format(time.RFC3339))
}

// RegisterSessionTimers schedules the three session timers. Timers whose time
// has already passed fire immediately.
func (s *Service) RegisterSessionTimers(ctx context.Context, handlers SessionHandlers) (Session, error) {
	session, err := s.CurrentSession(ctx)
	if err != nil {
		return Session{}, err
	}

	bind := func(fn func(context.Context, Session)) func(context.Context) {
		return func(ctx context.Context) {
			if fn != nil {
				fn(ctx, session)
			}
		}
	}

	if err := s.scheduler.Schedule(ctx, TimerPreMarketOpen, session.PreMarketOpen, bind(handlers.PreMarket)); err != nil {
		return Session{}, err
	}

	if err := s.scheduler.Schedule(ctx, TimerMarketOpen, session.Open, bind(handlers.Open)); err != nil {
		return Session{}, err
	}

	if err := s.scheduler.Schedule(ctx, TimerMarketClose, session.Close, bind(handlers.Close)); err != nil {
		return Session{}, err
	}

	s.log.Info("registered session timers",
		zap.String("date", session.Date),
		zap.Time("pre_market_open", session.PreMarketOpen),
		zap.Time("market_open", session.Open),
		zap.Time("market_close", session.Close),
		zap.Bool("in_progress", session.InProgress),
	)

	return session, nil
}

// Stop cancels every pending timer.
func (s *Service) Stop() {
	s.scheduler.Stop()
}
