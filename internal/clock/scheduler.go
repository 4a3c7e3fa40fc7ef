package clock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// Scheduler runs named one-shot callbacks. Scheduling a name that is already
// pending replaces the earlier timer.
type Scheduler struct {
	clock Clock
	log   *logger.Logger

	mu      sync.Mutex
	timers  map[string]*scheduled
	gen     uint64
	stopped bool
}

type scheduled struct {
	timer Timer
	when  time.Time
	gen   uint64
}

// NewScheduler creates a scheduler on clock.
func NewScheduler(clock Clock, log *logger.Logger) *Scheduler {
	return &Scheduler{
		clock:   clock,
		log:     log.Named("scheduler"),
		mu:      sync.Mutex{},
		timers:  make(map[string]*scheduled),
		gen:     0,
		stopped: false,
	}
}

// Clock returns the clock the scheduler runs on.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Schedule runs fn at whenUTC. whenUTC must carry the UTC location; times in
// the past fire immediately.
func (s *Scheduler) Schedule(ctx context.Context, name string, whenUTC time.Time, fn func(ctx context.Context)) error {
	if whenUTC.IsZero() || whenUTC.Location() != time.UTC {
		return errors.Newf(errors.ErrCodeInvalidTimezone, "schedule %s: time %s is not UTC", name, whenUTC)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.Newf(errors.ErrCodeScheduleFailed, "schedule %s: scheduler stopped", name)
	}

	if prior, ok := s.timers[name]; ok {
		prior.timer.Stop()
	}

	s.gen++
	gen := s.gen

	delay := whenUTC.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	entry := &scheduled{timer: nil, when: whenUTC, gen: gen}
	entry.timer = s.clock.AfterFunc(delay, func() {
		if !s.claim(name, gen) {
			return
		}

		if ctx.Err() != nil {
			return
		}

		s.log.Debug("timer fired", zap.String("name", name), zap.Time("when", whenUTC))
		fn(ctx)
	})
	s.timers[name] = entry

	return nil
}

// claim removes the timer entry if it still belongs to generation gen.
func (s *Scheduler) claim(name string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.timers[name]
	if !ok || entry.gen != gen {
		return false
	}

	delete(s.timers, name)

	return true
}

// Cancel stops a pending timer. It reports whether one was pending.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.timers[name]
	if !ok {
		return false
	}

	entry.timer.Stop()
	delete(s.timers, name)

	return true
}

// When returns the fire time of a pending timer.
func (s *Scheduler) When(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.timers[name]
	if !ok {
		return time.Time{}, false
	}

	return entry.when, true
}

// Pending returns the names of pending timers, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Stop cancels every pending timer and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	for name, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, name)
	}
}
