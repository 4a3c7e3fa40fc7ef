package indicator

import (
	"math"
	"time"

	"github.com/rxtech-lab/argo-live/internal/types"
)

// regularOpenMinute is 09:30 in exchange time.
const regularOpenMinute = 9*60 + 30

// SessionTime writes minute_of_day, minutes_since_open and day_of_week, all
// in the exchange time zone.
type SessionTime struct {
	loc *time.Location
}

// NewSessionTime creates the time-of-day feature for the given exchange location.
// A nil location falls back to America/New_York, then UTC if tzdata is missing.
func NewSessionTime(loc *time.Location) Indicator {
	if loc == nil {
		loc = ExchangeLocation()
	}

	return &SessionTime{loc: loc}
}

// ExchangeLocation returns America/New_York, or UTC when the zone database is unavailable.
func ExchangeLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}

	return loc
}

// Name returns the name of the indicator.
func (s *SessionTime) Name() string {
	return "session_time"
}

// Columns returns the time-of-day columns.
func (s *SessionTime) Columns() []types.Column {
	return []types.Column{types.ColumnMinuteOfDay, types.ColumnMinutesSinceOpen, types.ColumnDayOfWeek}
}

// Lookback returns 1.
func (s *SessionTime) Lookback() int {
	return 1
}

// Compute writes the time features of the newest bar.
func (s *SessionTime) Compute(w *Window, out map[types.Column]float64) {
	bar, ok := w.Latest()
	if !ok {
		for _, c := range s.Columns() {
			out[c] = math.NaN()
		}

		return
	}

	t := bar.Time.In(s.loc)
	minute := t.Hour()*60 + t.Minute()
	out[types.ColumnMinuteOfDay] = float64(minute)
	out[types.ColumnMinutesSinceOpen] = float64(minute - regularOpenMinute)
	out[types.ColumnDayOfWeek] = float64(t.Weekday())
}
