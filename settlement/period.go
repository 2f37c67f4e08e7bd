package settlement

import "time"

// =============================================================================
// PERIOD - Settlement period bounds
// =============================================================================

// Period is the inclusive time window a settlement covers.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t falls inside [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

// WeekOf returns the Monday-to-Sunday week containing t, in UTC.
// End is the last instant of the Sunday.
func WeekOf(t time.Time) Period {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	// time.Weekday: Sunday == 0; shift so Monday == 0.
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	end := start.AddDate(0, 0, 7).Add(-time.Nanosecond)
	return Period{Start: start, End: end}
}

// LastClosedWeek returns the most recent fully elapsed Monday-to-Sunday
// week before now. This is the default settlement period.
func LastClosedWeek(now time.Time) Period {
	this := WeekOf(now)
	start := this.Start.AddDate(0, 0, -7)
	end := this.Start.Add(-time.Nanosecond)
	return Period{Start: start, End: end}
}
