package circulation

import (
	"time"
)

// MinuteOfDay is a civil wall-clock time expressed as minutes since midnight.
type MinuteOfDay int

// Minute builds a MinuteOfDay from hour and minute.
func Minute(hour int, minute int) MinuteOfDay {
	return MinuteOfDay(hour*60 + minute)
}

// BusinessWindow is the daily time range during which loan creation and
// reservation pickup are permitted. Returns, cancellations and sanction
// condoning are deliberately exempt: a user is never trapped mid-return.
type BusinessWindow struct {
	Opens          MinuteOfDay
	Closes         MinuteOfDay
	Location       *time.Location
	ClosedWeekdays map[time.Weekday]bool
}

// DefaultLocation returns the zone the operational defaults are expressed in.
// It falls back to UTC on hosts without a timezone database.
func DefaultLocation() *time.Location {
	loc, err := time.LoadLocation("America/Lima")
	if err != nil {
		return time.UTC
	}

	return loc
}

// DefaultBusinessWindow returns the operational default: 07:00 to 14:45 in the
// given zone, open every day of the week.
func DefaultBusinessWindow(loc *time.Location) BusinessWindow {
	return BusinessWindow{
		Opens:    Minute(7, 0),
		Closes:   Minute(14, 45),
		Location: loc,
	}
}

// IsOpen reports whether the window permits gated operations at the given
// instant. The instant is converted to the configured zone first.
func (w BusinessWindow) IsOpen(t time.Time) bool {
	local := t.In(w.location())

	if w.ClosedWeekdays[local.Weekday()] {
		return false
	}

	m := Minute(local.Hour(), local.Minute())

	return m >= w.Opens && m <= w.Closes
}

// CloseOn returns the closing instant of the window on the civil date of t.
// Loan due times are pinned to this instant on the due date.
func (w BusinessWindow) CloseOn(t time.Time) time.Time {
	local := t.In(w.location())
	h, m := int(w.Closes)/60, int(w.Closes)%60

	return time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, w.location())
}

func (w BusinessWindow) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}

	return w.Location
}
