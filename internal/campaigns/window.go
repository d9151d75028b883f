package campaigns

import "time"

// Window math. These functions are pure so the scheduler can call them on
// every pass without side effects.
//
// Date-range checks compare calendar dates in the campaign's zone, so a
// campaign running "June 1 to June 5" means those local dates regardless of
// what they are in UTC.

// IsWithinWindow reports whether now falls inside the campaign's daily
// window [start, end) and inside its [StartDate, EndDate] date range.
// A campaign with a bad time zone is never within its window.
func IsWithinWindow(c Campaign, now time.Time) bool {
	loc, err := c.Location()
	if err != nil {
		return false
	}
	local := now.In(loc)

	if !dateInRange(c, local) {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.DailyWindowStart && minutes < c.DailyWindowEnd
}

// NextWindowOpen returns the next instant at which the campaign's daily
// window opens strictly after now: today's open if it is still ahead and the
// date range permits, otherwise the first permitted following day. The zero
// time means no window will ever open again (EndDate has passed).
func NextWindowOpen(c Campaign, now time.Time) time.Time {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}
	}
	local := now.In(loc)

	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if sd := dayStart(c.StartDate, loc); day.Before(sd) {
		day = sd
	}

	// Today's open if still ahead, otherwise tomorrow's. Two iterations are
	// enough because consecutive days share the same open time-of-day.
	for i := 0; i < 2; i++ {
		if !dateWithinEnd(c, day, loc) {
			return time.Time{}
		}
		// Built from wall-clock components: adding a duration to midnight
		// drifts by an hour on DST transition days.
		open := time.Date(day.Year(), day.Month(), day.Day(),
			c.DailyWindowStart/60, c.DailyWindowStart%60, 0, 0, loc)
		if open.After(now) {
			return open.UTC()
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

func dateInRange(c Campaign, local time.Time) bool {
	loc := local.Location()
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if day.Before(dayStart(c.StartDate, loc)) {
		return false
	}
	if !c.EndDate.IsZero() && day.After(dayStart(c.EndDate, loc)) {
		return false
	}
	return true
}

// dateWithinEnd reports whether day has not passed the campaign's end date.
func dateWithinEnd(c Campaign, day time.Time, loc *time.Location) bool {
	if c.EndDate.IsZero() {
		return true
	}
	return !day.After(dayStart(c.EndDate, loc))
}

// dayStart reinterprets the Y/M/D of t as midnight in loc.
func dayStart(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
