package service

import (
	"time"

	"planner-bot/internal/model"
)

// DigestWindow is the span of wall-clock minutes one pass is responsible for.
// From and To are inclusive and truncated to the minute.
type DigestWindow struct {
	Day  string
	From time.Time
	To   time.Time
}

// NewDigestWindow covers the minutes after the previous pass up to now, so
// skipped or coarse ticks still see every minute once. When the previous pass
// was on an earlier local day, lookBack caps how far the window reaches back;
// catchUp widens the start further for digests whose exact minute was missed.
func NewDigestWindow(now, prev time.Time, lookBack, catchUp time.Duration, loc *time.Location) DigestWindow {
	if loc == nil {
		loc = time.Local
	}
	to := now.In(loc).Truncate(time.Minute)
	from := to
	sameDay := false
	if !prev.IsZero() {
		next := prev.In(loc).Truncate(time.Minute).Add(time.Minute)
		if next.Before(to) {
			from = next
		}
		sameDay = DayOf(prev, loc) == DayOf(to, loc)
	}
	if lookBack > 0 && !sameDay {
		if earliest := to.Add(-lookBack); from.Before(earliest) {
			from = earliest
		}
	}
	if catchUp > 0 {
		from = from.Add(-catchUp)
	}
	return DigestWindow{Day: to.Format(dayLayout), From: from, To: to}
}

// Contains reports whether hour:minute on the window's day falls inside it.
func (w DigestWindow) Contains(hour, minute int) bool {
	y, m, d := w.To.Date()
	target := time.Date(y, m, d, hour, minute, 0, 0, w.To.Location())
	return !target.Before(w.From) && !target.After(w.To)
}

// DigestDue decides whether user's digest fires in w. Content emptiness is
// checked separately by the caller once the content is loaded.
func DigestDue(user model.User, w DigestWindow) bool {
	if !user.DigestEnabled {
		return false
	}
	if user.DigestSentOn(w.Day) {
		return false
	}
	return w.Contains(user.DigestHour, user.DigestMinute)
}
