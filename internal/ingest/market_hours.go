package ingest

import "time"

// IsMarketOpen reports whether the forex feed publishes data at t. The
// market closes Friday 21:00 UTC and reopens Sunday 21:00 UTC.
func IsMarketOpen(t time.Time) bool {
	t = t.UTC()
	switch t.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return t.Hour() >= 21
	case time.Friday:
		return t.Hour() < 21
	}
	return true
}

// LastMarketClose returns t itself when the market is open, otherwise the
// most recent Friday 21:00 UTC. Used to report how far behind the close a
// symbol's data is during the weekend.
func LastMarketClose(t time.Time) time.Time {
	t = t.UTC()
	if IsMarketOpen(t) {
		return t
	}
	for d := t; ; d = d.AddDate(0, 0, -1) {
		if d.Weekday() == time.Friday {
			return time.Date(d.Year(), d.Month(), d.Day(), 21, 0, 0, 0, time.UTC)
		}
	}
}
