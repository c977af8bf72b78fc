package datetime

import "time"

// DayBounds returns the UTC instants at which the local calendar day
// containing t begins and ends in loc. End is the start of the next local
// day, exclusive.
//
// The length of the window follows the wall clock: a DST spring-forward day
// spans 23 hours, a fall-back day 25.
func DayBounds(t time.Time, loc *time.Location) (start, end time.Time) {
	local := t.In(loc)
	y, m, d := local.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	end = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}

// DayBoundsForDate is DayBounds for a calendar date given as year, month, day
// in loc.
func DayBoundsForDate(year int, month time.Month, day int, loc *time.Location) (start, end time.Time) {
	return DayBounds(time.Date(year, month, day, 12, 0, 0, 0, loc), loc)
}

// SameLocalDay reports whether a and b fall on the same calendar day in loc.
func SameLocalDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
