package types

import "time"

// FormatDateRange renders the span between the oldest and newest article
// dates, collapsing the parts both ends share.
func FormatDateRange(oldest, newest time.Time) string {
	switch {
	case oldest.IsZero() && newest.IsZero():
		return ""
	case oldest.IsZero():
		return newest.Format("02 January 2006")
	case newest.IsZero() || sameDay(oldest, newest):
		return oldest.Format("02 January 2006")
	case oldest.Year() == newest.Year() && oldest.Month() == newest.Month():
		return oldest.Format("02") + "-" + newest.Format("02 January 2006")
	case oldest.Year() == newest.Year():
		return oldest.Format("02 January") + " - " + newest.Format("02 January 2006")
	default:
		return oldest.Format("02 January 2006") + " - " + newest.Format("02 January 2006")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
