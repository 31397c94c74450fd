// Package dates holds billing-date helpers. All subscription billing runs on
// Korea Standard Time regardless of where the workers are deployed.
package dates

import "time"

// KST is a fixed UTC+9 zone so date math does not depend on host tzdata.
var KST = time.FixedZone("KST", 9*60*60)

// TodayKST returns midnight of the current calendar day in KST, at the
// provided instant.
func TodayKST(now time.Time) time.Time {
	local := now.In(KST)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, KST)
}

// AddOneMonth advances a billing anchor by one calendar month. Per time.Date
// normalization, Jan 31 rolls to Mar 2/3 rather than clamping; billing dates
// are stored as the normalized result.
func AddOneMonth(t time.Time) time.Time {
	return t.AddDate(0, 1, 0)
}

// FormatYMD renders a date as YYYY-MM-DD for order identifiers.
func FormatYMD(t time.Time) string {
	return t.Format("2006-01-02")
}

// SameDay reports whether two instants fall on the same KST calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(KST).Date()
	by, bm, bd := b.In(KST).Date()
	return ay == by && am == bm && ad == bd
}
