package ingest

import "time"

// StartOfWeek returns Monday 00:00 UTC of the week containing t. All quota
// windows are computed in UTC.
func StartOfWeek(t time.Time) time.Time {
	t = t.UTC()
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -daysSinceMonday)
}

// StartOfMonth returns the first of the month, 00:00 UTC.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// RateLimits is the quota introspection exposed to callers.
type RateLimits struct {
	NextWeekBegin              string `json:"nextWeekBeginDateTime"`
	NextMonthBegin             string `json:"nextMonthBeginDateTime"`
	DoneClaimsThisWeek         int    `json:"doneClaimsThisWeek"`
	DoneRegistrationsThisMonth int    `json:"doneRegistrationsThisMonth"`
	MaxClaimsPerWeek           int64  `json:"maxClaimsPerWeek"`
	MaxRegistrationsPerMonth   int64  `json:"maxRegistrationsPerMonth"`
}
