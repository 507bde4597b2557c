package bot

import "time"

// sweepHour and sweepMinute place the daily sweep at 00:05 UTC, a few
// minutes past midnight so the previous day is fully closed out.
const (
	sweepHour   = 0
	sweepMinute = 5
)

// untilNextSweep returns how long to wait from now until the next daily
// sweep time. If today's sweep time has already passed, the wait targets
// tomorrow's.
func untilNextSweep(now time.Time) time.Duration {
	nowUTC := now.UTC()
	next := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), sweepHour, sweepMinute, 0, 0, time.UTC)
	if !next.After(nowUTC) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(nowUTC)
}
