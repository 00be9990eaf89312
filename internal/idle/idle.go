// Package idle derives active/idle state and accrued active time from
// millisecond timestamps. Every function here is pure.
package idle

import (
	"fmt"
	"time"
)

// IdleThreshold is the longest gap between two observations that still counts
// as continuous activity.
const IdleThreshold = 2 * time.Minute

// ThresholdMillis is IdleThreshold in milliseconds.
const ThresholdMillis = int64(IdleThreshold / time.Millisecond)

// dayLayout is the calendar-day marker format persisted alongside the total.
const dayLayout = "2006-01-02"

// Elapsed returns end-start, clamped at zero.
func Elapsed(start, end int64) int64 {
	if end < start {
		return 0
	}
	return end - start
}

// IsActive reports whether now is within threshold of lastActivity.
func IsActive(lastActivity, now int64, threshold time.Duration) bool {
	return Elapsed(lastActivity, now) <= int64(threshold/time.Millisecond)
}

// Accrue adds the gap between lastActivity and now to total when the gap is
// within IdleThreshold. Longer gaps are idle time and leave total unchanged.
// A zero lastActivity means nothing was observed yet.
func Accrue(total, lastActivity, now int64) int64 {
	if lastActivity <= 0 {
		return total
	}
	gap := Elapsed(lastActivity, now)
	if gap > ThresholdMillis {
		return total
	}
	return total + gap
}

// Day returns the local calendar-day marker for t.
func Day(t time.Time) string {
	return t.Local().Format(dayLayout)
}

// DayOf returns the local calendar-day marker for a millisecond timestamp.
func DayOf(ms int64) string {
	return Day(time.UnixMilli(ms))
}

// Midnight returns the start of t's local calendar day.
func Midnight(t time.Time) time.Time {
	l := t.Local()
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, l.Location())
}

// Format renders a millisecond total as "1h 5m" or "5m".
func Format(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	h := int64(d / time.Hour)
	m := int64((d % time.Hour) / time.Minute)
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
