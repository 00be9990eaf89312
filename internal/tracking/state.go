// Package tracking holds the activity state machine. State is an immutable
// value and every transition is a pure function returning a new State;
// Tracker owns the current State and swaps it only after the transition's
// effects have been persisted.
package tracking

import (
	"time"

	"github.com/fakeyudi/pulse/internal/aggregate"
	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/pulse"
)

// State is one snapshot of the tracking context. Treat it as read-only:
// transitions copy slices rather than appending in place.
type State struct {
	Pending           []pulse.Pulse
	PendingAggregated []pulse.AggregatedPulse

	TodayTotal int64  // active ms accrued today
	Day        string // calendar day TodayTotal belongs to

	LastContent string // content of the last pulse, the diff baseline
	LastEntity  string // entity LastContent belongs to

	LastActivity    int64
	LastAggregation int64
	IsActive        bool
	ActiveStart     int64
	LastPulse       *pulse.Pulse
}

// Baseline returns the previous content to diff against for entity. A
// different entity has no baseline.
func (s State) Baseline(entity string) string {
	if entity != s.LastEntity {
		return ""
	}
	return s.LastContent
}

// Rollover resets TodayTotal when now falls on a different day than s.Day.
func Rollover(s State, now int64) State {
	day := idle.DayOf(now)
	if s.Day == day {
		return s
	}
	s.Day = day
	s.TodayTotal = 0
	return s
}

// Expire marks s inactive once the idle threshold has passed since the last
// activity, resetting the active run start.
func Expire(s State, now int64) State {
	if s.IsActive && !idle.IsActive(s.LastActivity, now, idle.IdleThreshold) {
		s.IsActive = false
		s.ActiveStart = 0
	}
	return s
}

// Fold records p observed at now. Gaps within the idle threshold accrue to
// TodayTotal; across midnight only the part of the gap since midnight
// counts.
func Fold(s State, p pulse.Pulse, now int64) State {
	s = Rollover(s, now)
	s = Expire(s, now)
	if idle.Accrue(0, s.LastActivity, now) > 0 {
		s.TodayTotal += idle.Elapsed(since(s.LastActivity, now), now)
	}

	if !s.IsActive {
		s.IsActive = true
		s.ActiveStart = now
	}
	if s.LastAggregation == 0 {
		s.LastAggregation = now
	}

	pending := make([]pulse.Pulse, len(s.Pending), len(s.Pending)+1)
	copy(pending, s.Pending)
	s.Pending = append(pending, p)

	lp := p
	s.LastPulse = &lp
	s.LastContent = p.Content
	s.LastEntity = p.Entity
	s.LastActivity = now
	return s
}

// MaybeAggregate folds the pending buffer into aggregated pulses when an
// aggregation is due, one record per contiguous same-entity run. The new
// records are appended to PendingAggregated and also returned.
func MaybeAggregate(s State, now int64) (State, []pulse.AggregatedPulse) {
	if !aggregate.Due(s.LastAggregation, s.LastActivity, now) {
		return s, nil
	}
	var out []pulse.AggregatedPulse
	for _, run := range aggregate.Runs(s.Pending) {
		if agg, _, ok := aggregate.Aggregate(run); ok {
			out = append(out, agg)
		}
	}
	if len(out) == 0 {
		return s, nil
	}
	aggs := make([]pulse.AggregatedPulse, len(s.PendingAggregated), len(s.PendingAggregated)+len(out))
	copy(aggs, s.PendingAggregated)
	s.PendingAggregated = append(aggs, out...)
	s.Pending = []pulse.Pulse{}
	s.LastAggregation = now
	return s, out
}

// DropAggregated removes the aggregated pulse starting at start from the
// in-memory pending list, once it has been persisted.
func DropAggregated(s State, start int64) State {
	kept := make([]pulse.AggregatedPulse, 0, len(s.PendingAggregated))
	for _, a := range s.PendingAggregated {
		if a.StartTime != start {
			kept = append(kept, a)
		}
	}
	s.PendingAggregated = kept
	return s
}

// AdoptTotal raises TodayTotal to durable when another process has recorded
// more time today.
func AdoptTotal(s State, durable int64) State {
	if durable > s.TodayTotal {
		s.TodayTotal = durable
	}
	return s
}

// Active reports whether s is active at now, re-derived from the last
// activity rather than trusting the flag alone.
func Active(s State, now int64) bool {
	return s.IsActive && idle.IsActive(s.LastActivity, now, idle.IdleThreshold)
}

// DisplayTotal is TodayTotal plus the running gap while active.
func DisplayTotal(s State, now int64) int64 {
	s = Rollover(s, now)
	if Active(s, now) {
		return s.TodayTotal + idle.Elapsed(since(s.LastActivity, now), now)
	}
	return s.TodayTotal
}

// since clamps last to the start of now's day so time before midnight never
// accrues to the new day.
func since(last, now int64) int64 {
	if last <= 0 {
		return last
	}
	if midnight := idle.Midnight(time.UnixMilli(now)).UnixMilli(); last < midnight {
		return midnight
	}
	return last
}
