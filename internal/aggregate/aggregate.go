// Package aggregate folds runs of pulses into aggregated records so the
// pending buffer never holds more than one interval of activity.
package aggregate

import (
	"time"

	"github.com/fakeyudi/pulse/internal/pulse"
)

// Interval is the minimum time between two aggregations.
const Interval = 30 * time.Second

// Aggregate folds run into one record. The bounds come from the earliest and
// latest pulse, counters are summed, and descriptive fields are taken from the
// most recent pulse. The returned run is always empty; ok is false when run
// was empty and nothing was produced.
func Aggregate(run []pulse.Pulse) (agg pulse.AggregatedPulse, rest []pulse.Pulse, ok bool) {
	if len(run) == 0 {
		return pulse.AggregatedPulse{}, nil, false
	}

	start, end := run[0].Time, run[0].Time
	latest := run[0]
	var additions, deletions int
	for _, p := range run {
		if p.Time < start {
			start = p.Time
		}
		if p.Time >= end {
			end = p.Time
			latest = p
		}
		additions += p.LineAdditions
		deletions += p.LineDeletions
	}

	agg = pulse.AggregatedPulse{
		Entity:        latest.Entity,
		Type:          latest.Type,
		State:         latest.State,
		StartTime:     start,
		EndTime:       end,
		Project:       latest.Project,
		Branch:        latest.Branch,
		Language:      latest.Language,
		Dependencies:  latest.Dependencies,
		Machine:       latest.Machine,
		LineAdditions: additions,
		LineDeletions: deletions,
		Lines:         latest.Lines,
		IsDirty:       latest.IsDirty,
	}
	return agg, []pulse.Pulse{}, true
}

// Runs splits pending into contiguous runs of pulses for the same entity,
// in order. Each run is folded into its own record.
func Runs(pending []pulse.Pulse) [][]pulse.Pulse {
	var runs [][]pulse.Pulse
	for i, p := range pending {
		if i == 0 || p.Entity != pending[i-1].Entity {
			runs = append(runs, nil)
		}
		last := len(runs) - 1
		runs[last] = append(runs[last], p)
	}
	return runs
}

// Due reports whether an aggregation should run at now: the interval since
// the last aggregation has passed and activity arrived after that checkpoint.
func Due(lastAggregation, lastActivity, now int64) bool {
	if lastAggregation == lastActivity {
		return false
	}
	return now-lastAggregation > int64(Interval/time.Millisecond)
}
