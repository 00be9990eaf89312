package tracking

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/pulse"
)

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local).UnixMilli()

func TestFoldAccruesOnlyActiveGaps(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		gaps := rapid.SliceOfN(rapid.Int64Range(0, 5*60_000), 1, 40).Draw(rt, "gaps")

		s := State{}
		now := noon
		var want int64
		for i, g := range gaps {
			now += g
			if i > 0 && g <= idle.ThresholdMillis {
				want += g
			}
			s = Fold(s, pulse.Pulse{Entity: "a.go", Time: now}, now)
		}
		if s.TodayTotal != want {
			rt.Fatalf("TodayTotal = %d, want %d", s.TodayTotal, want)
		}
	})
}

func TestFoldDoesNotMutatePreviousState(t *testing.T) {
	s1 := Fold(State{}, pulse.Pulse{Entity: "a", Time: noon}, noon)
	s2 := Fold(s1, pulse.Pulse{Entity: "a", Time: noon + 1000}, noon+1000)
	s3 := Fold(s1, pulse.Pulse{Entity: "b", Time: noon + 2000}, noon+2000)

	if len(s1.Pending) != 1 {
		t.Fatalf("s1 pending = %d, want 1", len(s1.Pending))
	}
	if s2.Pending[1].Entity != "a" || s3.Pending[1].Entity != "b" {
		t.Errorf("transitions share backing storage: s2=%q s3=%q", s2.Pending[1].Entity, s3.Pending[1].Entity)
	}
	if s1.LastPulse.Entity != "a" || s1.LastActivity != noon {
		t.Errorf("s1 changed after later transitions")
	}
}

func TestActiveStartRearmsAfterIdle(t *testing.T) {
	s := Fold(State{}, pulse.Pulse{Time: noon}, noon)
	if !s.IsActive || s.ActiveStart != noon {
		t.Fatalf("first pulse: active=%v start=%d", s.IsActive, s.ActiveStart)
	}

	s = Fold(s, pulse.Pulse{Time: noon + 60_000}, noon+60_000)
	if s.ActiveStart != noon {
		t.Errorf("active run restarted within threshold: start=%d", s.ActiveStart)
	}

	expired := Expire(s, noon+60_000+idle.ThresholdMillis+1)
	if expired.IsActive || expired.ActiveStart != 0 {
		t.Errorf("Expire: active=%v start=%d", expired.IsActive, expired.ActiveStart)
	}

	later := noon + 10*60_000
	s = Fold(s, pulse.Pulse{Time: later}, later)
	if s.ActiveStart != later {
		t.Errorf("active start not re-armed: got %d, want %d", s.ActiveStart, later)
	}
	if s.TodayTotal != 60_000 {
		t.Errorf("idle gap accrued: total=%d", s.TodayTotal)
	}
}

func TestFoldAcrossMidnight(t *testing.T) {
	midnight := time.Date(2026, 3, 11, 0, 0, 0, 0, time.Local).UnixMilli()
	before := midnight - 30_000
	after := midnight + 20_000

	s := Fold(State{}, pulse.Pulse{Time: before - 60_000}, before-60_000)
	s = Fold(s, pulse.Pulse{Time: before}, before)
	if s.TodayTotal != 60_000 {
		t.Fatalf("before midnight total = %d", s.TodayTotal)
	}

	s = Fold(s, pulse.Pulse{Time: after}, after)
	if s.Day != idle.DayOf(after) {
		t.Errorf("day marker = %q", s.Day)
	}
	if s.TodayTotal != 20_000 {
		t.Errorf("after midnight total = %d, want 20000", s.TodayTotal)
	}
}

func TestMaybeAggregate(t *testing.T) {
	s := State{}
	for i := int64(0); i < 4; i++ {
		now := noon + i*10_000
		s = Fold(s, pulse.Pulse{Entity: "a.go", Time: now, LineAdditions: 1}, now)
		var aggs []pulse.AggregatedPulse
		s, aggs = MaybeAggregate(s, now)
		if len(aggs) != 0 {
			t.Fatalf("aggregated early at +%ds", i*10)
		}
	}

	now := noon + 40_000
	s = Fold(s, pulse.Pulse{Entity: "a.go", Time: now, LineAdditions: 2}, now)
	s, aggs := MaybeAggregate(s, now)
	if len(aggs) != 1 {
		t.Fatalf("expected one aggregated record after interval, got %d", len(aggs))
	}
	agg := aggs[0]
	if agg.StartTime != noon || agg.EndTime != now || agg.LineAdditions != 6 {
		t.Errorf("agg = %+v", agg)
	}
	if len(s.Pending) != 0 || len(s.PendingAggregated) != 1 {
		t.Errorf("pending=%d aggregated=%d", len(s.Pending), len(s.PendingAggregated))
	}
	if s.LastAggregation != now {
		t.Errorf("LastAggregation = %d", s.LastAggregation)
	}

	// No activity since the checkpoint.
	if _, again := MaybeAggregate(s, now+60_000); len(again) != 0 {
		t.Error("aggregated without new activity")
	}

	s = DropAggregated(s, agg.StartTime)
	if len(s.PendingAggregated) != 0 {
		t.Error("DropAggregated kept the record")
	}
}

func TestMaybeAggregateSplitsEntityRuns(t *testing.T) {
	s := Fold(State{}, pulse.Pulse{Entity: "a.go", Language: "Go", Time: noon, LineAdditions: 5}, noon)
	s = Fold(s, pulse.Pulse{Entity: "b.py", Language: "Python", Time: noon + 10_000, LineAdditions: 7}, noon+10_000)
	s = Fold(s, pulse.Pulse{Entity: "a.go", Language: "Go", Time: noon + 35_000, LineAdditions: 1}, noon+35_000)

	s, aggs := MaybeAggregate(s, noon+35_000)
	if len(aggs) != 3 {
		t.Fatalf("records = %d, want one per contiguous run (3): %+v", len(aggs), aggs)
	}
	want := []struct {
		entity, lang string
		start, end   int64
		additions    int
	}{
		{"a.go", "Go", noon, noon, 5},
		{"b.py", "Python", noon + 10_000, noon + 10_000, 7},
		{"a.go", "Go", noon + 35_000, noon + 35_000, 1},
	}
	for i, w := range want {
		a := aggs[i]
		if a.Entity != w.entity || a.Language != w.lang || a.StartTime != w.start || a.EndTime != w.end || a.LineAdditions != w.additions {
			t.Errorf("record %d = %+v, want %+v", i, a, w)
		}
	}
	if len(s.Pending) != 0 || len(s.PendingAggregated) != 3 {
		t.Errorf("pending=%d aggregated=%d", len(s.Pending), len(s.PendingAggregated))
	}
}

func TestAdoptTotal(t *testing.T) {
	s := State{TodayTotal: 5000}
	if got := AdoptTotal(s, 3000).TodayTotal; got != 5000 {
		t.Errorf("smaller durable adopted: %d", got)
	}
	if got := AdoptTotal(s, 9000).TodayTotal; got != 9000 {
		t.Errorf("larger durable not adopted: %d", got)
	}
}

func TestBaselineKeyedByEntity(t *testing.T) {
	s := Fold(State{}, pulse.Pulse{Entity: "a.go", Content: "x\ny\n", Time: noon}, noon)
	if got := s.Baseline("a.go"); got != "x\ny\n" {
		t.Errorf("same entity baseline = %q", got)
	}
	if got := s.Baseline("b.go"); got != "" {
		t.Errorf("other entity baseline = %q", got)
	}
}
