package idle_test

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/pulse/internal/idle"
)

func TestElapsedClampsAtZero(t *testing.T) {
	if got := idle.Elapsed(100, 50); got != 0 {
		t.Errorf("Elapsed(100, 50) = %d, want 0", got)
	}
	if got := idle.Elapsed(50, 100); got != 50 {
		t.Errorf("Elapsed(50, 100) = %d, want 50", got)
	}
}

func TestIsActiveBoundary(t *testing.T) {
	last := int64(1_000_000)
	if !idle.IsActive(last, last+idle.ThresholdMillis, idle.IdleThreshold) {
		t.Error("expected activity exactly at the threshold to count as active")
	}
	if idle.IsActive(last, last+idle.ThresholdMillis+1, idle.IdleThreshold) {
		t.Error("expected activity past the threshold to count as idle")
	}
}

// Feature: pulse, Property 1: idle accrual sums only gaps within the threshold
func TestAccrueSumsGapsWithinThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "n")
		now := rapid.Int64Range(1_600_000_000_000, 1_700_000_000_000).Draw(t, "start")

		var total, last, want int64
		for i := 0; i < n; i++ {
			if i > 0 {
				gap := rapid.Int64Range(0, 2*idle.ThresholdMillis).Draw(t, "gap")
				now += gap
				if gap <= idle.ThresholdMillis {
					want += gap
				}
			}
			total = idle.Accrue(total, last, now)
			last = now
		}

		if total != want {
			t.Fatalf("Accrue total = %d, want %d", total, want)
		}
	})
}

func TestAccrueIgnoresFirstObservation(t *testing.T) {
	if got := idle.Accrue(42, 0, 1_700_000_000_000); got != 42 {
		t.Errorf("Accrue with no previous activity = %d, want 42", got)
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{0, "0m"},
		{59_000, "0m"},
		{5 * 60_000, "5m"},
		{65 * 60_000, "1h 5m"},
		{-10, "0m"},
	}
	for _, c := range cases {
		if got := idle.Format(c.ms); got != c.want {
			t.Errorf("Format(%d) = %q, want %q", c.ms, got, c.want)
		}
	}
}

func TestMidnightAndDay(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.Local)
	m := idle.Midnight(ts)
	if m.Hour() != 0 || m.Minute() != 0 || m.Day() != 14 {
		t.Errorf("Midnight(%v) = %v", ts, m)
	}
	if got := idle.Day(ts); got != "2026-03-14" {
		t.Errorf("Day = %q, want 2026-03-14", got)
	}
	if idle.DayOf(ts.UnixMilli()) != idle.Day(ts) {
		t.Error("DayOf and Day disagree")
	}
}
