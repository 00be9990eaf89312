package pulse_test

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/fakeyudi/pulse/internal/pulse"
)

func TestDiffExamples(t *testing.T) {
	cases := []struct {
		name     string
		old, new string
		want     pulse.LineChanges
	}{
		{"identical", "a\nb", "a\nb", pulse.LineChanges{}},
		{"no baseline", "", "a\nb", pulse.LineChanges{}},
		{"line added", "a", "a\nb", pulse.LineChanges{Additions: 1}},
		{"line removed", "a\nb", "a", pulse.LineChanges{Deletions: 1}},
		{"in-place edit", "a\nb", "a\nc", pulse.LineChanges{Additions: 1, Deletions: 1}},
		{"several in-place edits", "a\nb\nc", "x\ny\nz", pulse.LineChanges{Additions: 1, Deletions: 1}},
		{"reorder", "a\nb", "b\na", pulse.LineChanges{}},
		{"crlf", "a\r\nb", "a\nb\nc", pulse.LineChanges{Additions: 1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := pulse.Diff(c.old, c.new); got != c.want {
				t.Errorf("Diff(%q, %q) = %+v, want %+v", c.old, c.new, got, c.want)
			}
		})
	}
}

// Feature: pulse, Property 3: a line-count change is attributed to one side only
func TestDiffCountChangeIsOneSided(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		oldLines := rapid.SliceOfN(rapid.StringMatching(`[a-z]{0,4}`), 1, 20).Draw(t, "old")
		newLines := rapid.SliceOfN(rapid.StringMatching(`[a-z]{0,4}`), 1, 20).Draw(t, "new")
		old := strings.Join(oldLines, "\n")
		new := strings.Join(newLines, "\n")
		if old == "" {
			return
		}

		got := pulse.Diff(old, new)
		delta := len(newLines) - len(oldLines)
		switch {
		case old == new:
			if got != (pulse.LineChanges{}) {
				t.Fatalf("identical content gave %+v", got)
			}
		case delta > 0:
			if got != (pulse.LineChanges{Additions: delta}) {
				t.Fatalf("delta %d gave %+v", delta, got)
			}
		case delta < 0:
			if got != (pulse.LineChanges{Deletions: -delta}) {
				t.Fatalf("delta %d gave %+v", delta, got)
			}
		default:
			if got.Additions == got.Deletions && got.Additions > 1 {
				t.Fatalf("equal nonzero counts must collapse to {1,1}, got %+v", got)
			}
		}
	})
}

func TestCountLines(t *testing.T) {
	if got := pulse.CountLines(""); got != 0 {
		t.Errorf("CountLines(\"\") = %d, want 0", got)
	}
	if got := pulse.CountLines("a\nb\nc"); got != 3 {
		t.Errorf("CountLines = %d, want 3", got)
	}
}
