// Package report renders and parses summaries of today's activity.
package report

import (
	"sort"
	"time"

	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/pulse"
)

// Summary is today's activity: pulses and aggregated pulses bounded to
// [Start, End], tagged with the local timezone. It is also the export file
// format.
type Summary struct {
	Data     []pulse.Entry `json:"data"`
	Start    string        `json:"start"`
	End      string        `json:"end"`
	Timezone string        `json:"timezone"`
}

// Window returns the parsed Start and End. Unparseable bounds are zero.
func (s *Summary) Window() (time.Time, time.Time) {
	start, _ := time.Parse(time.RFC3339, s.Start)
	end, _ := time.Parse(time.RFC3339, s.End)
	return start, end
}

// Breakdown is active time for one language or project.
type Breakdown struct {
	Name   string
	Millis int64
}

// Totals is the active-time breakdown shown by the viewer.
type Totals struct {
	Active     int64
	Languages  []Breakdown
	Projects   []Breakdown
	Entities   int
	Aggregated int
	Raw        int
}

type point struct {
	at       int64
	language string
	project  string
}

// ComputeTotals credits every gap of at most the idle threshold between
// consecutive observation points to the earlier point's language and
// project. Raw pulses contribute their time; aggregated pulses their start
// and end. Points shared by a raw pulse and an aggregate are counted once.
func ComputeTotals(s *Summary) Totals {
	var t Totals
	points := make([]point, 0, len(s.Data)*2)
	entities := make(map[string]struct{})

	for _, e := range s.Data {
		entities[e.Entity()] = struct{}{}
		if e.IsAggregated() {
			t.Aggregated++
			points = append(points,
				point{e.Key(), e.Language(), e.Project()},
				point{e.End(), e.Language(), e.Project()},
			)
			continue
		}
		t.Raw++
		points = append(points, point{e.Key(), e.Language(), e.Project()})
	}
	t.Entities = len(entities)

	sort.SliceStable(points, func(i, j int) bool { return points[i].at < points[j].at })

	langs := make(map[string]int64)
	projects := make(map[string]int64)
	for i := 1; i < len(points); i++ {
		gap := idle.Elapsed(points[i-1].at, points[i].at)
		if gap == 0 || gap > idle.ThresholdMillis {
			continue
		}
		t.Active += gap
		langs[nameOr(points[i-1].language)] += gap
		projects[nameOr(points[i-1].project)] += gap
	}

	t.Languages = ranked(langs)
	t.Projects = ranked(projects)
	return t
}

func nameOr(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// ranked sorts by time descending, then name.
func ranked(m map[string]int64) []Breakdown {
	out := make([]Breakdown, 0, len(m))
	for name, ms := range m {
		out = append(out, Breakdown{Name: name, Millis: ms})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Millis != out[j].Millis {
			return out[i].Millis > out[j].Millis
		}
		return out[i].Name < out[j].Name
	})
	return out
}
