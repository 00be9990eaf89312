package report_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/fakeyudi/pulse/internal/pulse"
	"github.com/fakeyudi/pulse/internal/report"
)

func sampleSummary() *report.Summary {
	return &report.Summary{
		Data: pulse.Merge(
			[]pulse.Pulse{
				{Entity: "/src/a.go", Type: pulse.EntityFile, State: pulse.StateCoding, Time: 1_000_000, Language: "Go", Project: "api"},
				{Entity: "/src/a.go", Type: pulse.EntityFile, State: pulse.StateCoding, Time: 1_060_000, Language: "Go", Project: "api"},
				{Entity: "/web/b.ts", Type: pulse.EntityFile, State: pulse.StateCoding, Time: 1_090_000, Language: "TypeScript", Project: "web"},
			},
			[]pulse.AggregatedPulse{
				{Entity: "/src/a.go", Type: pulse.EntityFile, State: pulse.StateCoding, StartTime: 1_000_000, EndTime: 1_060_000, Language: "Go", Project: "api"},
			},
		),
		Start:    "2026-03-10T00:00:00Z",
		End:      "2026-03-10T15:00:00Z",
		Timezone: "UTC",
	}
}

func TestComputeTotals(t *testing.T) {
	totals := report.ComputeTotals(sampleSummary())

	// 60s of Go then 30s credited to the Go pulse preceding the switch.
	if totals.Active != 90_000 {
		t.Errorf("Active = %d, want 90000", totals.Active)
	}
	if totals.Raw != 3 || totals.Aggregated != 1 || totals.Entities != 2 {
		t.Errorf("counts = raw %d agg %d entities %d", totals.Raw, totals.Aggregated, totals.Entities)
	}
	want := []report.Breakdown{{Name: "Go", Millis: 90_000}}
	if !reflect.DeepEqual(totals.Languages, want) {
		t.Errorf("Languages = %+v, want %+v", totals.Languages, want)
	}
}

func TestComputeTotalsSkipsIdleGaps(t *testing.T) {
	s := &report.Summary{Data: pulse.Merge([]pulse.Pulse{
		{Entity: "a", Time: 0, Language: "Go"},
		{Entity: "a", Time: 60_000, Language: "Go"},
		{Entity: "a", Time: 60_000 + 121_000, Language: "Go"},
		{Entity: "a", Time: 60_000 + 121_000 + 5_000, Language: ""},
	}, nil)}

	totals := report.ComputeTotals(s)
	if totals.Active != 65_000 {
		t.Errorf("Active = %d, want 65000", totals.Active)
	}
	if len(totals.Languages) != 1 || totals.Languages[0].Name != "Go" {
		t.Errorf("Languages = %+v", totals.Languages)
	}
}

func TestMarkdownRoundTrip(t *testing.T) {
	s := sampleSummary()
	out, err := (&report.MarkdownRenderer{}).Render(s)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	text := string(out)
	for _, want := range []string{"# Activity 2026-03-10", "## Languages", "- Go: 1m", "| /web/b.ts |"} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown missing %q", want)
		}
	}

	got, err := (&report.MarkdownParser{}).Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, s)
	}
}

func TestJSONExportRoundTrip(t *testing.T) {
	s := sampleSummary()
	out, err := report.RendererFor("today.json").Render(s)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(out), `"start_time": 1000000`) {
		t.Errorf("export should carry aggregated records as-is:\n%s", out)
	}
	got, err := report.ParserFor("today.json").Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Errorf("round trip mismatch")
	}
}

func TestMarkdownRendererEmpty(t *testing.T) {
	out, err := (&report.MarkdownRenderer{}).Render(&report.Summary{Data: []pulse.Entry{}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(out), "_No activity recorded._") {
		t.Error("expected empty-state text")
	}
}

func TestMarkdownParserErrors(t *testing.T) {
	cases := map[string]string{
		"no sentinel":  "# Notes\n\njust markdown\n",
		"no payload":   "<!-- pulse-summary-version: 1 -->\n# Activity\n",
		"bad base64":   "<!-- pulse-summary-version: 1 -->\n<!-- pulse-data: !!!notbase64!!! -->\n",
		"unterminated": "<!-- pulse-summary-version: 1 -->\n<!-- pulse-data: e30=",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&report.MarkdownParser{}).Parse([]byte(input))
			if err == nil || !strings.Contains(err.Error(), "not a pulse summary") {
				t.Errorf("err = %v, want 'not a pulse summary'", err)
			}
		})
	}
}
