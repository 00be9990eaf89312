package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fakeyudi/pulse/internal/idle"
)

// Renderer serializes a Summary to bytes.
type Renderer interface {
	Render(s *Summary) ([]byte, error)
}

// JSONRenderer renders a Summary as indented JSON. This is the export format.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(s *Summary) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// MarkdownRenderer renders a Summary as human-readable Markdown with an
// embedded base64 JSON payload so MarkdownParser can recover it exactly.
type MarkdownRenderer struct{}

const (
	versionSentinel = "<!-- pulse-summary-version: 1 -->"
	dataPrefix      = "<!-- pulse-data: "
	dataSuffix      = " -->"
)

func (r *MarkdownRenderer) Render(s *Summary) ([]byte, error) {
	jsonBytes, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, encoded, dataSuffix)

	start, end := s.Window()
	fmt.Fprintf(&sb, "# Activity %s\n\n", start.Format("2006-01-02"))

	totals := ComputeTotals(s)
	sb.WriteString("## Overview\n\n")
	fmt.Fprintf(&sb, "- Window: %s to %s (%s)\n", start.Format(time.Kitchen), end.Format(time.Kitchen), s.Timezone)
	fmt.Fprintf(&sb, "- Active: %s\n", idle.Format(totals.Active))
	fmt.Fprintf(&sb, "- Entities: %d\n", totals.Entities)
	fmt.Fprintf(&sb, "- Pulses: %d raw, %d aggregated\n\n", totals.Raw, totals.Aggregated)

	writeBreakdown(&sb, "Languages", totals.Languages)
	writeBreakdown(&sb, "Projects", totals.Projects)

	sb.WriteString("## Pulses\n\n")
	if len(s.Data) == 0 {
		sb.WriteString("_No activity recorded._\n")
		return []byte(sb.String()), nil
	}
	sb.WriteString("| Time | Entity | Language | Kind |\n")
	sb.WriteString("|------|--------|----------|------|\n")
	for _, e := range s.Data {
		kind := "pulse"
		if e.IsAggregated() {
			kind = "aggregated"
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
			time.UnixMilli(e.Key()).Format("15:04:05"),
			e.Entity(),
			nameOr(e.Language()),
			kind,
		)
	}
	return []byte(sb.String()), nil
}

func writeBreakdown(sb *strings.Builder, title string, rows []Breakdown) {
	fmt.Fprintf(sb, "## %s\n\n", title)
	if len(rows) == 0 {
		sb.WriteString("_None._\n\n")
		return
	}
	for _, b := range rows {
		fmt.Fprintf(sb, "- %s: %s\n", b.Name, idle.Format(b.Millis))
	}
	sb.WriteString("\n")
}
