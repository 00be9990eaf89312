package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fakeyudi/pulse/internal/pulse"
	"github.com/fakeyudi/pulse/internal/report"
)

func sample() *report.Summary {
	return &report.Summary{
		Data: pulse.Merge(
			[]pulse.Pulse{
				{Entity: "/src/api/main.go", State: pulse.StateCoding, Time: 1_000_000, Language: "Go", Project: "api", Branch: "main"},
				{Entity: "/src/api/main.go", State: pulse.StateDebugging, Time: 1_030_000, Language: "Go", Project: "api"},
				{Entity: "/src/web/app.ts", State: pulse.StateCoding, Time: 1_060_000, Language: "TypeScript", Project: "web"},
			},
			[]pulse.AggregatedPulse{
				{Entity: "/src/api/main.go", State: pulse.StateCoding, StartTime: 900_000, EndTime: 960_000, Language: "Go", Project: "api"},
			},
		),
		Start:    "2026-03-10T00:00:00Z",
		End:      "2026-03-10T15:00:00Z",
		Timezone: "UTC",
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(t *testing.T, s *report.Summary) Model {
	t.Helper()
	m, _ := New(s, "today").Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m.(Model)
}

func send(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestViewBeforeSize(t *testing.T) {
	if got := New(sample(), "today").View(); got != "Loading…" {
		t.Errorf("View before WindowSizeMsg = %q", got)
	}
}

func TestOverviewShowsTotals(t *testing.T) {
	m := sized(t, sample())
	view := m.View()
	for _, want := range []string{"Overview", "Pulses", "Languages", "Projects", "Active:", "Top language:"} {
		if !strings.Contains(view, want) {
			t.Errorf("overview missing %q", want)
		}
	}
}

func TestTabNavigation(t *testing.T) {
	m := sized(t, sample())
	m = send(m, key("tab"))
	if m.activeTab != tabPulses {
		t.Fatalf("after tab: activeTab = %d, want %d", m.activeTab, tabPulses)
	}
	m = send(m, key("4"))
	if m.activeTab != tabProjects {
		t.Fatalf("after 4: activeTab = %d, want %d", m.activeTab, tabProjects)
	}
	m = send(m, key("tab"))
	if m.activeTab != tabOverview {
		t.Fatalf("tab should wrap, got %d", m.activeTab)
	}
}

func TestLanguagesTab(t *testing.T) {
	m := send(sized(t, sample()), key("3"))
	view := m.View()
	// Every gap is credited to the earlier point, so TypeScript has no time yet.
	if !strings.Contains(view, "Go") || !strings.Contains(view, "100%") {
		t.Errorf("languages tab missing rows:\n%s", view)
	}
}

func TestPulsesExpandAndSort(t *testing.T) {
	m := send(sized(t, sample()), key("2"))

	// Newest first: the TypeScript pulse leads.
	if got := m.sorted()[0].Entity(); got != "/src/web/app.ts" {
		t.Fatalf("first row = %q, want newest", got)
	}

	m = send(m, key("down"), key("enter"))
	if !m.expanded[1] {
		t.Fatalf("row 1 should be expanded, got %v", m.expanded)
	}
	if !strings.Contains(m.renderPulses(), "debugging") {
		t.Errorf("expanded debugging pulse should show its state")
	}

	m = send(m, key("s"))
	if !m.sortAsc || m.cursor != 0 || len(m.expanded) != 0 {
		t.Errorf("sort should reset cursor and expansion: asc=%v cursor=%d expanded=%v", m.sortAsc, m.cursor, m.expanded)
	}
	if got := m.sorted()[0].Key(); got != 900_000 {
		t.Errorf("oldest first should lead with the aggregate, got key %d", got)
	}
}

func TestEmptySummary(t *testing.T) {
	m := send(sized(t, &report.Summary{Timezone: "UTC"}), key("2"))
	if !strings.Contains(m.View(), "no activity recorded today") {
		t.Errorf("empty pulses tab should say so")
	}
	m = send(m, key("3"))
	if !strings.Contains(m.View(), "no active time") {
		t.Errorf("empty languages tab should say so")
	}
}

func TestQuit(t *testing.T) {
	_, cmd := sized(t, sample()).Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("q should quit")
	}
}

func TestShortEntity(t *testing.T) {
	if got := shortEntity("/home/dev/src/api/internal/main.go"); got != "…/api/internal/main.go" {
		t.Errorf("shortEntity = %q", got)
	}
	if got := shortEntity("/src/a.go"); got != "/src/a.go" {
		t.Errorf("short paths unchanged, got %q", got)
	}
}
