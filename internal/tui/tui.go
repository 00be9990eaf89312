// Package tui provides a Bubble Tea viewer for activity summaries.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/pulse"
	"github.com/fakeyudi/pulse/internal/report"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	kindRawStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindAggregateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	debugStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	addStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabOverview tabID = iota
	tabPulses
	tabLanguages
	tabProjects
	tabCount
)

var tabNames = [tabCount]string{"Overview", "Pulses", "Languages", "Projects"}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the viewer.
type Model struct {
	summary   *report.Summary
	totals    report.Totals
	title     string
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	// Pulses tab: cursor position (into the sorted order) and expanded rows
	cursor   int
	expanded map[int]bool
}

// New creates a viewer for s. title is shown in the title bar.
func New(s *report.Summary, title string) Model {
	return Model{
		summary:  s,
		totals:   report.ComputeTotals(s),
		title:    title,
		expanded: make(map[int]bool),
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabPulses {
				m.sortAsc = !m.sortAsc
				m.cursor = 0
				m.expanded = make(map[int]bool)
				m.rebuild(tabPulses)
				m.viewports[tabPulses].GotoTop()
			}
		case "up", "k":
			if m.activeTab == tabPulses && m.cursor > 0 {
				m.cursor--
				m.rebuild(tabPulses)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabPulses && m.cursor < len(m.summary.Data)-1 {
				m.cursor++
				m.rebuild(tabPulses)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabPulses && len(m.summary.Data) > 0 {
				if m.expanded[m.cursor] {
					delete(m.expanded, m.cursor)
				} else {
					m.expanded[m.cursor] = true
				}
				m.rebuild(tabPulses)
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  pulse  " + m.title)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-4 jump  q quit"
	if m.activeTab == tabPulses {
		dir := "newest first"
		if m.sortAsc {
			dir = "oldest first"
		}
		hint += "  enter details  s sort (" + dir + ")"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) rebuild(t tabID) {
	m.viewports[t].SetContent(m.renderTab(t))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabOverview:
		return m.renderOverview()
	case tabPulses:
		return m.renderPulses()
	case tabLanguages:
		return renderBreakdown("Languages", m.totals.Languages, m.totals.Active, m.width)
	case tabProjects:
		return renderBreakdown("Projects", m.totals.Projects, m.totals.Active, m.width)
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func (m *Model) renderOverview() string {
	var sb strings.Builder
	sb.WriteString(heading("Today"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
	}
	start, end := m.summary.Window()
	if !start.IsZero() {
		row("Window:", start.Local().Format("15:04")+" – "+end.Local().Format("15:04"))
	}
	row("Timezone:", m.summary.Timezone)
	row("Active:", idle.Format(m.totals.Active))
	row("Entities:", fmt.Sprintf("%d", m.totals.Entities))

	sb.WriteString(heading("Records"))
	row("Pulses:", fmt.Sprintf("%d", m.totals.Raw))
	row("Aggregated:", fmt.Sprintf("%d", m.totals.Aggregated))

	if len(m.totals.Languages) > 0 {
		row("Top language:", m.totals.Languages[0].Name)
	}
	if len(m.totals.Projects) > 0 {
		row("Top project:", m.totals.Projects[0].Name)
	}
	return sb.String()
}

// sorted returns the entries in display order.
func (m *Model) sorted() []pulse.Entry {
	entries := make([]pulse.Entry, len(m.summary.Data))
	copy(entries, m.summary.Data)
	if m.sortAsc {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Key() < entries[j].Key() })
	} else {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Key() > entries[j].Key() })
	}
	return entries
}

func (m *Model) renderPulses() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Pulses (%d)", len(m.summary.Data))))
	if len(m.summary.Data) == 0 {
		sb.WriteString(dimStyle.Render("  (no activity recorded today)") + "\n")
		return sb.String()
	}
	for i, e := range m.sorted() {
		ts := timeStyle.Render(time.UnixMilli(e.Key()).Format("15:04:05"))
		badge := kindRawStyle.Render(fmt.Sprintf("%-5s", "RAW"))
		if e.IsAggregated() {
			badge = kindAggregateStyle.Render(fmt.Sprintf("%-5s", "AGG"))
		}
		toggle := dimStyle.Render("  ▶ ")
		if m.expanded[i] {
			toggle = dimStyle.Render("  ▼ ")
		}
		row := fmt.Sprintf("%s%s  %s  %s", toggle, ts, badge, shortEntity(e.Entity()))
		if i == m.cursor {
			row = selectedRowStyle.Width(max(m.width-2, 1)).Render(row)
		}
		sb.WriteString(row + "\n")
		if m.expanded[i] {
			sb.WriteString(renderDetails(e))
		}
	}
	return sb.String()
}

// renderDetails lists the fields of one entry.
func renderDetails(e pulse.Entry) string {
	var sb strings.Builder
	row := func(label, value string) {
		if value == "" {
			return
		}
		sb.WriteString("        " + labelStyle.Render(fmt.Sprintf("%-12s", label)) + " " + value + "\n")
	}
	var (
		state           pulse.State
		branch, machine string
		adds, dels      int
		lines           int
	)
	switch {
	case e.Aggregated != nil:
		a := e.Aggregated
		state, branch, machine = a.State, a.Branch, a.Machine
		adds, dels, lines = a.LineAdditions, a.LineDeletions, a.Lines
		row("Span:", time.UnixMilli(a.StartTime).Format("15:04:05")+" – "+time.UnixMilli(a.EndTime).Format("15:04:05"))
	case e.Pulse != nil:
		p := e.Pulse
		state, branch, machine = p.State, p.Branch, p.Machine
		adds, dels, lines = p.LineAdditions, p.LineDeletions, p.Lines
		if p.LineNo > 0 {
			row("Cursor:", fmt.Sprintf("%d:%d", p.LineNo, p.CursorPos))
		}
	}
	row("Entity:", e.Entity())
	row("Language:", e.Language())
	row("Project:", e.Project())
	row("Branch:", branch)
	if state == pulse.StateDebugging {
		row("State:", debugStyle.Render(string(state)))
	} else {
		row("State:", string(state))
	}
	row("Lines:", fmt.Sprintf("%d  %s %s", lines,
		addStyle.Render(fmt.Sprintf("+%d", adds)),
		debugStyle.Render(fmt.Sprintf("-%d", dels))))
	row("Machine:", machine)
	sb.WriteString("\n")
	return sb.String()
}

func renderBreakdown(title string, rows []report.Breakdown, total int64, width int) string {
	var sb strings.Builder
	sb.WriteString(heading(title))
	if len(rows) == 0 || total == 0 {
		sb.WriteString(dimStyle.Render("  (no active time)") + "\n")
		return sb.String()
	}
	nameWidth := 0
	for _, r := range rows {
		nameWidth = max(nameWidth, lipgloss.Width(r.Name))
	}
	barMax := max(width-nameWidth-24, 10)
	for _, r := range rows {
		frac := float64(r.Millis) / float64(total)
		bar := barStyle.Render(strings.Repeat("█", max(int(frac*float64(barMax)), 1)))
		fmt.Fprintf(&sb, "  %-*s  %8s  %3.0f%%  %s\n", nameWidth, r.Name, idle.Format(r.Millis), frac*100, bar)
	}
	return sb.String()
}

// shortEntity trims long paths to their last three segments.
func shortEntity(entity string) string {
	parts := strings.Split(filepath.ToSlash(entity), "/")
	if len(parts) <= 4 {
		return entity
	}
	return "…/" + strings.Join(parts[len(parts)-3:], "/")
}

// Run starts the viewer for s.
func Run(s *report.Summary, title string) error {
	p := tea.NewProgram(New(s, title), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
