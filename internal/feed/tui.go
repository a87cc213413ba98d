package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"aerosense-sim/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// eventMsg carries one live event into the model.
type eventMsg struct{ telemetry.Event }

const maxLogLines = 500

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	stateStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	grayStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	violationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// TUI renders the live feed in the terminal.
type TUI struct {
	program    teaProgram
	done       chan struct{}
	notifyQuit atomic.Bool
}

// NewTUI starts a bubbletea program. onQuit runs when the user leaves the UI.
func NewTUI(onQuit func()) *TUI {
	w := &TUI{done: make(chan struct{})}
	w.notifyQuit.Store(true)
	p := tea.NewProgram(newTUIModel(), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.notifyQuit.Load() && onQuit != nil {
			onQuit()
		}
	}()
	return w
}

func (w *TUI) Name() string { return "tui" }

// Send implements Sink.
func (w *TUI) Send(_ context.Context, ev telemetry.Event) error {
	w.program.Send(eventMsg{ev})
	return nil
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUI) Close() error {
	w.notifyQuit.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type siteRow struct {
	id         int64
	name       string
	last       telemetry.Body
	violation  bool
	samples    int
	violations int
}

type tuiModel struct {
	table      table.Model
	vp         viewport.Model
	logs       []string
	status     telemetry.PhaseEvent
	sites      map[int64]*siteRow
	samples    int
	violations int
	wrap       bool
	autoscroll bool
	width      int
	height     int
}

func newTUIModel() tuiModel {
	cols := []table.Column{
		{Title: "Site", Width: 28},
		{Title: "PM2.5", Width: 8},
		{Title: "PM10", Width: 8},
		{Title: "NO2", Width: 8},
		{Title: "SO2", Width: 8},
		{Title: "CO2", Width: 9},
		{Title: "Viol.", Width: 7},
	}
	return tuiModel{
		table:      table.New(table.WithColumns(cols), table.WithHeight(4)),
		vp:         viewport.New(0, 0),
		sites:      make(map[int64]*siteRow),
		autoscroll: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.resize()
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	case eventMsg:
		m.apply(msg.Event)
		m.refreshViewport()
	}
	return m, nil
}

func (m *tuiModel) apply(ev telemetry.Event) {
	switch ev.Kind {
	case telemetry.EventPhase:
		m.status = *ev.Phase
		m.appendLog(fmt.Sprintf("%s %s %s",
			grayStyle.Render(time.Now().Format(time.TimeOnly)),
			stateStyle.Render(strings.ToUpper(string(ev.Phase.State))),
			ev.Phase.SiteName))
	case telemetry.EventSample:
		s := ev.Sample
		m.status = telemetry.PhaseEvent{State: s.State, SiteID: s.SiteID, SiteName: s.SiteName}
		row := m.sites[s.SiteID]
		if row == nil {
			row = &siteRow{id: s.SiteID}
			m.sites[s.SiteID] = row
		}
		row.name = s.SiteName
		row.last = s.Body
		row.violation = s.Violation
		row.samples++
		m.samples++
		verdict := okStyle.Render("ok")
		if s.Violation {
			row.violations++
			m.violations++
			verdict = violationStyle.Render("VIOLATION")
			for _, ex := range telemetry.Exceedances(s.Body, s.Limits) {
				verdict += fmt.Sprintf(" %s %.1f>%.1f", ex.Pollutant, ex.Value, ex.Limit)
			}
		}
		m.appendLog(fmt.Sprintf("%s %s pm25=%.2f pm10=%.2f no2=%.2f so2=%.2f co2=%.2f %s",
			grayStyle.Render(s.Timestamp.Format(time.TimeOnly)),
			s.SiteName, s.PM25, s.PM10, s.NO2, s.SO2, s.CO2, verdict))
		m.refreshTable()
	}
}

func (m *tuiModel) appendLog(line string) {
	m.logs = append(m.logs, line)
	if over := len(m.logs) - maxLogLines; over > 0 {
		m.logs = m.logs[over:]
	}
}

func (m *tuiModel) refreshTable() {
	ids := make([]int64, 0, len(m.sites))
	for id := range m.sites {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		r := m.sites[id]
		rows = append(rows, table.Row{
			r.name,
			fmt.Sprintf("%.2f", r.last.PM25),
			fmt.Sprintf("%.2f", r.last.PM10),
			fmt.Sprintf("%.2f", r.last.NO2),
			fmt.Sprintf("%.2f", r.last.SO2),
			fmt.Sprintf("%.2f", r.last.CO2),
			fmt.Sprintf("%d/%d", r.violations, r.samples),
		})
	}
	m.table.SetRows(rows)
	m.table.SetHeight(len(rows) + 1)
	m.resize()
}

func (m *tuiModel) resize() {
	if m.height == 0 {
		return
	}
	h := m.height - lipgloss.Height(m.renderHeader()) - lipgloss.Height(m.table.View())
	if h < 1 {
		h = 1
	}
	m.vp.Height = h
}

func (m *tuiModel) refreshViewport() {
	lines := m.logs
	if m.wrap && m.vp.Width > 0 {
		lines = make([]string, len(m.logs))
		for i, l := range m.logs {
			lines[i] = wordwrap.String(l, m.vp.Width)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) renderHeader() string {
	state := "waiting"
	if m.status.State != "" {
		state = string(m.status.State)
	}
	rate := 0.0
	if m.samples > 0 {
		rate = float64(m.violations) / float64(m.samples) * 100
	}
	return fmt.Sprintf("%s\n%s %s  samples=%d violations=%d (%.1f%%)  [w]rap [s]croll [q]uit",
		titleStyle.Render("AeroSense drone feed"),
		stateStyle.Render(state), m.status.SiteName,
		m.samples, m.violations, rate)
}

func (m tuiModel) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.table.View(), m.vp.View())
}
