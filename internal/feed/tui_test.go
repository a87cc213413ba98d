package feed

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"aerosense-sim/internal/telemetry"
)

type fakeProgram struct{ msgs []tea.Msg }

func (f *fakeProgram) Send(msg tea.Msg) { f.msgs = append(f.msgs, msg) }

var steelLimits = telemetry.ThresholdSet{Category: "Steel Industry", PM25: 60, PM10: 100, NO2: 80, SO2: 80, CO2: 1000}

func sampleEvent(siteID int64, name string, pm25 float64) telemetry.Event {
	r := telemetry.Reading{
		ID:        "r",
		SiteID:    siteID,
		Body:      telemetry.Body{PM25: pm25, PM10: 50, NO2: 40, SO2: 40, CO2: 500},
		Timestamp: time.Unix(0, 0).UTC(),
	}
	r.Violation = telemetry.IsViolation(r.Body, steelLimits)
	return telemetry.NewSampleEvent(r, telemetry.Site{ID: siteID, Name: name, Category: steelLimits.Category}, steelLimits)
}

func TestTUISendForwardsEvents(t *testing.T) {
	p := &fakeProgram{}
	w := &TUI{program: p}
	ev := telemetry.NewPhaseEvent(telemetry.StateTraveling, telemetry.Site{ID: 1, Name: "Bhilai"})
	if err := w.Send(context.Background(), ev); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, ok := p.msgs[0].(eventMsg)
	if !ok {
		t.Fatalf("expected eventMsg, got %T", p.msgs[0])
	}
	if msg.Kind != telemetry.EventPhase {
		t.Fatalf("unexpected kind %s", msg.Kind)
	}
}

func TestTUIModelTracksSites(t *testing.T) {
	m := newTUIModel()
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m = mi.(tuiModel)
	mi, _ = m.Update(eventMsg{telemetry.NewPhaseEvent(telemetry.StateTraveling, telemetry.Site{ID: 3, Name: "Rourkela"})})
	m = mi.(tuiModel)
	if m.status.State != telemetry.StateTraveling || m.status.SiteName != "Rourkela" {
		t.Fatalf("status not updated: %+v", m.status)
	}

	mi, _ = m.Update(eventMsg{sampleEvent(3, "Rourkela", 75)})
	m = mi.(tuiModel)
	mi, _ = m.Update(eventMsg{sampleEvent(1, "Bhilai", 20)})
	m = mi.(tuiModel)

	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 site rows, got %d", len(rows))
	}
	if rows[0][0] != "Bhilai" || rows[1][0] != "Rourkela" {
		t.Fatalf("rows should be ordered by site id: %v", rows)
	}
	if rows[1][6] != "1/1" {
		t.Fatalf("violation column = %s, want 1/1", rows[1][6])
	}
	if m.samples != 2 || m.violations != 1 {
		t.Fatalf("counters = %d/%d", m.violations, m.samples)
	}
	if !strings.Contains(strings.Join(m.logs, "\n"), "PM2.5 75.0>60.0") {
		t.Fatalf("expected exceedance in log, got %q", m.logs)
	}
	if !strings.Contains(m.View(), "samples=2 violations=1") {
		t.Fatalf("header missing counters")
	}
}

func TestTUIWrapToggle(t *testing.T) {
	m := newTUIModel()
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 20, Height: 20})
	m = mi.(tuiModel)
	m.appendLog("one two three four five six")
	m.refreshViewport()
	lines := strings.Split(m.vp.View(), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[1]) != "" {
		t.Fatalf("expected single line before wrap")
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'w'}})
	m = mi.(tuiModel)
	if !m.wrap {
		t.Fatalf("wrap not toggled")
	}
	lines = strings.Split(m.vp.View(), "\n")
	if strings.TrimSpace(lines[1]) == "" {
		t.Fatalf("expected wrapped content on second line")
	}
}

func TestTUIScrollToggle(t *testing.T) {
	m := newTUIModel()
	m.vp.Height = 1
	m.vp.Width = 20
	for _, l := range []string{"l1", "l2"} {
		m.appendLog(l)
		m.refreshViewport()
	}
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset 1, got %d", m.vp.YOffset)
	}
	mi, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	m = mi.(tuiModel)
	if m.autoscroll {
		t.Fatalf("autoscroll should be off")
	}
	m.appendLog("l3")
	m.refreshViewport()
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset unchanged, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	m = mi.(tuiModel)
	if want := len(m.logs) - m.vp.Height; m.vp.YOffset != want {
		t.Fatalf("expected YOffset %d, got %d", want, m.vp.YOffset)
	}
}

func TestTUILogCap(t *testing.T) {
	m := newTUIModel()
	for i := 0; i < maxLogLines+10; i++ {
		m.appendLog("x")
	}
	if len(m.logs) != maxLogLines {
		t.Fatalf("expected %d log lines, got %d", maxLogLines, len(m.logs))
	}
}
