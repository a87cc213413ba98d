// Writer implementation printing readings to STDOUT
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"aerosense-sim/internal/telemetry"
)

var (
	tsStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	siteStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	violationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// StdoutWriter prints readings either as JSON lines or as colorized summaries.
type StdoutWriter struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
}

// NewStdoutWriter creates a StdoutWriter writing to os.Stdout.
func NewStdoutWriter(colorize bool) *StdoutWriter {
	return &StdoutWriter{out: os.Stdout, colorize: colorize}
}

// Write outputs a single reading.
func (w *StdoutWriter) Write(_ context.Context, r telemetry.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.colorize {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w.out, string(data))
		return err
	}

	verdict := okStyle.Render("ok")
	if r.Violation {
		verdict = violationStyle.Render("VIOLATION")
	}
	_, err := fmt.Fprintf(w.out, "%s %s pm25=%.2f pm10=%.2f no2=%.2f so2=%.2f co2=%.2f temp=%.1f hum=%.1f %s\n",
		tsStyle.Render("["+r.Timestamp.Format(time.RFC3339)+"]"),
		siteStyle.Render(fmt.Sprintf("site=%d", r.SiteID)),
		r.PM25, r.PM10, r.NO2, r.SO2, r.CO2, r.Temperature, r.Humidity,
		verdict,
	)
	return err
}

// WriteBatch outputs multiple readings.
func (w *StdoutWriter) WriteBatch(ctx context.Context, rows []telemetry.Reading) error {
	for _, r := range rows {
		if err := w.Write(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
