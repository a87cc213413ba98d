// Package dashboard renders Grafana dashboards for the readings table.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"aerosense-sim/internal/telemetry"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

type channel struct {
	Title  string
	Column string
}

type data struct {
	Table    string
	Channels []channel
}

func channels() []channel {
	return []channel{
		{"PM2.5 (µg/m³)", "pm25"},
		{"PM10 (µg/m³)", "pm10"},
		{"NO2 (ppb)", "no2"},
		{"SO2 (ppb)", "so2"},
		{"CO2 (ppm)", "co2"},
		{"Temperature (°C)", "temperature"},
	}
}

// Render writes every embedded dashboard template to outDir. Templates read
// datasource ids from the environment and fail when one is unset.
func Render(outDir string) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
		"add": func(a, b int) int { return a + b },
		"mul": func(a, b int) int { return a * b },
		"div": func(a, b int) int { return a / b },
		"mod": func(a, b int) int { return a % b },
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	names, err := templates.ReadDir("templates")
	if err != nil {
		return err
	}
	d := data{Table: telemetry.ReadingTableName, Channels: channels()}
	for _, entry := range names {
		name := entry.Name()
		t, err := template.New(name).Funcs(funcMap).ParseFS(templates, "templates/"+name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(name, ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, d); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
