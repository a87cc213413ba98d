package sim

import (
	"context"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"aerosense-sim/internal/telemetry"
)

// InfluxWriter writes readings as points of a single measurement, tagged by site.
type InfluxWriter struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

// InfluxConfig locates an InfluxDB bucket.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// NewInfluxWriter creates a blocking writer for the configured bucket.
func NewInfluxWriter(cfg InfluxConfig) (*InfluxWriter, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = telemetry.ReadingTableName
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxWriter{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}, nil
}

// Write stores a single reading.
func (w *InfluxWriter) Write(ctx context.Context, r telemetry.Reading) error {
	return w.WriteBatch(ctx, []telemetry.Reading{r})
}

// WriteBatch stores multiple readings in one request.
func (w *InfluxWriter) WriteBatch(ctx context.Context, rows []telemetry.Reading) error {
	if len(rows) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(rows))
	for _, r := range rows {
		points = append(points, w.point(r))
	}
	if err := w.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %d points: %w", len(points), err)
	}
	return nil
}

func (w *InfluxWriter) point(r telemetry.Reading) *write.Point {
	tags := map[string]string{
		"site_id": strconv.FormatInt(r.SiteID, 10),
	}
	fields := map[string]interface{}{
		"reading_id":   r.ID,
		"pm25":         r.PM25,
		"pm10":         r.PM10,
		"no2":          r.NO2,
		"so2":          r.SO2,
		"co2":          r.CO2,
		"temperature":  r.Temperature,
		"humidity":     r.Humidity,
		"gps_lat":      r.Lat,
		"gps_lng":      r.Lng,
		"is_violation": r.Violation,
	}
	return influxdb2.NewPoint(w.measurement, tags, fields, r.Timestamp)
}

// Close releases the client.
func (w *InfluxWriter) Close() error {
	if w.client != nil {
		w.client.Close()
	}
	return nil
}
