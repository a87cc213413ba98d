package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aerosense-sim/internal/telemetry"
)

type mockWriteAPI struct {
	points []*write.Point
	err    error
}

func (m *mockWriteAPI) WriteRecord(context.Context, ...string) error { return nil }

func (m *mockWriteAPI) WritePoint(_ context.Context, points ...*write.Point) error {
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, points...)
	return nil
}

func (m *mockWriteAPI) EnableBatching() {}

func (m *mockWriteAPI) Flush(context.Context) error { return nil }

func TestInfluxWriterPoint(t *testing.T) {
	api := &mockWriteAPI{}
	w := &InfluxWriter{writeAPI: api, measurement: "sensor_readings"}
	ts := time.Unix(1700000000, 0).UTC()
	r := telemetry.Reading{ID: "r1", SiteID: 4, Body: telemetry.Body{SO2: 81}, Violation: true, Timestamp: ts}

	require.NoError(t, w.Write(context.Background(), r))
	require.Len(t, api.points, 1)

	p := api.points[0]
	assert.Equal(t, "sensor_readings", p.Name())
	assert.Equal(t, ts, p.Time())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "site_id", p.TagList()[0].Key)
	assert.Equal(t, "4", p.TagList()[0].Value)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 81.0, fields["so2"])
	assert.Equal(t, true, fields["is_violation"])
	assert.Equal(t, "r1", fields["reading_id"])
}

func TestInfluxWriterError(t *testing.T) {
	w := &InfluxWriter{writeAPI: &mockWriteAPI{err: errors.New("401")}, measurement: "m"}
	assert.Error(t, w.Write(context.Background(), telemetry.Reading{ID: "r"}))
}

func TestNewInfluxWriterValidates(t *testing.T) {
	_, err := NewInfluxWriter(InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}
