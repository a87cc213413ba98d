package sim

import (
	"context"
	"fmt"
	"net"
	"strconv"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"aerosense-sim/internal/telemetry"
)

// DefaultGreptimePort is the gRPC port of a GreptimeDB frontend.
const DefaultGreptimePort = 4001

// greptimeClient is the subset of the ingester client the writer needs.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes readings to GreptimeDB via the ingester client. The
// table is created by the server on first write.
type GreptimeDBWriter struct {
	client greptimeClient
	table  string
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port").
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint, DefaultGreptimePort)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeDBWriter{client: client, table: telemetry.ReadingTableName}, nil
}

// Write inserts a single reading.
func (w *GreptimeDBWriter) Write(ctx context.Context, r telemetry.Reading) error {
	return w.WriteBatch(ctx, []telemetry.Reading{r})
}

// WriteBatch inserts multiple readings in one request.
func (w *GreptimeDBWriter) WriteBatch(ctx context.Context, rows []telemetry.Reading) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := w.readingsTable(rows)
	if err != nil {
		return err
	}
	if _, err := w.client.Write(ctx, tbl); err != nil {
		return fmt.Errorf("greptime write %d rows: %w", len(rows), err)
	}
	return nil
}

func (w *GreptimeDBWriter) readingsTable(rows []telemetry.Reading) (*table.Table, error) {
	tbl, err := table.New(w.table)
	if err != nil {
		return nil, err
	}
	cols := []struct {
		name string
		tag  bool
		typ  types.ColumnType
	}{
		{"site_id", true, types.INT64},
		{"reading_id", false, types.STRING},
		{"pm25", false, types.FLOAT64},
		{"pm10", false, types.FLOAT64},
		{"no2", false, types.FLOAT64},
		{"so2", false, types.FLOAT64},
		{"co2", false, types.FLOAT64},
		{"temperature", false, types.FLOAT64},
		{"humidity", false, types.FLOAT64},
		{"gps_lat", false, types.FLOAT64},
		{"gps_lng", false, types.FLOAT64},
		{"is_violation", false, types.BOOLEAN},
	}
	for _, c := range cols {
		if c.tag {
			err = tbl.AddTagColumn(c.name, c.typ)
		} else {
			err = tbl.AddFieldColumn(c.name, c.typ)
		}
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.name, err)
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return nil, err
	}

	for _, r := range rows {
		err := tbl.AddRow(
			r.SiteID, r.ID,
			r.PM25, r.PM10, r.NO2, r.SO2, r.CO2,
			r.Temperature, r.Humidity,
			r.Lat, r.Lng,
			r.Violation,
			r.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", r.ID, err)
		}
	}
	return tbl, nil
}

func splitEndpoint(endpoint string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		// no port given
		return endpoint, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in endpoint %q: %w", endpoint, err)
	}
	return host, port, nil
}
