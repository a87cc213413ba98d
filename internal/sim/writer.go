package sim

import (
	"context"

	"aerosense-sim/internal/telemetry"
)

// ReadingWriter is a durable sink for persisted readings.
type ReadingWriter interface {
	Write(ctx context.Context, r telemetry.Reading) error
}

// Optional: writers can also support batch mode
type batchWriter interface {
	WriteBatch(ctx context.Context, rows []telemetry.Reading) error
}

// WriteBatch writes rows to w, using its batch mode when it has one.
func WriteBatch(ctx context.Context, w ReadingWriter, rows []telemetry.Reading) error {
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(ctx, rows)
	}
	for _, r := range rows {
		if err := w.Write(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
