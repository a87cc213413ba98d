package sim

import (
	"context"
	"fmt"

	"aerosense-sim/internal/telemetry"
)

// MultiWriter fans readings out to multiple writers. A reading counts as
// written only when every writer accepted it.
type MultiWriter struct {
	writers []ReadingWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...ReadingWriter) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// Write sends a reading to all writers, stopping at the first failure.
func (mw *MultiWriter) Write(ctx context.Context, r telemetry.Reading) error {
	for i, w := range mw.writers {
		if err := w.Write(ctx, r); err != nil {
			return fmt.Errorf("writer %d: %w", i, err)
		}
	}
	return nil
}

// WriteBatch sends multiple readings to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(ctx context.Context, rows []telemetry.Reading) error {
	for i, w := range mw.writers {
		if err := WriteBatch(ctx, w, rows); err != nil {
			return fmt.Errorf("writer %d: %w", i, err)
		}
	}
	return nil
}

// Len returns the number of wrapped writers.
func (mw *MultiWriter) Len() int {
	return len(mw.writers)
}
