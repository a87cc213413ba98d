package sim

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"aerosense-sim/internal/telemetry"
)

// FileWriter appends readings to a JSONL file.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileWriter creates (or truncates) path and returns a writer for it.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileWriter{file: f, enc: json.NewEncoder(f)}, nil
}

// Write logs a single reading.
func (f *FileWriter) Write(_ context.Context, r telemetry.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enc.Encode(r)
}

// WriteBatch logs multiple readings.
func (f *FileWriter) WriteBatch(ctx context.Context, rows []telemetry.Reading) error {
	for _, r := range rows {
		if err := f.Write(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying file.
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
