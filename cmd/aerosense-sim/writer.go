package main

import (
	"fmt"

	"aerosense-sim/internal/config"
	"aerosense-sim/internal/sim"
)

// writerOptions select the reading sinks beyond the ones named in the config.
type writerOptions struct {
	printOnly bool   // ignore durable sinks and print readings
	colorize  bool   // colorized instead of JSON stdout output
	quiet     bool   // never fall back to stdout (the TUI owns the terminal)
	logFile   string // JSONL export
}

// newReadingWriter builds the reading sink chain from the config and flags.
// Durable sinks are each wrapped in a circuit breaker; without any durable
// sink readings go to stdout unless quiet is set. A nil writer means readings
// stay in memory only. The cleanup function closes every opened sink.
func newReadingWriter(cfg *config.Config, opts writerOptions) (sim.ReadingWriter, func(), error) {
	var (
		writers []sim.ReadingWriter
		closers []func() error
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}
	fail := func(err error) (sim.ReadingWriter, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if !opts.printOnly {
		durable, durableClosers, err := durableWriters(cfg)
		closers = append(closers, durableClosers...)
		if err != nil {
			return fail(err)
		}
		writers = append(writers, durable...)
	}

	if len(writers) == 0 && !opts.quiet {
		writers = append(writers, sim.NewStdoutWriter(opts.colorize))
	}

	if opts.logFile != "" || cfg.Sinks.File != "" {
		path := opts.logFile
		if path == "" {
			path = cfg.Sinks.File
		}
		fw, err := sim.NewFileWriter(path)
		if err != nil {
			return fail(fmt.Errorf("open reading log: %w", err))
		}
		closers = append(closers, fw.Close)
		writers = append(writers, fw)
	}

	switch len(writers) {
	case 0:
		return nil, cleanup, nil
	case 1:
		return writers[0], cleanup, nil
	}
	return sim.NewMultiWriter(writers...), cleanup, nil
}

func durableWriters(cfg *config.Config) ([]sim.ReadingWriter, []func() error, error) {
	var (
		writers []sim.ReadingWriter
		closers []func() error
	)
	breaker := func(name string, w sim.ReadingWriter) sim.ReadingWriter {
		return sim.NewBreakerWriter(w, sim.BreakerSettings{
			Name:     name,
			Failures: cfg.Breaker.Failures,
			OpenFor:  cfg.Breaker.OpenFor,
		})
	}

	if g := cfg.Sinks.Greptime; g != nil && g.Endpoint != "" {
		w, err := sim.NewGreptimeDBWriter(g.Endpoint, g.Database)
		if err != nil {
			return nil, closers, fmt.Errorf("init GreptimeDB writer: %w", err)
		}
		writers = append(writers, breaker("greptimedb", w))
	}
	if in := cfg.Sinks.Influx; in != nil && in.URL != "" {
		w, err := sim.NewInfluxWriter(sim.InfluxConfig{
			URL:         in.URL,
			Token:       in.Token,
			Org:         in.Org,
			Bucket:      in.Bucket,
			Measurement: in.Measurement,
		})
		if err != nil {
			return nil, closers, fmt.Errorf("init InfluxDB writer: %w", err)
		}
		closers = append(closers, w.Close)
		writers = append(writers, breaker("influxdb", w))
	}
	return writers, closers, nil
}
