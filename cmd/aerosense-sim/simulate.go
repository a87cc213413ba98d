package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aerosense-sim/internal/admin"
	"aerosense-sim/internal/broadcast"
	"aerosense-sim/internal/config"
	"aerosense-sim/internal/feed"
	"aerosense-sim/internal/logging"
	"aerosense-sim/internal/observability"
	"aerosense-sim/internal/sim"
	"aerosense-sim/internal/store"
)

var (
	simPrintOnly bool
	simColor     bool
	simTUI       bool
	simLogFile   string
	simTimeUnit  time.Duration
	simNoHTTP    bool
)

const shutdownTimeout = 5 * time.Second

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the inspection drone",
	Long:  "simulate seeds the site catalog, runs the drone's travel/scan/upload cycle and serves the query API and live feed until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, schemaPath)
		if err != nil {
			return err
		}
		if simTimeUnit > 0 {
			cfg.TimeUnit = simTimeUnit
		}

		// The TUI owns the terminal, so logs are discarded while it runs.
		logOut := io.Writer(os.Stderr)
		if simTUI {
			logOut = io.Discard
		}
		logger := logging.NewWithWriter(logOut, cfg.Log.Level, cfg.Log.Format)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, logger)

		return runSimulation(ctx, stop, cfg, logger)
	},
}

func runSimulation(ctx context.Context, stop context.CancelFunc, cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	writer, cleanup, err := newReadingWriter(cfg, writerOptions{
		printOnly: simPrintOnly,
		colorize:  simColor,
		quiet:     simTUI,
		logFile:   simLogFile,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	storeOpts := store.Options{Retention: cfg.HistoryLimit}
	if writer != nil {
		storeOpts.Mirror = writer
	}
	st := store.New(storeOpts)
	if err := st.Seed(cfg.Sites, cfg.Thresholds); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	policy, err := broadcast.ParsePolicy(cfg.Feed.Overflow)
	if err != nil {
		return err
	}
	feedOpts := broadcast.Options{QueueSize: cfg.Feed.QueueSize, Policy: policy}

	hub := broadcast.NewHub()
	hub.OnDrop(feed.CountDrops(metrics))

	var (
		pumps   sync.WaitGroup
		closers []func()
	)
	startPump := func(sink feed.Sink) error {
		sub, err := hub.Subscribe(sink.Name(), feedOpts)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sink.Name(), err)
		}
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			feed.Pump(ctx, sub, sink, metrics)
		}()
		return nil
	}
	// Pumps drain before their transports close.
	defer func() {
		hub.Close()
		pumps.Wait()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	if m := cfg.Sinks.MQTT; m != nil && m.Broker != "" {
		mcfg := feed.MQTTConfig{
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			Username:    m.Username,
			Password:    m.Password,
			TopicPrefix: m.TopicPrefix,
			QoS:         m.QoS,
		}
		client, err := feed.NewMQTTClient(ctx, mcfg)
		if err != nil {
			return err
		}
		pub := feed.NewMQTTPublisher(client, mcfg)
		closers = append(closers, pub.Close)
		if err := startPump(pub); err != nil {
			return err
		}
	}
	if k := cfg.Sinks.Kafka; k != nil {
		pub := feed.NewKafkaPublisher(k.Brokers, k.Topic)
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("kafka close", "err", err)
			}
		})
		if err := startPump(pub); err != nil {
			return err
		}
	}
	if simTUI {
		tui := feed.NewTUI(stop)
		closers = append(closers, func() { _ = tui.Close() })
		if err := startPump(tui); err != nil {
			return err
		}
	}

	simulator := sim.NewSimulator(st, hub, sim.Options{
		DroneID:  cfg.DroneID,
		TimeUnit: cfg.TimeUnit,
		Metrics:  metrics,
	})

	if !simNoHTTP {
		srv := admin.NewServer(cfg.HTTPAddr, admin.Options{
			Store: st,
			Drone: simulator,
			Hub:   hub,
			Feed:  feed.NewWebSocketHandler(hub, feedOpts),
		}, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "err", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "err", err)
			}
		}()
	}

	logger.Info("drone launched",
		"drone_id", cfg.DroneID,
		"sites", len(cfg.Sites),
		"time_unit", cfg.TimeUnit,
	)
	err = simulator.Run(ctx)
	logger.Info("drone landed")
	return err
}

func init() {
	simulateCmd.Flags().BoolVar(&simPrintOnly, "print-only", false, "Print readings to STDOUT instead of writing to the configured databases")
	simulateCmd.Flags().BoolVar(&simColor, "color", false, "Colorize STDOUT output instead of printing JSON")
	simulateCmd.Flags().BoolVar(&simTUI, "tui", false, "Show the live terminal UI")
	simulateCmd.Flags().StringVar(&simLogFile, "log-file", "", "Path to export readings (JSONL)")
	simulateCmd.Flags().DurationVar(&simTimeUnit, "time-unit", 0, "Length of one simulated time unit (overrides config, e.g. 100ms)")
	simulateCmd.Flags().BoolVar(&simNoHTTP, "no-http", false, "Do not serve the query API and live feed")
}
