package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"aerosense-sim/internal/telemetry"
)

const namespace = "aerosense"

// Metrics holds the Prometheus counters, histograms, and gauges for the simulator.
type Metrics struct {
	ReadingsGenerated prometheus.Counter
	ReadingsPersisted prometheus.Counter
	Violations        prometheus.Counter
	PersistFailures   prometheus.Counter
	SitesSkipped      *prometheus.CounterVec // labels: reason={empty_catalog,missing_thresholds,gateway_error}
	CycleDuration     prometheus.Histogram

	// Live feed metrics.
	EventsPublished *prometheus.CounterVec // labels: kind={drone_state,drone_update}
	EventsDropped   *prometheus.CounterVec // labels: transport
	FeedDeliveries  *prometheus.CounterVec // labels: transport, outcome={success,error}

	DroneState *prometheus.GaugeVec // labels: state; 1 for the current state
}

func newMetrics() *Metrics {
	return &Metrics{
		ReadingsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_generated_total",
			Help:      "Total synthetic readings produced during scans.",
		}),
		ReadingsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_persisted_total",
			Help:      "Total readings accepted by the persistence gateway.",
		}),
		Violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Total persisted readings flagged as violations.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Total readings the gateway refused to persist.",
		}),
		SitesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Cycles that backed off instead of inspecting a site, by reason.",
		}, []string{"reason"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one complete inspection cycle.",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 120},
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events handed to the broadcaster, by kind.",
		}, []string{"kind"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded because a subscriber queue was full, by transport.",
		}, []string{"transport"}),
		FeedDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_deliveries_total",
			Help:      "Events forwarded to external live-feed transports.",
		}, []string{"transport", "outcome"}),
		DroneState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drone_state",
			Help:      "1 for the drone's current state, 0 otherwise.",
		}, []string{"state"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReadingsGenerated,
		m.ReadingsPersisted,
		m.Violations,
		m.PersistFailures,
		m.SitesSkipped,
		m.CycleDuration,
		m.EventsPublished,
		m.EventsDropped,
		m.FeedDeliveries,
		m.DroneState,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates metrics registered with reg. A nil reg leaves them unregistered.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

// NewMetricsForTesting creates Metrics on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// SetState flips the state gauge so exactly one state reads 1.
func (m *Metrics) SetState(s telemetry.DroneState) {
	for _, st := range []telemetry.DroneState{telemetry.StateTraveling, telemetry.StateScanning, telemetry.StateUploading} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.DroneState.WithLabelValues(string(st)).Set(v)
	}
}
