// Drone state machine: travels to each site, scans it and uploads, forever
package sim

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"aerosense-sim/internal/logging"
	"aerosense-sim/internal/observability"
	"aerosense-sim/internal/telemetry"
)

// Phase timing, in time units.
const (
	TravelUnits    = 5
	ScanRounds     = 4
	ScanRoundUnits = 5
	UploadUnits    = 3

	EmptyCatalogBackoffUnits      = 5
	MissingThresholdsBackoffUnits = 2
	GatewayErrorBackoffUnits      = 2

	// CycleUnits is the length of one complete inspection of a site.
	CycleUnits = TravelUnits + ScanRounds*ScanRoundUnits + UploadUnits
)

// DefaultTimeUnit is the wall duration of one time unit.
const DefaultTimeUnit = time.Second

// Gateway is the persistence surface the simulator reads the catalog from and
// saves readings to.
type Gateway interface {
	ListSites(ctx context.Context) ([]telemetry.Site, error)
	LookupThresholds(ctx context.Context, category string) (telemetry.ThresholdSet, bool, error)
	SaveReading(ctx context.Context, r telemetry.Reading) (telemetry.Reading, error)
}

// Publisher fans events out to live subscribers. Publish must not block.
type Publisher interface {
	Publish(telemetry.Event)
}

// Options tune a Simulator. Zero values select defaults.
type Options struct {
	DroneID  string
	TimeUnit time.Duration
	Clock    clockwork.Clock
	Rand     *rand.Rand
	Metrics  *observability.Metrics
}

// Simulator runs a single drone's inspection cycle.
type Simulator struct {
	droneID  string
	gateway  Gateway
	pub      Publisher
	gen      *telemetry.Generator
	clock    clockwork.Clock
	timeUnit time.Duration
	metrics  *observability.Metrics

	// mu guards state, rotator and site; it is never held across a sleep,
	// a gateway call or a publish.
	mu      sync.Mutex
	state   telemetry.DroneState
	rotator Rotator
	site    telemetry.Site
}

// NewSimulator creates a simulator reading from gw and publishing to pub.
func NewSimulator(gw Gateway, pub Publisher, opts Options) *Simulator {
	if opts.TimeUnit <= 0 {
		opts.TimeUnit = DefaultTimeUnit
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsWith(nil)
	}
	return &Simulator{
		droneID:  opts.DroneID,
		gateway:  gw,
		pub:      pub,
		gen:      telemetry.NewGenerator(opts.Rand),
		clock:    opts.Clock,
		timeUnit: opts.TimeUnit,
		metrics:  opts.Metrics,
		state:    telemetry.StateTraveling,
	}
}

// Run executes cycles until ctx is canceled. It returns nil on cancellation.
func (s *Simulator) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("simulator starting", "drone_id", s.droneID, "time_unit", s.timeUnit)
	for {
		if err := s.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("simulator stopping", "drone_id", s.droneID)
				return nil
			}
			return err
		}
	}
}

// RunCycle performs one iteration: a full inspection of the current site, or
// a single backoff when no site can be inspected. The only error it returns is
// the context's.
func (s *Simulator) RunCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := logging.FromContext(ctx)

	sites, err := s.gateway.ListSites(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("list sites failed, backing off", "err", err)
		s.metrics.SitesSkipped.WithLabelValues("gateway_error").Inc()
		return s.sleep(ctx, GatewayErrorBackoffUnits)
	}

	s.mu.Lock()
	site, ok := s.rotator.Current(sites)
	s.mu.Unlock()
	if !ok {
		log.Info("site catalog is empty, waiting")
		s.metrics.SitesSkipped.WithLabelValues("empty_catalog").Inc()
		return s.sleep(ctx, EmptyCatalogBackoffUnits)
	}

	limits, found, err := s.gateway.LookupThresholds(ctx, site.Category)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("threshold lookup failed, backing off", "site_id", site.ID, "err", err)
		s.metrics.SitesSkipped.WithLabelValues("gateway_error").Inc()
		return s.sleep(ctx, GatewayErrorBackoffUnits)
	}
	if !found {
		log.Warn("no thresholds for site category, skipping site",
			"site_id", site.ID, "site", site.Name, "category", site.Category)
		s.metrics.SitesSkipped.WithLabelValues("missing_thresholds").Inc()
		if err := s.sleep(ctx, MissingThresholdsBackoffUnits); err != nil {
			return err
		}
		s.mu.Lock()
		s.rotator.Advance(site)
		s.mu.Unlock()
		return nil
	}

	started := s.clock.Now()
	if err := s.inspect(ctx, site, limits); err != nil {
		return err
	}

	s.mu.Lock()
	s.rotator.Advance(site)
	s.mu.Unlock()
	s.metrics.CycleDuration.Observe(s.clock.Since(started).Seconds())
	return nil
}

func (s *Simulator) inspect(ctx context.Context, site telemetry.Site, limits telemetry.ThresholdSet) error {
	log := logging.FromContext(ctx).With("site_id", site.ID, "site", site.Name)

	s.enter(telemetry.StateTraveling, site)
	s.publish(telemetry.NewPhaseEvent(telemetry.StateTraveling, site))
	log.Debug("traveling")
	if err := s.sleep(ctx, TravelUnits); err != nil {
		return err
	}

	s.enter(telemetry.StateScanning, site)
	for round := 0; round < ScanRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.sample(ctx, log, site, limits)
		if err := s.sleep(ctx, ScanRoundUnits); err != nil {
			return err
		}
	}

	s.enter(telemetry.StateUploading, site)
	s.publish(telemetry.NewPhaseEvent(telemetry.StateUploading, site))
	log.Debug("uploading")
	return s.sleep(ctx, UploadUnits)
}

// sample takes, persists and announces one reading. A reading the gateway
// refuses is logged and not announced.
func (s *Simulator) sample(ctx context.Context, log *slog.Logger, site telemetry.Site, limits telemetry.ThresholdSet) {
	body := s.gen.Generate(limits)
	lat, lng := s.gen.Locate(site)
	r := telemetry.Reading{
		SiteID:    site.ID,
		Body:      body,
		Lat:       lat,
		Lng:       lng,
		Violation: telemetry.IsViolation(body, limits),
	}
	s.metrics.ReadingsGenerated.Inc()

	saved, err := s.gateway.SaveReading(ctx, r)
	if err != nil {
		log.Warn("persisting reading failed", "err", err)
		s.metrics.PersistFailures.Inc()
		return
	}
	s.metrics.ReadingsPersisted.Inc()
	if saved.Violation {
		s.metrics.Violations.Inc()
	}
	log.Debug("reading persisted", "reading_id", saved.ID, "violation", saved.Violation)
	s.publish(telemetry.NewSampleEvent(saved, site, limits))
}

func (s *Simulator) enter(state telemetry.DroneState, site telemetry.Site) {
	s.mu.Lock()
	s.state = state
	s.site = site
	s.mu.Unlock()
	s.metrics.SetState(state)
}

func (s *Simulator) publish(ev telemetry.Event) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ev)
	s.metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
}

func (s *Simulator) sleep(ctx context.Context, units int) error {
	if units <= 0 {
		return ctx.Err()
	}
	t := s.clock.NewTimer(time.Duration(units) * s.timeUnit)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

// Status returns the drone's current state and target.
func (s *Simulator) Status() telemetry.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return telemetry.Status{
		DroneID:  s.droneID,
		State:    s.state,
		SiteID:   s.site.ID,
		SiteName: s.site.Name,
	}
}

// TimeUnit returns the configured duration of one time unit.
func (s *Simulator) TimeUnit() time.Duration {
	return s.timeUnit
}
