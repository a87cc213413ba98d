package sim

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aerosense-sim/internal/broadcast"
	"aerosense-sim/internal/observability"
	"aerosense-sim/internal/store"
	"aerosense-sim/internal/telemetry"
)

const unit = time.Second

var (
	steelLimits = telemetry.ThresholdSet{Category: "Steel Industry", PM25: 60, PM10: 100, NO2: 80, SO2: 80, CO2: 1000}
	bhilai      = telemetry.Site{ID: 1, Name: "Bhilai Steel Plant", Category: "Steel Industry", Lat: 21.2088, Lng: 81.4285}
	durgapur    = telemetry.Site{ID: 2, Name: "Durgapur Steel Plant", Category: "Steel Industry", Lat: 23.5204, Lng: 87.3119}
	rourkela    = telemetry.Site{ID: 3, Name: "Rourkela Steel Plant", Category: "Steel Industry", Lat: 22.2604, Lng: 84.8536}
	cement      = telemetry.Site{ID: 7, Name: "Unconfigured Cement Works", Category: "Cement"}
)

// fakeGateway is an in-memory Gateway with injectable failures.
type fakeGateway struct {
	mu         sync.Mutex
	sites      []telemetry.Site
	thresholds map[string]telemetry.ThresholdSet
	saveErr    func(n int) error
	saves      int
	saved      []telemetry.Reading
	listErr    error
}

func newFakeGateway(sites ...telemetry.Site) *fakeGateway {
	return &fakeGateway{
		sites:      sites,
		thresholds: map[string]telemetry.ThresholdSet{steelLimits.Category: steelLimits},
	}
}

func (g *fakeGateway) ListSites(context.Context) ([]telemetry.Site, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]telemetry.Site(nil), g.sites...), nil
}

func (g *fakeGateway) LookupThresholds(_ context.Context, category string) (telemetry.ThresholdSet, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.thresholds[category]
	return t, ok, nil
}

func (g *fakeGateway) SaveReading(_ context.Context, r telemetry.Reading) (telemetry.Reading, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saves++
	if g.saveErr != nil {
		if err := g.saveErr(g.saves); err != nil {
			return telemetry.Reading{}, err
		}
	}
	r.ID = "r-" + strconv.Itoa(g.saves)
	r.Timestamp = time.Unix(int64(g.saves), 0).UTC()
	g.saved = append(g.saved, r)
	return r, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (p *recordingPublisher) Publish(ev telemetry.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) snapshot() []telemetry.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]telemetry.Event(nil), p.events...)
}

func newTestSimulator(gw Gateway, pub Publisher) (*Simulator, *clockwork.FakeClock, *observability.Metrics) {
	clock := clockwork.NewFakeClock()
	m := observability.NewMetricsForTesting()
	s := NewSimulator(gw, pub, Options{
		DroneID:  "drone-test",
		TimeUnit: unit,
		Clock:    clock,
		Rand:     rand.New(rand.NewSource(1)),
		Metrics:  m,
	})
	return s, clock, m
}

// waitForSleep blocks until the simulator is parked on its single timer.
func waitForSleep(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "simulator never went to sleep")
}

// driveCycle runs one RunCycle to completion, firing every sleep it takes,
// and returns the total simulated time.
func driveCycle(t *testing.T, ctx context.Context, s *Simulator, clock *clockwork.FakeClock) time.Duration {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.RunCycle(ctx) }()

	var elapsed time.Duration
	for {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		blocked := make(chan error, 1)
		go func() { blocked <- clock.BlockUntilContext(waitCtx, 1) }()
		select {
		case err := <-done:
			cancel()
			require.NoError(t, err)
			return elapsed
		case err := <-blocked:
			cancel()
			require.NoError(t, err, "cycle neither finished nor slept")
			// every sleep is a whole number of units
			clock.Advance(unit)
			elapsed += unit
		}
	}
}

func TestFullCycleSequence(t *testing.T) {
	gw := newFakeGateway(bhilai)
	pub := &recordingPublisher{}
	s, clock, m := newTestSimulator(gw, pub)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.RunCycle(ctx) }()

	waitForSleep(t, clock)
	assert.Equal(t, telemetry.StateTraveling, s.Status().State)
	assert.Equal(t, bhilai.ID, s.Status().SiteID)
	clock.Advance(TravelUnits*unit - time.Millisecond)
	assert.Equal(t, telemetry.StateTraveling, s.Status().State, "travel lasts five units")
	clock.Advance(time.Millisecond)

	for round := 1; round <= ScanRounds; round++ {
		waitForSleep(t, clock)
		assert.Equal(t, telemetry.StateScanning, s.Status().State)
		assert.Len(t, pub.snapshot(), 1+round)
		clock.Advance(ScanRoundUnits * unit)
	}

	waitForSleep(t, clock)
	assert.Equal(t, telemetry.StateUploading, s.Status().State)
	clock.Advance(UploadUnits * unit)
	require.NoError(t, <-done)

	events := pub.snapshot()
	require.Len(t, events, 6)
	assert.Equal(t, telemetry.EventPhase, events[0].Kind)
	assert.Equal(t, telemetry.StateTraveling, events[0].Phase.State)
	for _, ev := range events[1:5] {
		require.Equal(t, telemetry.EventSample, ev.Kind)
		assert.Equal(t, telemetry.StateScanning, ev.Sample.State)
		assert.Equal(t, bhilai.ID, ev.Sample.SiteID)
		assert.Equal(t, steelLimits, ev.Sample.Limits)
		assert.Equal(t, telemetry.IsViolation(ev.Sample.Body, steelLimits), ev.Sample.Violation)
		assert.NotEmpty(t, ev.Sample.ReadingID)
	}
	assert.Equal(t, telemetry.EventPhase, events[5].Kind)
	assert.Equal(t, telemetry.StateUploading, events[5].Phase.State)

	assert.Len(t, gw.saved, ScanRounds)
	assert.Equal(t, float64(ScanRounds), testutil.ToFloat64(m.ReadingsPersisted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroneState.WithLabelValues("uploading")))
}

func TestCycleTakesTwentyEightUnits(t *testing.T) {
	s, clock, _ := newTestSimulator(newFakeGateway(bhilai), &recordingPublisher{})
	elapsed := driveCycle(t, context.Background(), s, clock)
	assert.Equal(t, CycleUnits*unit, elapsed)
	assert.Equal(t, 28, CycleUnits)
}

func TestRoundRobinWithWraparound(t *testing.T) {
	gw := newFakeGateway(bhilai, rourkela)
	pub := &recordingPublisher{}
	s, clock, _ := newTestSimulator(gw, pub)

	var visited []int64
	for i := 0; i < 3; i++ {
		driveCycle(t, context.Background(), s, clock)
		events := pub.snapshot()
		visited = append(visited, events[len(events)-6].Phase.SiteID)
	}
	assert.Equal(t, []int64{bhilai.ID, rourkela.ID, bhilai.ID}, visited)
}

func TestMissingThresholdsSkipsSite(t *testing.T) {
	gw := newFakeGateway(bhilai, cement)
	pub := &recordingPublisher{}
	s, clock, m := newTestSimulator(gw, pub)
	ctx := context.Background()

	assert.Equal(t, CycleUnits*unit, driveCycle(t, ctx, s, clock))
	inspected := len(pub.snapshot())

	elapsed := driveCycle(t, ctx, s, clock)
	assert.Equal(t, MissingThresholdsBackoffUnits*unit, elapsed)
	assert.Len(t, pub.snapshot(), inspected, "no events for a site without thresholds")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SitesSkipped.WithLabelValues("missing_thresholds")))

	driveCycle(t, ctx, s, clock)
	events := pub.snapshot()
	assert.Equal(t, []int64{bhilai.ID, bhilai.ID}, travelTargets(events))
	for _, ev := range events {
		assert.NotEqual(t, cement.ID, ev.SiteID())
	}
}

func TestOnlySiteMissingThresholdsDoesNotDeadlock(t *testing.T) {
	gw := newFakeGateway(cement)
	pub := &recordingPublisher{}
	s, clock, m := newTestSimulator(gw, pub)

	for i := 0; i < 5; i++ {
		elapsed := driveCycle(t, context.Background(), s, clock)
		assert.Equal(t, MissingThresholdsBackoffUnits*unit, elapsed)
	}
	assert.Empty(t, pub.snapshot())
	assert.Zero(t, gw.saves)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SitesSkipped.WithLabelValues("missing_thresholds")))
}

func TestEmptyCatalogBacksOff(t *testing.T) {
	gw := newFakeGateway()
	pub := &recordingPublisher{}
	s, clock, m := newTestSimulator(gw, pub)

	elapsed := driveCycle(t, context.Background(), s, clock)
	assert.Equal(t, EmptyCatalogBackoffUnits*unit, elapsed)
	assert.Empty(t, pub.snapshot())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SitesSkipped.WithLabelValues("empty_catalog")))

	// A site registered while waiting is picked up on the next cycle.
	gw.mu.Lock()
	gw.sites = []telemetry.Site{rourkela}
	gw.mu.Unlock()
	driveCycle(t, context.Background(), s, clock)
	assert.Len(t, pub.snapshot(), 6)
}

func TestGatewayErrorBacksOffWithoutAdvancing(t *testing.T) {
	gw := newFakeGateway(bhilai, rourkela)
	gw.listErr = errors.New("connection refused")
	pub := &recordingPublisher{}
	s, clock, m := newTestSimulator(gw, pub)

	elapsed := driveCycle(t, context.Background(), s, clock)
	assert.Equal(t, GatewayErrorBackoffUnits*unit, elapsed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SitesSkipped.WithLabelValues("gateway_error")))

	gw.mu.Lock()
	gw.listErr = nil
	gw.mu.Unlock()
	driveCycle(t, context.Background(), s, clock)
	assert.Equal(t, bhilai.ID, pub.snapshot()[0].SiteID())
}

func TestPersistenceFailureIsNotBroadcast(t *testing.T) {
	gw := newFakeGateway(bhilai)
	gw.saveErr = func(n int) error {
		if n == 2 {
			return errors.New("disk full")
		}
		return nil
	}
	pub := &recordingPublisher{}
	s, clock, m := newTestSimulator(gw, pub)

	driveCycle(t, context.Background(), s, clock)

	var samples int
	for _, ev := range pub.snapshot() {
		if ev.Kind == telemetry.EventSample {
			samples++
		}
	}
	assert.Equal(t, ScanRounds-1, samples)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures))
	assert.Equal(t, float64(ScanRounds), testutil.ToFloat64(m.ReadingsGenerated))
}

func TestStalledSubscriberDoesNotStallCycle(t *testing.T) {
	hub := broadcast.NewHub()
	defer hub.Close()
	_, err := hub.Subscribe("stalled", broadcast.Options{QueueSize: 1, Policy: broadcast.DropNewest})
	require.NoError(t, err)

	gw := newFakeGateway(bhilai, rourkela)
	s, clock, _ := newTestSimulator(gw, hub)
	for i := 0; i < 3; i++ {
		driveCycle(t, context.Background(), s, clock)
	}
	assert.Len(t, gw.saved, 3*ScanRounds)

	st, err := hub.Stats("stalled")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Sent)
	assert.Equal(t, uint64(3*6-1), st.Dropped)
}

func TestSiteRemovedMidScan(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.New(store.Options{Clock: clock})
	require.NoError(t, st.Seed([]telemetry.Site{bhilai, rourkela}, []telemetry.ThresholdSet{steelLimits}))
	pub := &recordingPublisher{}
	s := NewSimulator(st, pub, Options{TimeUnit: unit, Clock: clock, Metrics: observability.NewMetricsForTesting()})

	done := make(chan error, 1)
	go func() { done <- s.RunCycle(context.Background()) }()

	waitForSleep(t, clock) // traveling
	clock.Advance(TravelUnits * unit)
	waitForSleep(t, clock) // first scan round persisted
	require.NoError(t, st.RemoveSite(bhilai.ID))
	for i := 0; i < ScanRounds; i++ {
		clock.Advance(ScanRoundUnits * unit)
		waitForSleep(t, clock)
	}
	clock.Advance(UploadUnits * unit)
	require.NoError(t, <-done)

	var samples int
	for _, ev := range pub.snapshot() {
		if ev.Kind == telemetry.EventSample {
			samples++
		}
	}
	assert.Equal(t, 1, samples, "readings after removal are refused and not announced")

	driveCycle(t, context.Background(), s, clock)
	events := pub.snapshot()
	assert.Equal(t, rourkela.ID, events[len(events)-1].SiteID())
}

func travelTargets(events []telemetry.Event) []int64 {
	var ids []int64
	for _, ev := range events {
		if ev.Kind == telemetry.EventPhase && ev.Phase.State == telemetry.StateTraveling {
			ids = append(ids, ev.Phase.SiteID)
		}
	}
	return ids
}

func TestEarlierSiteRemovedMidCycleKeepsOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.New(store.Options{Clock: clock})
	require.NoError(t, st.Seed([]telemetry.Site{bhilai, durgapur, rourkela}, []telemetry.ThresholdSet{steelLimits}))
	pub := &recordingPublisher{}
	s := NewSimulator(st, pub, Options{TimeUnit: unit, Clock: clock, Metrics: observability.NewMetricsForTesting()})
	ctx := context.Background()

	driveCycle(t, ctx, s, clock)

	done := make(chan error, 1)
	go func() { done <- s.RunCycle(ctx) }()
	waitForSleep(t, clock)
	require.Equal(t, durgapur.ID, s.Status().SiteID)
	require.NoError(t, st.RemoveSite(bhilai.ID))
	clock.Advance(TravelUnits * unit)
	for i := 0; i < ScanRounds; i++ {
		waitForSleep(t, clock)
		clock.Advance(ScanRoundUnits * unit)
	}
	waitForSleep(t, clock)
	clock.Advance(UploadUnits * unit)
	require.NoError(t, <-done)

	driveCycle(t, ctx, s, clock)
	driveCycle(t, ctx, s, clock)

	assert.Equal(t, []int64{bhilai.ID, durgapur.ID, rourkela.ID, durgapur.ID}, travelTargets(pub.snapshot()))
}

func TestSiteAddedBetweenCyclesJoinsRotation(t *testing.T) {
	gw := newFakeGateway(bhilai, rourkela)
	pub := &recordingPublisher{}
	s, clock, _ := newTestSimulator(gw, pub)
	ctx := context.Background()

	driveCycle(t, ctx, s, clock)
	gw.mu.Lock()
	gw.sites = []telemetry.Site{bhilai, durgapur, rourkela}
	gw.mu.Unlock()
	driveCycle(t, ctx, s, clock)
	driveCycle(t, ctx, s, clock)
	driveCycle(t, ctx, s, clock)

	assert.Equal(t, []int64{bhilai.ID, durgapur.ID, rourkela.ID, bhilai.ID}, travelTargets(pub.snapshot()))
}

func TestStatusBeforeFirstCycleHasNoSite(t *testing.T) {
	s, _, _ := newTestSimulator(newFakeGateway(bhilai), &recordingPublisher{})
	st := s.Status()
	assert.Zero(t, st.SiteID)
	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, `{"drone_id":"drone-test","state":"traveling"}`, string(data))
}

func TestRunStopsOnCancel(t *testing.T) {
	s, clock, _ := newTestSimulator(newFakeGateway(bhilai), &recordingPublisher{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitForSleep(t, clock)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunCycleReturnsContextError(t *testing.T) {
	s, _, _ := newTestSimulator(newFakeGateway(bhilai), &recordingPublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.RunCycle(ctx), context.Canceled)
}

func TestStatusIsSafeDuringRun(t *testing.T) {
	s, clock, _ := newTestSimulator(newFakeGateway(bhilai, rourkela), &recordingPublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				st := s.Status()
				assert.True(t, st.State.Valid())
			}
		}
	}()
	driveCycle(t, ctx, s, clock)
	close(stop)
	wg.Wait()
	assert.Equal(t, "drone-test", s.Status().DroneID)
}
