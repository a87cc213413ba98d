// In-memory persistence gateway: site catalog, thresholds and bounded reading history
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"aerosense-sim/internal/telemetry"
)

var (
	ErrUnknownSite = errors.New("store: unknown site")
	ErrSiteExists  = errors.New("store: site already exists")
	ErrInvalidSite = errors.New("store: invalid site")
)

// DefaultRetention is the number of readings kept per site when Options.Retention is not set.
const DefaultRetention = 1000

// timestampResolution is the granularity of stored timestamps; it matches the
// millisecond time index of the durable sinks.
const timestampResolution = time.Millisecond

// Mirror receives every reading before it is committed. A mirror error aborts the save.
type Mirror interface {
	Write(ctx context.Context, r telemetry.Reading) error
}

// Options configure a MemoryStore.
type Options struct {
	Clock     clockwork.Clock
	Retention int
	Mirror    Mirror
}

// MemoryStore keeps the catalog and recent readings in memory, optionally
// mirroring each reading to a durable sink.
type MemoryStore struct {
	mu         sync.RWMutex
	clock      clockwork.Clock
	retention  int
	mirror     Mirror
	sites      map[int64]telemetry.Site
	thresholds map[string]telemetry.ThresholdSet
	readings   map[int64][]telemetry.Reading
	counts     map[int64]*siteCounts
	lastTS     map[int64]time.Time
	nextID     int64
}

type siteCounts struct {
	total      int
	violations int
	lastAt     time.Time
}

// New creates an empty store.
func New(opts Options) *MemoryStore {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &MemoryStore{
		clock:      opts.Clock,
		retention:  opts.Retention,
		mirror:     opts.Mirror,
		sites:      make(map[int64]telemetry.Site),
		thresholds: make(map[string]telemetry.ThresholdSet),
		readings:   make(map[int64][]telemetry.Reading),
		counts:     make(map[int64]*siteCounts),
		lastTS:     make(map[int64]time.Time),
		nextID:     1,
	}
}

// Seed loads a catalog. Existing entries with the same id or category are replaced.
func (s *MemoryStore) Seed(sites []telemetry.Site, thresholds []telemetry.ThresholdSet) error {
	for _, t := range thresholds {
		if err := s.PutThresholds(t); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, site := range sites {
		if site.ID <= 0 || site.Name == "" || site.Category == "" {
			return fmt.Errorf("%w: seed entry %+v", ErrInvalidSite, site)
		}
		s.sites[site.ID] = site
		if site.ID >= s.nextID {
			s.nextID = site.ID + 1
		}
	}
	return nil
}

// AddSite registers a site. A zero id is replaced by the next free id;
// negative ids are rejected.
func (s *MemoryStore) AddSite(site telemetry.Site) (telemetry.Site, error) {
	if site.Name == "" || site.Category == "" {
		return telemetry.Site{}, fmt.Errorf("%w: name and category are required", ErrInvalidSite)
	}
	if site.ID < 0 {
		return telemetry.Site{}, fmt.Errorf("%w: id %d is negative", ErrInvalidSite, site.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if site.ID == 0 {
		site.ID = s.nextID
	}
	if _, exists := s.sites[site.ID]; exists {
		return telemetry.Site{}, fmt.Errorf("%w: id %d", ErrSiteExists, site.ID)
	}
	s.sites[site.ID] = site
	if site.ID >= s.nextID {
		s.nextID = site.ID + 1
	}
	return site, nil
}

// RemoveSite deletes a site together with its readings.
func (s *MemoryStore) RemoveSite(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sites[id]; !exists {
		return ErrUnknownSite
	}
	delete(s.sites, id)
	delete(s.readings, id)
	delete(s.counts, id)
	delete(s.lastTS, id)
	return nil
}

// PutThresholds creates or replaces the threshold set of a category.
func (s *MemoryStore) PutThresholds(t telemetry.ThresholdSet) error {
	if t.Category == "" {
		return errors.New("store: threshold category is required")
	}
	s.mu.Lock()
	s.thresholds[t.Category] = t
	s.mu.Unlock()
	return nil
}

// ListSites returns the catalog ordered by id.
func (s *MemoryStore) ListSites(ctx context.Context) ([]telemetry.Site, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Site returns one catalog entry.
func (s *MemoryStore) Site(id int64) (telemetry.Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	return site, ok
}

// LookupThresholds returns the threshold set of a category; ok is false when none exists.
func (s *MemoryStore) LookupThresholds(ctx context.Context, category string) (telemetry.ThresholdSet, bool, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.ThresholdSet{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.thresholds[category]
	return t, ok, nil
}

// SaveReading assigns an id and timestamp, writes the reading to the mirror and
// commits it. Timestamps are strictly increasing per site.
func (s *MemoryStore) SaveReading(ctx context.Context, r telemetry.Reading) (telemetry.Reading, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Reading{}, err
	}

	s.mu.Lock()
	if _, exists := s.sites[r.SiteID]; !exists {
		s.mu.Unlock()
		return telemetry.Reading{}, fmt.Errorf("save reading for site %d: %w", r.SiteID, ErrUnknownSite)
	}
	ts := s.clock.Now().UTC().Truncate(timestampResolution)
	if last := s.lastTS[r.SiteID]; !ts.After(last) {
		ts = last.Add(timestampResolution)
	}
	s.lastTS[r.SiteID] = ts
	s.mu.Unlock()

	r.ID = uuid.NewString()
	r.Timestamp = ts

	if s.mirror != nil {
		if err := s.mirror.Write(ctx, r); err != nil {
			return telemetry.Reading{}, fmt.Errorf("mirror reading: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sites[r.SiteID]; !exists {
		return telemetry.Reading{}, fmt.Errorf("save reading for site %d: %w", r.SiteID, ErrUnknownSite)
	}
	hist := append(s.readings[r.SiteID], r)
	if over := len(hist) - s.retention; over > 0 {
		hist = append(hist[:0:0], hist[over:]...)
	}
	s.readings[r.SiteID] = hist

	c := s.counts[r.SiteID]
	if c == nil {
		c = &siteCounts{}
		s.counts[r.SiteID] = c
	}
	c.total++
	if r.Violation {
		c.violations++
	}
	c.lastAt = r.Timestamp
	return r, nil
}

// LatestReading returns the most recent reading of a site.
func (s *MemoryStore) LatestReading(siteID int64) (telemetry.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.readings[siteID]
	if len(hist) == 0 {
		return telemetry.Reading{}, false
	}
	return hist[len(hist)-1], true
}

// History returns up to limit of the most recent readings of a site, oldest
// first. A non-positive limit returns everything retained.
func (s *MemoryStore) History(siteID int64, limit int) []telemetry.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.readings[siteID]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]telemetry.Reading, len(hist))
	copy(out, hist)
	return out
}

// SiteStats summarizes everything saved for a site since it was added.
type SiteStats struct {
	Readings      int
	Violations    int
	LastReadingAt time.Time
}

// Stats returns the counters of a site. Counters cover all saved readings, not
// only the retained ones.
func (s *MemoryStore) Stats(siteID int64) SiteStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.counts[siteID]
	if c == nil {
		return SiteStats{}
	}
	return SiteStats{Readings: c.total, Violations: c.violations, LastReadingAt: c.lastAt}
}

// ViolationCount returns how many saved readings of a site were violations.
func (s *MemoryStore) ViolationCount(siteID int64) int {
	return s.Stats(siteID).Violations
}
