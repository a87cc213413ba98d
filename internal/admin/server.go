package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aerosense-sim/internal/broadcast"
	"aerosense-sim/internal/store"
	"aerosense-sim/internal/telemetry"
)

const (
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 1000
	recentViolationsLimit = 100
)

// Store is the part of the persistence gateway the query surface reads and administers.
type Store interface {
	ListSites(ctx context.Context) ([]telemetry.Site, error)
	Site(id int64) (telemetry.Site, bool)
	AddSite(site telemetry.Site) (telemetry.Site, error)
	RemoveSite(id int64) error
	LookupThresholds(ctx context.Context, category string) (telemetry.ThresholdSet, bool, error)
	PutThresholds(t telemetry.ThresholdSet) error
	LatestReading(siteID int64) (telemetry.Reading, bool)
	History(siteID int64, limit int) []telemetry.Reading
	Stats(siteID int64) store.SiteStats
}

// Drone reports the simulator status.
type Drone interface {
	Status() telemetry.Status
}

// Options wire the server to the rest of the process. Hub and Feed are optional.
type Options struct {
	Store   Store
	Drone   Drone
	Hub     *broadcast.Hub
	Feed    http.Handler
	Metrics http.Handler
}

// Server exposes the read API over sites and readings, catalog administration,
// the live websocket feed, health and metrics.
type Server struct {
	httpServer *http.Server
	store      Store
	drone      Drone
	hub        *broadcast.Hub
	logger     *slog.Logger
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(addr string, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		store:  opts.Store,
		drone:  opts.Drone,
		hub:    opts.Hub,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/sites", s.handleListSites)
	mux.HandleFunc("POST /api/sites", s.handleAddSite)
	mux.HandleFunc("GET /api/sites/{id}", s.handleGetSite)
	mux.HandleFunc("DELETE /api/sites/{id}", s.handleRemoveSite)
	mux.HandleFunc("GET /api/sites/{id}/exceedances", s.handleExceedances)
	mux.HandleFunc("GET /api/live/{id}", s.handleLive)
	mux.HandleFunc("GET /api/history/{id}", s.handleHistory)
	mux.HandleFunc("GET /api/violations", s.handleViolations)
	mux.HandleFunc("GET /api/safe-limits/{category}", s.handleGetLimits)
	mux.HandleFunc("PUT /api/safe-limits/{category}", s.handlePutLimits)
	mux.HandleFunc("GET /api/feed/stats", s.handleFeedStats)
	if opts.Feed != nil {
		mux.Handle("GET /ws", opts.Feed)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metrics)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// siteSummary is one row of the site listing.
type siteSummary struct {
	telemetry.Site
	ComplianceScore *float64   `json:"compliance_score"`
	ViolationsCount int        `json:"violations_count"`
	ReadingsCount   int        `json:"readings_count"`
	LastReadingAt   *time.Time `json:"last_reading_at"`
}

type siteDetail struct {
	telemetry.Site
	Limits *telemetry.ThresholdSet `json:"limits"`
	Latest *telemetry.Reading      `json:"latest"`
}

type liveReading struct {
	telemetry.Reading
	Limits          *telemetry.ThresholdSet `json:"limits"`
	ComplianceScore *float64                `json:"compliance_score"`
}

type violationRow struct {
	telemetry.Reading
	SiteName     string                  `json:"industry_name"`
	SiteCategory string                  `json:"industry_type"`
	Limits       *telemetry.ThresholdSet `json:"limits"`
}

type exceedanceReport struct {
	SiteID      int64                  `json:"industry_id"`
	ReadingID   string                 `json:"reading_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Exceedances []telemetry.Exceedance `json:"exceedances"`
}

type feedStats struct {
	Published   uint64                     `json:"published"`
	Subscribers map[string]broadcast.Stats `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.drone == nil {
		writeError(w, http.StatusServiceUnavailable, "drone not running")
		return
	}
	writeJSON(w, http.StatusOK, s.drone.Status())
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		s.internalError(w, "list sites", err)
		return
	}
	out := make([]siteSummary, 0, len(sites))
	for _, site := range sites {
		stats := s.store.Stats(site.ID)
		row := siteSummary{Site: site, ViolationsCount: stats.Violations, ReadingsCount: stats.Readings}
		if latest, ok := s.store.LatestReading(site.ID); ok {
			ts := latest.Timestamp
			row.LastReadingAt = &ts
			if limits := s.limitsFor(r.Context(), site.Category); limits != nil {
				if score, ok := telemetry.ComplianceScore(&latest.Body, limits); ok {
					row.ComplianceScore = &score
				}
			}
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, ok := s.siteFromPath(w, r)
	if !ok {
		return
	}
	detail := siteDetail{Site: site, Limits: s.limitsFor(r.Context(), site.Category)}
	if latest, ok := s.store.LatestReading(site.ID); ok {
		detail.Latest = &latest
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleAddSite(w http.ResponseWriter, r *http.Request) {
	var site telemetry.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		writeError(w, http.StatusBadRequest, "invalid site: "+err.Error())
		return
	}
	created, err := s.store.AddSite(site)
	switch {
	case errors.Is(err, store.ErrInvalidSite):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrSiteExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.internalError(w, "add site", err)
		return
	}
	s.logger.Info("site added", "site_id", created.ID, "name", created.Name)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleRemoveSite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.RemoveSite(id); err != nil {
		if errors.Is(err, store.ErrUnknownSite) {
			writeError(w, http.StatusNotFound, "site not found")
			return
		}
		s.internalError(w, "remove site", err)
		return
	}
	s.logger.Info("site removed", "site_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	site, ok := s.siteFromPath(w, r)
	if !ok {
		return
	}
	latest, ok := s.store.LatestReading(site.ID)
	if !ok {
		writeError(w, http.StatusNotFound, "no readings yet")
		return
	}
	out := liveReading{Reading: latest, Limits: s.limitsFor(r.Context(), site.Category)}
	if out.Limits != nil {
		if score, ok := telemetry.ComplianceScore(&latest.Body, out.Limits); ok {
			out.ComplianceScore = &score
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	writeJSON(w, http.StatusOK, s.store.History(id, limit))
}

func (s *Server) handleExceedances(w http.ResponseWriter, r *http.Request) {
	site, ok := s.siteFromPath(w, r)
	if !ok {
		return
	}
	latest, ok := s.store.LatestReading(site.ID)
	if !ok {
		writeError(w, http.StatusNotFound, "no readings yet")
		return
	}
	limits := s.limitsFor(r.Context(), site.Category)
	if limits == nil {
		writeError(w, http.StatusNotFound, "no safe limits for "+site.Category)
		return
	}
	report := exceedanceReport{
		SiteID:      site.ID,
		ReadingID:   latest.ID,
		Timestamp:   latest.Timestamp,
		Exceedances: telemetry.Exceedances(latest.Body, *limits),
	}
	if report.Exceedances == nil {
		report.Exceedances = []telemetry.Exceedance{}
	}
	writeJSON(w, http.StatusOK, report)
}

// handleViolations returns the most recent violating readings across all sites, newest first.
func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		s.internalError(w, "list sites", err)
		return
	}
	rows := []violationRow{}
	for _, site := range sites {
		limits := s.limitsFor(r.Context(), site.Category)
		for _, reading := range s.store.History(site.ID, 0) {
			if reading.Violation {
				rows = append(rows, violationRow{Reading: reading, SiteName: site.Name, SiteCategory: site.Category, Limits: limits})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })
	if len(rows) > recentViolationsLimit {
		rows = rows[:recentViolationsLimit]
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	limits := s.limitsFor(r.Context(), r.PathValue("category"))
	if limits == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

func (s *Server) handlePutLimits(w http.ResponseWriter, r *http.Request) {
	var t telemetry.ThresholdSet
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid thresholds: "+err.Error())
		return
	}
	t.Category = r.PathValue("category")
	for _, v := range []float64{t.PM25, t.PM10, t.NO2, t.SO2, t.CO2} {
		if v <= 0 {
			writeError(w, http.StatusBadRequest, "every threshold must be positive")
			return
		}
	}
	if err := s.store.PutThresholds(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("safe limits updated", "category", t.Category)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleFeedStats(w http.ResponseWriter, _ *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed disabled")
		return
	}
	out := feedStats{Published: s.hub.Published(), Subscribers: map[string]broadcast.Stats{}}
	for _, id := range s.hub.Subscribers() {
		if st, err := s.hub.Stats(id); err == nil {
			out.Subscribers[id] = st
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) limitsFor(ctx context.Context, category string) *telemetry.ThresholdSet {
	limits, ok, err := s.store.LookupThresholds(ctx, category)
	if err != nil || !ok {
		return nil
	}
	return &limits
}

func (s *Server) siteFromPath(w http.ResponseWriter, r *http.Request) (telemetry.Site, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return telemetry.Site{}, false
	}
	site, ok := s.store.Site(id)
	if !ok {
		writeError(w, http.StatusNotFound, "site not found")
		return telemetry.Site{}, false
	}
	return site, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
