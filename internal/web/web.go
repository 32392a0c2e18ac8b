// Package web serves the current catalog session over HTTP: the filtered
// catalog as JSON, preference toggling, an iCalendar feed and metrics.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"eventscope/internal/catalog"
	"eventscope/internal/config"
	"eventscope/internal/ics"
	appLog "eventscope/internal/log"
	"eventscope/internal/model"
	"eventscope/internal/prefs"
	"eventscope/internal/provider"
)

// Server provides the HTTP API for one live catalog session. The session
// can be swapped while serving (see SetSession).
type Server struct {
	cfg     *config.Config
	loc     *time.Location
	mux     *http.ServeMux
	metrics http.Handler

	session atomic.Pointer[provider.Provider]
}

// NewServer constructs a new Server. metrics may be nil, in which case
// /metrics is not registered.
func NewServer(cfg *config.Config, metrics http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		loc:     resolveLocationOrLocal(cfg.Timezone),
		mux:     http.NewServeMux(),
		metrics: metrics,
	}
	s.registerRoutes()
	return s
}

// SetSession makes p the session served from now on and returns the one it
// replaced, which the caller is responsible for closing.
func (s *Server) SetSession(p *provider.Provider) *provider.Provider {
	return s.session.Swap(p)
}

// Session returns the session currently served.
func (s *Server) Session() *provider.Provider {
	return s.session.Load()
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="eventscope", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/categories", s.handleCategories)
	s.mux.HandleFunc("GET /api/featured", s.handleFeatured)
	s.mux.HandleFunc("GET /api/agenda", s.handleAgenda)
	s.mux.HandleFunc("GET /api/preferences", s.handlePreferences)
	s.mux.HandleFunc("POST /api/preferences/toggle", s.handleToggle)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// catalogResponse is the JSON response shape for /api/catalog.
type catalogResponse struct {
	SessionID        string                 `json:"session_id"`
	State            string                 `json:"state"`
	Source           string                 `json:"source,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Error            string                 `json:"error,omitempty"`
	APIInfo          *model.APIInfo         `json:"api_info,omitempty"`
	Statistics       *model.Statistics      `json:"statistics,omitempty"`
	CategoryCounts   map[model.Category]int `json:"category_counts,omitempty"`
	TotalEvents      int                    `json:"total_events"`
	CountsConsistent bool                   `json:"counts_consistent"`
}

// handleCatalog reports the session state and catalog metadata. It answers
// in every state so clients can poll it while loading.
func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	p := s.Session()
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "no session")
		return
	}
	resp := catalogResponse{
		SessionID: p.SessionID(),
		State:     p.State().String(),
		Source:    string(p.Source()),
		Message:   p.Message(),
	}
	if err := p.Err(); err != nil {
		resp.Error = err.Error()
	}
	if snap := p.Snapshot(); snap != nil {
		info := snap.APIInfo
		resp.APIInfo = &info
		resp.Statistics = snap.Statistics
		resp.CategoryCounts = snap.CategoryCounts
		resp.TotalEvents = snap.TotalEvents()
		resp.CountsConsistent = snap.CountsConsistent()
	}
	writeJSON(w, http.StatusOK, resp)
}

// readySession returns the current session if it is Ready; otherwise it
// writes the appropriate error response and returns nil.
func (s *Server) readySession(w http.ResponseWriter) *provider.Provider {
	p := s.Session()
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "no session")
		return nil
	}
	switch p.State() {
	case provider.StateReady:
		return p
	case provider.StateFailed:
		writeError(w, http.StatusBadGateway, provider.MessageFailed)
	default:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "catalog is loading")
	}
	return nil
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	PreferredCategories []model.Category                 `json:"preferred_categories"`
	CategoryGroups      map[model.Category][]model.Event `json:"category_groups"`
	TotalEvents         int                              `json:"total_events"`
}

// handleEvents returns the catalog filtered by the current preferences.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	p := s.readySession(w)
	if p == nil {
		return
	}
	groups := p.Filtered()
	total := 0
	for _, evs := range groups {
		total += len(evs)
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		PreferredCategories: p.Preferences().PreferredCategories,
		CategoryGroups:      groups,
		TotalEvents:         total,
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	p := s.readySession(w)
	if p == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": p.Categories()})
}

// handleFeatured samples one event from each of the first n categories.
//
// GET /api/featured?n=4
func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	p := s.readySession(w)
	if p == nil {
		return
	}
	n := parseIntDefault(r.URL.Query().Get("n"), s.cfg.FeaturedCount)
	if n <= 0 {
		n = s.cfg.FeaturedCount
	}
	featured := catalog.Featured(p.Snapshot(), n, nil)
	if featured == nil {
		featured = []catalog.FeaturedEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"featured": featured})
}

// agendaResponse is the JSON response shape for /api/agenda.
type agendaResponse struct {
	Occurrences     []ics.Occurrence `json:"occurrences"`
	Undated         []string         `json:"undated,omitempty"`
	TruncatedEvents []string         `json:"truncated_events,omitempty"`
	RangeStart      time.Time        `json:"range_start"`
	RangeEnd        time.Time        `json:"range_end"`
	DisplayTimeZone string           `json:"display_timezone"`
}

// handleAgenda returns the filtered events expanded day by day.
//
// GET /api/agenda?days=14&backfill=0
//   - days:     how many days ahead to include (default: agenda_days)
//   - backfill: how many past days to include (default 0)
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	p := s.readySession(w)
	if p == nil {
		return
	}
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), s.cfg.AgendaDays)
	if days <= 0 {
		days = s.cfg.AgendaDays
	}
	backfill := parseIntDefault(q.Get("backfill"), 0)
	if backfill < 0 {
		backfill = 0
	}

	now := time.Now().In(s.loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	res, err := ics.ExpandOccurrences(p.Filtered(), ics.ExpandConfig{
		DisplayLocation: s.loc,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		Reference:       ics.ReferenceTime(p.Snapshot(), now, s.loc),
	})
	if err != nil {
		appLog.Error("api agenda: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}
	occ := res.Occurrences
	if occ == nil {
		occ = []ics.Occurrence{}
	}
	writeJSON(w, http.StatusOK, agendaResponse{
		Occurrences:     occ,
		Undated:         res.Undated,
		TruncatedEvents: res.TruncatedEvents,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: s.loc.String(),
	})
}

type preferencesResponse struct {
	PreferredCategories []model.Category `json:"preferred_categories"`
	Warning             string           `json:"warning,omitempty"`
}

func (s *Server) handlePreferences(w http.ResponseWriter, _ *http.Request) {
	p := s.Session()
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "no session")
		return
	}
	writeJSON(w, http.StatusOK, preferencesResponse{PreferredCategories: p.Preferences().PreferredCategories})
}

// handleToggle flips one category. The body is {"category": "food"}; a
// "category" query parameter is accepted as well. A failed save still
// applies the toggle for this session and is reported as a warning.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	p := s.Session()
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "no session")
		return
	}

	raw := r.URL.Query().Get("category")
	if raw == "" && r.Body != nil {
		var body struct {
			Category string `json:"category"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		raw = body.Category
	}
	c, err := model.ParseCategory(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	next, err := p.Toggle(r.Context(), c)
	resp := preferencesResponse{PreferredCategories: next.PreferredCategories}
	switch {
	case err == nil:
	case errors.Is(err, prefs.ErrSaveFailed):
		resp.Warning = "preferences could not be saved; the change applies to this session only"
	case errors.Is(err, provider.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "session is shutting down")
		return
	default:
		appLog.Error("api toggle failed", err, "category", string(c))
		writeError(w, http.StatusInternalServerError, "toggle failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCalendar exports the filtered catalog as an iCalendar feed.
func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	p := s.readySession(w)
	if p == nil {
		return
	}
	now := time.Now()
	cal, skipped := ics.BuildCalendar(p.Filtered(), ics.ExportConfig{
		Name:      ics.CalendarName(p.Snapshot()),
		Location:  s.loc,
		Reference: ics.ReferenceTime(p.Snapshot(), now, s.loc),
		Now:       now,
	})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="eventscope.ics"`)
	w.Header().Set("X-Undated-Events", strconv.Itoa(skipped))
	if err := cal.SerializeTo(w); err != nil {
		appLog.Error("failed to write calendar", err)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
