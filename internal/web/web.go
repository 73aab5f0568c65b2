package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sabs90/halaqas/internal/catalog"
	"github.com/sabs90/halaqas/internal/config"
	"github.com/sabs90/halaqas/internal/dedup"
	"github.com/sabs90/halaqas/internal/feeds"
	"github.com/sabs90/halaqas/internal/ics"
	appLog "github.com/sabs90/halaqas/internal/log"
	"github.com/sabs90/halaqas/internal/metrics"
	"github.com/sabs90/halaqas/internal/model"
	"github.com/sabs90/halaqas/internal/prayer"
	"github.com/sabs90/halaqas/internal/resolve"
)

// Server serves calendar feeds and the JSON API over the directory.
type Server struct {
	cfg      *config.Config
	feeds    *feeds.Service
	resolver *resolve.Resolver
	metrics  *metrics.Metrics
	router   chi.Router

	// Rendered mosque feeds, keyed by mosque ID. Calendar clients poll
	// often and the output only changes when the catalog or the day does.
	feedMu    sync.RWMutex
	feedCache map[string]feedCache
}

type feedCache struct {
	feed      feeds.Feed
	day       model.Date
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *feeds.Service, res *resolve.Resolver, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		feeds:     svc,
		resolver:  res,
		metrics:   m,
		router:    chi.NewRouter(),
		feedCache: make(map[string]feedCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards the routes it wraps. Feeds stay public so
// calendar apps can subscribe without credentials.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Halaqas", charset="UTF-8"`)
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

// requestLogger logs each request through the application logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// StartServer serves s on listen until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, s *Server, listen string) error {
	srv := newHTTPServer(s, listen)

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	// Calendar subscription endpoints.
	r.Get("/mosques/{id}/calendar.ics", s.handleMosqueFeed)
	r.Get("/events/{id}/calendar.ics", s.handleEventFeed)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled for /metrics and /api")
			r.Use(s.basicAuthMiddleware)
		}
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Get("/mosques", s.handleMosques)
			r.Get("/mosques/{id}/upcoming", s.handleUpcoming)
			r.Get("/events", s.handleEvents)
			r.Get("/events/{id}/next", s.handleNext)
			r.Post("/events/duplicates", s.handleDuplicates)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// mosqueFeed returns the rendered feed for a mosque, from cache while it
// is fresh and the civil day has not changed.
func (s *Server) mosqueFeed(ctx context.Context, id string) (feeds.Feed, error) {
	ttl := s.cfg.FeedCacheTTL()
	today := s.feeds.Today()

	s.feedMu.RLock()
	fc, ok := s.feedCache[id]
	s.feedMu.RUnlock()
	if ok && fc.day == today && time.Since(fc.updatedAt) < ttl {
		return fc.feed, nil
	}

	feed, err := s.feeds.MosqueFeed(ctx, id)
	if err != nil {
		return feeds.Feed{}, err
	}
	if ttl > 0 {
		s.feedMu.Lock()
		s.feedCache[id] = feedCache{feed: feed, day: today, updatedAt: time.Now()}
		s.feedMu.Unlock()
	}
	return feed, nil
}

// InvalidateFeeds drops every cached feed, e.g. after a catalog reload.
func (s *Server) InvalidateFeeds() {
	s.feedMu.Lock()
	clear(s.feedCache)
	s.feedMu.Unlock()
}

// GET /mosques/{id}/calendar.ics
func (s *Server) handleMosqueFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.mosqueFeed(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "mosque not found")
		return
	}
	if err != nil {
		appLog.Error("mosque feed failed", err, "id", chi.URLParam(r, "id"))
		writeError(w, http.StatusInternalServerError, "failed to generate feed")
		return
	}
	writeCalendar(w, feed.Mosque.Name, feed.Body)
}

// GET /events/{id}/calendar.ics
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	ev, body, err := s.feeds.EventFeed(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
		return
	case errors.Is(err, resolve.ErrInsufficientTimeData):
		writeError(w, http.StatusUnprocessableEntity, "event has no usable time")
		return
	case err != nil:
		appLog.Error("event feed failed", err, "id", chi.URLParam(r, "id"))
		writeError(w, http.StatusInternalServerError, "failed to generate feed")
		return
	}
	writeCalendar(w, ev.Title, body)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// attachmentName turns a display name into a download filename.
func attachmentName(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_") + ".ics"
}

func writeCalendar(w http.ResponseWriter, name, body string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+attachmentName(name)+`"`)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type mosqueDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Address     string  `json:"address,omitempty"`
	Suburb      string  `json:"suburb,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	CalendarURL string  `json:"calendar_url"`
}

// GET /api/mosques
func (s *Server) handleMosques(w http.ResponseWriter, _ *http.Request) {
	mosques := s.feeds.Store.Current().Mosques()
	out := make([]mosqueDTO, 0, len(mosques))
	for _, m := range mosques {
		out = append(out, mosqueDTO{
			ID:          m.ID,
			Name:        m.Name,
			Address:     m.Address,
			Suburb:      m.Suburb,
			Latitude:    m.Latitude,
			Longitude:   m.Longitude,
			CalendarURL: "/mosques/" + m.ID + "/calendar.ics",
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// eventDTO is the JSON view of a directory listing.
type eventDTO struct {
	ID                  string      `json:"id"`
	MosqueID            string      `json:"mosque_id,omitempty"`
	Title               string      `json:"title"`
	Description         string      `json:"description,omitempty"`
	Speaker             string      `json:"speaker,omitempty"`
	EventType           string      `json:"event_type,omitempty"`
	Language            string      `json:"language,omitempty"`
	Gender              string      `json:"gender,omitempty"`
	Location            string      `json:"location,omitempty"`
	FixedDate           *model.Date `json:"fixed_date,omitempty"`
	FixedTime           string      `json:"fixed_time,omitempty"`
	PrayerAnchor        string      `json:"prayer_anchor,omitempty"`
	PrayerOffsetMinutes int         `json:"prayer_offset_minutes,omitempty"`
	IsRecurring         bool        `json:"is_recurring"`
	RecurrencePattern   string      `json:"recurrence_pattern,omitempty"`
	RecurrenceEndDate   *model.Date `json:"recurrence_end_date,omitempty"`
	Stale               bool        `json:"stale"`
}

func toEventDTO(ev model.Event, now time.Time) eventDTO {
	d := eventDTO{
		ID:                  ev.ID,
		MosqueID:            ev.MosqueID,
		Title:               ev.Title,
		Description:         ev.Description,
		Speaker:             ev.Speaker,
		EventType:           ev.EventType,
		Language:            ev.Language,
		Gender:              ev.Gender,
		Location:            ev.LocationName,
		FixedDate:           ev.FixedDate,
		PrayerAnchor:        string(ev.PrayerAnchor),
		PrayerOffsetMinutes: ev.PrayerOffsetMinutes,
		IsRecurring:         ev.IsRecurring,
		RecurrencePattern:   string(ev.RecurrencePattern),
		RecurrenceEndDate:   ev.RecurrenceEndDate,
		Stale:               ev.Stale(now),
	}
	if ev.FixedTime != nil {
		d.FixedTime = ev.FixedTime.String()
	}
	return d
}

// GET /api/events?type=&language=&gender=&mosque=&limit=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	events := s.feeds.Store.Current().List(catalog.Filter{
		EventType: q.Get("type"),
		Language:  q.Get("language"),
		Gender:    q.Get("gender"),
		MosqueID:  q.Get("mosque"),
		Limit:     limit,
	})

	now := time.Now()
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventDTO(ev, now))
	}
	writeJSON(w, http.StatusOK, out)
}

// nextResponse is the JSON shape for /api/events/{id}/next.
type nextResponse struct {
	EventID string     `json:"event_id"`
	Title   string     `json:"title"`
	AllDay  bool       `json:"all_day"`
	Date    string     `json:"date,omitempty"`
	Start   *time.Time `json:"start,omitempty"`
	End     *time.Time `json:"end,omitempty"`
	Label   string     `json:"label,omitempty"`
	Stale   bool       `json:"stale"`
}

// GET /api/events/{id}/next
//
// 410 Gone when the event has no further occurrences, 422 when it carries
// no usable time.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	ev, err := s.feeds.Store.Current().Event(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	today := s.feeds.Today()
	if resolve.Ended(ev.EventTimeSpec, today) {
		writeError(w, http.StatusGone, "event has ended")
		return
	}

	occ, err := s.resolver.Next(r.Context(), ev.EventTimeSpec, today)
	switch {
	case errors.Is(err, resolve.ErrNoUpcoming):
		writeError(w, http.StatusGone, "event has ended")
		return
	case errors.Is(err, resolve.ErrInsufficientTimeData):
		writeError(w, http.StatusUnprocessableEntity, "event has no usable time")
		return
	case err != nil:
		appLog.Error("next occurrence failed", err, "id", ev.ID)
		writeError(w, http.StatusInternalServerError, "failed to resolve event")
		return
	}

	resp := nextResponse{
		EventID: ev.ID,
		Title:   ev.Title,
		AllDay:  occ.AllDay,
		Stale:   ev.Stale(time.Now()),
	}
	if occ.AllDay {
		resp.Date = occ.Date.String()
	} else {
		start, end := occ.Start, occ.End
		resp.Start, resp.End = &start, &end
		if ev.PrayerAnchored() {
			resp.Label = prayer.Label(ev.PrayerAnchor, ev.PrayerOffsetMinutes, start, s.feeds.Location)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// upcomingResponse mirrors the feed as a calendar client would see it.
type upcomingResponse struct {
	MosqueID        string          `json:"mosque_id"`
	Occurrences     []occurrenceDTO `json:"occurrences"`
	TruncatedUIDs   []string        `json:"truncated_uids,omitempty"`
	Skipped         []string        `json:"skipped,omitempty"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
}

// occurrenceDTO is a JSON-friendly view of an expanded feed instance.
type occurrenceDTO struct {
	UID      string      `json:"uid"`
	Summary  string      `json:"summary"`
	Location string      `json:"location,omitempty"`
	URL      string      `json:"url,omitempty"`
	AllDay   bool        `json:"all_day"`
	Date     *model.Date `json:"date,omitempty"`
	Start    time.Time   `json:"start"`
	End      time.Time   `json:"end"`
}

// handleUpcoming reads a mosque's feed back and expands it over a window.
//
// GET /api/mosques/{id}/upcoming?days=14
//   - days: how far ahead to look (default 14, at most 366)
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	days := parseIntDefault(r.URL.Query().Get("days"), 14)
	if days <= 0 || days > 366 {
		days = 14
	}

	feed, err := s.mosqueFeed(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "mosque not found")
		return
	}
	if err != nil {
		appLog.Error("upcoming: feed failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to generate feed")
		return
	}

	loc := s.feeds.Location
	rangeStart := s.feeds.Today().Midnight(loc)
	rangeEnd := rangeStart.AddDate(0, 0, days)

	resp := upcomingResponse{
		MosqueID:        id,
		Occurrences:     []occurrenceDTO{},
		Skipped:         feed.Stats.Skipped,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	}
	if feed.Stats.Emitted == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	parsed, err := ics.ParseICS("mosque:"+id, []byte(feed.Body))
	if err != nil {
		appLog.Error("upcoming: parse failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to read feed")
		return
	}
	expanded, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
	})
	if err != nil {
		appLog.Error("upcoming: expand failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	for _, in := range expanded.Instances {
		dto := occurrenceDTO{
			UID:      in.UID,
			Summary:  in.Summary,
			Location: in.Location,
			URL:      in.URL,
			AllDay:   in.AllDay,
			Start:    in.Start,
			End:      in.End,
		}
		if in.AllDay {
			d := in.Date
			dto.Date = &d
		}
		resp.Occurrences = append(resp.Occurrences, dto)
	}
	resp.TruncatedUIDs = expanded.TruncatedEvents
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/events/duplicates
func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	var c dedup.Candidate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if c.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	matches := dedup.FindDuplicates(c, s.feeds.Store.Current().Events())
	now := time.Now()
	out := make([]eventDTO, 0, len(matches))
	for _, ev := range matches {
		out = append(out, toEventDTO(ev, now))
	}
	writeJSON(w, http.StatusOK, out)
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

// newHTTPServer routes net/http's own error output (TLS handshakes, bad
// requests, handler panics) through the application logger.
func newHTTPServer(s *Server, listen string) *http.Server {
	return &http.Server{
		Addr:         listen,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(appLog.Logger().Handler(), slog.LevelWarn),
	}
}
