// Package web serves the selection UI and the conversion API.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"unmcal/internal/config"
	"unmcal/internal/convert"
	"unmcal/internal/fetch"
	"unmcal/internal/ics"
	appLog "unmcal/internal/log"
	"unmcal/internal/model"
	"unmcal/internal/schedule"
	"unmcal/internal/timetable"
)

// sessionsCacheTTL bounds how long a parsed timetable is reused for the
// selection UI before the page is refetched.
const sessionsCacheTTL = 60 * time.Second

// Server provides the HTTP API (/api/sessions, /api/calendar) plus the
// embedded single-page UI.
type Server struct {
	cfg       *config.Config
	converter *convert.Converter
	mux       *http.ServeMux

	// In-memory cache of parsed sessions keyed by page URL, so that
	// toggling checkboxes does not refetch the timetabling site.
	sessionsMu    sync.RWMutex
	sessionsCache map[string]*sessionsCacheEntry
}

type sessionsCacheEntry struct {
	resp      sessionsResponse
	updatedAt time.Time
}

// embeddedStatic contains the selection UI (plain HTML + a little JS).
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, converter *convert.Converter) *Server {
	s := &Server{
		cfg:           cfg,
		converter:     converter,
		mux:           http.NewServeMux(),
		sessionsCache: make(map[string]*sessionsCacheEntry),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/calendar", s.handleCalendar)
	s.mux.Handle("/", s.staticFileServer())
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

// Run serves until ctx is canceled, then shuts down gracefully. A daily cron
// job purges stale fetch-cache entries while the server is up.
func (s *Server) Run(ctx context.Context) error {
	janitor := cron.New()
	maxAge := time.Duration(s.cfg.CacheMaxAgeDays) * 24 * time.Hour
	_, err := janitor.AddFunc("@daily", func() {
		if swept := s.sweepSessionsCache(time.Now()); swept > 0 {
			appLog.Debug("session cache swept", "removed", swept)
		}
		removed, err := s.converter.Fetcher().PurgeOlderThan(maxAge)
		if err != nil {
			appLog.Error("cache janitor failed", err)
			return
		}
		if removed > 0 {
			appLog.Info("cache janitor purged entries", "removed", removed)
		}
	})
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

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
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
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
			w.Header().Set("WWW-Authenticate", `Basic realm="unmcal", charset="UTF-8"`)
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

// sweepSessionsCache drops expired parse-cache entries. Entries are keyed by
// page URL, so without the sweep the map would grow with every distinct URL
// for the life of the server.
func (s *Server) sweepSessionsCache(now time.Time) int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	removed := 0
	for key, entry := range s.sessionsCache {
		if now.Sub(entry.updatedAt) >= sessionsCacheTTL {
			delete(s.sessionsCache, key)
			removed++
		}
	}
	return removed
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// sessionDTO is a JSON-friendly view of one parsed session.
type sessionDTO struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Summary  string `json:"summary"`
	Type     string `json:"type"`
	Day      string `json:"day"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location"`
	Staff    string `json:"staff"`
	Weeks    []int  `json:"weeks"`
}

type sessionsResponse struct {
	Sessions []sessionDTO `json:"sessions"`
}

// handleSessions parses the timetable behind ?url= and returns the sessions
// the student can tick on or off.
//
// GET /api/sessions?url=...&rendered=1
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	rendered := r.URL.Query().Get("rendered") == "1"
	cacheKey := pageURL
	if rendered {
		cacheKey = "rendered:" + pageURL
	}

	now := time.Now()
	s.sessionsMu.RLock()
	entry := s.sessionsCache[cacheKey]
	s.sessionsMu.RUnlock()
	if entry != nil && now.Sub(entry.updatedAt) < sessionsCacheTTL {
		writeJSON(w, http.StatusOK, entry.resp)
		return
	}

	records, err := s.converter.Sessions(r.Context(), pageURL, rendered)
	if err != nil {
		status, msg := statusForError(err)
		appLog.Error("api sessions failed", err, "url", fetch.RedactURL(pageURL), "status", status)
		writeError(w, status, msg)
		return
	}

	resp := sessionsResponse{Sessions: make([]sessionDTO, 0, len(records))}
	for _, rec := range records {
		resp.Sessions = append(resp.Sessions, toSessionDTO(rec))
	}

	s.sessionsMu.Lock()
	s.sessionsCache[cacheKey] = &sessionsCacheEntry{resp: resp, updatedAt: time.Now()}
	s.sessionsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// calendarRequest is the JSON body of POST /api/calendar.
type calendarRequest struct {
	URL      string   `json:"url"`
	Start    string   `json:"start"`
	Exclude  []string `json:"exclude"`
	Rendered bool     `json:"rendered"`
}

// handleCalendar runs the full conversion and streams back the .ics file.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req calendarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	data, err := s.converter.Calendar(r.Context(), convert.Request{
		URL:      req.URL,
		Anchor:   req.Start,
		Exclude:  req.Exclude,
		Rendered: req.Rendered,
	})
	if err != nil {
		status, msg := statusForError(err)
		appLog.Error("api calendar failed", err, "url", fetch.RedactURL(req.URL), "status", status)
		writeError(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="timetable.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// statusForError maps pipeline errors onto HTTP statuses and user-facing
// messages. Every failure becomes a message the student can act on; none
// escape as a 500 stack trace.
func statusForError(err error) (int, string) {
	var parseErr *timetable.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusUnprocessableEntity, parseErr.UserMessage()
	}

	var resErr *schedule.ResolutionError
	if errors.As(err, &resErr) {
		return http.StatusBadRequest, resErr.Msg + ". Pick the Monday of week 1 as the start date."
	}

	var genErr *ics.GenerationError
	if errors.As(err, &genErr) {
		return http.StatusUnprocessableEntity, "No sessions selected. Tick at least one class to generate a calendar."
	}

	var urlErr *fetch.URLError
	if errors.As(err, &urlErr) {
		return http.StatusBadRequest, "Please make sure the timetable is in list view and the URL is from the timetabling site."
	}

	return http.StatusBadGateway, "The timetable page could not be fetched. Try again in a moment."
}

func toSessionDTO(rec model.SessionRecord) sessionDTO {
	return sessionDTO{
		Key:      rec.Key(),
		Label:    rec.Label(),
		Summary:  rec.Summary(),
		Type:     rec.Type,
		Day:      rec.Day.String(),
		Start:    clock(rec.StartMinute),
		End:      clock(rec.EndMinute),
		Location: rec.Location,
		Staff:    rec.Staff,
		Weeks:    rec.Weeks,
	}
}

func clock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// staticFileServer serves the embedded UI for all non-API paths.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// API paths must 404 from the mux, never fall back to HTML.
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
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
