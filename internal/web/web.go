package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"famcal/internal/config"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/schedule"
	"famcal/internal/travel"
)

// Backend is what the HTTP layer needs from the refresh service.
type Backend interface {
	Latest() (schedule.Result, bool)
	Refresh(ctx context.Context) (schedule.Result, error)
	TravelCandidates() []travel.Candidate
	Persons() []model.Person
}

// Server exposes the latest schedule over HTTP.
type Server struct {
	cfg     *config.Config
	backend Backend
	metrics http.Handler
	router  *mux.Router
}

// NewServer constructs a new Server. metricsHandler may be nil.
func NewServer(cfg *config.Config, backend Backend, metricsHandler http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
		metrics: metricsHandler,
		router:  mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
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
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/schedule", s.handleSchedule).Methods(http.MethodGet)
	s.router.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)
	s.router.HandleFunc("/api/travel", s.handleTravel).Methods(http.MethodGet)
	s.router.HandleFunc("/api/persons", s.handlePersons).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials count as disabled.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="famcal", charset="UTF-8"`)
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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// scheduleResponse is the JSON response shape for /api/schedule.
type scheduleResponse struct {
	Days        []model.DaySchedule `json:"days"`
	Errors      []feedErrorDTO      `json:"errors"`
	Advisory    string              `json:"advisory,omitempty"`
	Ready       bool                `json:"ready"`
	GeneratedAt time.Time           `json:"generated_at"`
}

type feedErrorDTO struct {
	PersonID      string `json:"person_id"`
	Stage         string `json:"stage"`
	Message       string `json:"message"`
	NotConfigured bool   `json:"not_configured"`
}

func toResponse(res schedule.Result, ready bool) scheduleResponse {
	errs := make([]feedErrorDTO, 0, len(res.Errors))
	for _, fe := range res.Errors {
		errs = append(errs, feedErrorDTO{
			PersonID:      fe.PersonID,
			Stage:         fe.Stage,
			Message:       fe.Err.Error(),
			NotConfigured: fe.NotConfigured(),
		})
	}
	return scheduleResponse{
		Days:        res.Days,
		Errors:      errs,
		Advisory:    res.Advisory(),
		Ready:       ready,
		GeneratedAt: res.GeneratedAt,
	}
}

// handleSchedule returns the seven-day schedule from the latest refresh.
//
// GET /api/schedule
func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	res, ready := s.backend.Latest()
	writeJSON(w, http.StatusOK, toResponse(res, ready))
}

// handleRefresh runs an on-demand refresh and returns its schedule.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, schedule.ErrNoFeeds) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res, true))
}

// handleTravel lists destination guesses from upcoming events.
//
// GET /api/travel
func (s *Server) handleTravel(w http.ResponseWriter, _ *http.Request) {
	candidates := s.backend.TravelCandidates()
	if candidates == nil {
		candidates = []travel.Candidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

type personDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Emoji          string `json:"emoji"`
	Configured     bool   `json:"configured"`
	TravelTimezone string `json:"travel_timezone,omitempty"`
	TravelLocation string `json:"travel_location,omitempty"`
}

// handlePersons lists display metadata; feed URLs are never exposed.
//
// GET /api/persons
func (s *Server) handlePersons(w http.ResponseWriter, _ *http.Request) {
	persons := s.backend.Persons()
	out := make([]personDTO, 0, len(persons))
	for _, p := range persons {
		out = append(out, personDTO{
			ID:             p.ID,
			Name:           p.Name,
			Emoji:          p.Emoji,
			Configured:     p.URL != "",
			TravelTimezone: p.TravelTimezone,
			TravelLocation: p.TravelLocation,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"persons": out})
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
