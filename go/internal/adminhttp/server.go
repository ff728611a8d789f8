// Package adminhttp serves the operator endpoints: a health check and a view of
// pending timers.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Pinger checks the database connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// TimerSource is the part of the timer manager the endpoints read.
type TimerSource interface {
	ListTimers(ctx context.Context) ([]timers.Timer, error)
	LastPoll() time.Time
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	DatabaseConnected bool      `json:"database_connected"`
	LoopRunning       bool      `json:"loop_running"`
	LastPoll          time.Time `json:"last_poll,omitzero"`
	Errors            []string  `json:"errors"`
}

// Server exposes the admin routes.
type Server struct {
	db      Pinger
	timers  TimerSource
	timeout time.Duration
}

func New(db Pinger, source TimerSource) *Server {
	return &Server{db: db, timers: source, timeout: 5 * time.Second}
}

// Check reports whether the database answers and the timer loop has polled at
// least once. The loop may legitimately sleep for days, so an old poll is not
// treated as a failure.
func (s *Server) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}

	if err := s.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, "database ping failed: "+err.Error())
	} else {
		status.DatabaseConnected = true
	}

	status.LastPoll = s.timers.LastPoll()
	status.LoopRunning = !status.LastPoll.IsZero()
	if !status.LoopRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "timer loop has not polled yet")
	}
	return status
}

// Handler returns the routes wrapped with CORS and h2c.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /timers", s.handleTimers)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// HTTPServer builds the listening server for addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	status := s.Check(ctx)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleTimers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	list, err := s.timers.ListTimers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list timers")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list timers"})
		return
	}
	if list == nil {
		list = []timers.Timer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(list), "timers": list})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
