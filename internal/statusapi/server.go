// Package statusapi serves the bridge's read-only observability
// surface: the latest status snapshot, a liveness route, recent relayed
// messages, and prometheus metrics.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/IceNet-01/meshtastic-bridge-headless/internal/bridge"
)

// Config holds server configuration.
type Config struct {
	// Listen is the address to bind, e.g. ":8080".
	Listen string
	// AuthSecret, when non-empty, requires a bearer token on the
	// status and recent routes. Health and metrics stay open.
	AuthSecret string
}

// Server is the HTTP status server.
type Server struct {
	engine *bridge.Engine
	auth   *TokenAuth
	log    zerolog.Logger
	server *http.Server
}

// NewServer creates the server; Start binds it.
func NewServer(engine *bridge.Engine, cfg Config, logger zerolog.Logger) *Server {
	s := &Server{
		engine: engine,
		log:    logger.With().Str("component", "statusapi").Logger(),
	}
	if cfg.AuthSecret != "" {
		s.auth = NewTokenAuth(cfg.AuthSecret)
	}

	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Stop is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("listen", s.server.Addr).Bool("auth", s.auth != nil).
		Msg("status API listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(h http.HandlerFunc) http.Handler {
		return s.recovery(s.logging(h))
	}

	mux.Handle("/api/v1/status", withMiddleware(s.authRequired(s.handleStatus)))
	mux.Handle("/api/v1/recent", withMiddleware(s.authRequired(s.handleRecent)))
	mux.Handle("/api/v1/health", withMiddleware(s.handleHealth))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"messages": s.engine.Recent(limit),
	})
}

// handleHealth reports process liveness plus the degraded/healthy
// distinction, so probes can tell "running with a dead link" from
// full outage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	status := "healthy"
	code := http.StatusOK
	if !snap.Running {
		status = "stopped"
		code = http.StatusServiceUnavailable
	} else if !snap.LinksConnected {
		status = "degraded"
	}
	s.writeJSON(w, code, map[string]any{
		"status":          status,
		"running":         snap.Running,
		"links_connected": snap.LinksConnected,
		"uptime_seconds":  snap.UptimeSeconds,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, msg string, code int) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
