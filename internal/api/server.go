// Package api provides the HTTP surface of the hub: the WebSocket
// endpoint, health checks, and the admin observation REST API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rovermesh/signalhub/internal/auth"
	"github.com/rovermesh/signalhub/internal/config"
	"github.com/rovermesh/signalhub/internal/relay"
	"github.com/rovermesh/signalhub/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	verifier     auth.Verifier
	ws           *relay.WSServer
	logger       *slog.Logger
	mux          *chi.Mux
	adminGroups []string
	startTime   time.Time
	rl          *rateLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, v auth.Verifier, ws *relay.WSServer, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:       s,
		verifier:    v,
		ws:          ws,
		logger:      logger.With("component", "api"),
		adminGroups: cfg.Auth.AdminGroups,
		startTime:   time.Now(),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Signaling WebSocket (auth handled inside via ?token)
	mux.Get("/ws", ws.HandleWS)

	// Admin observation API
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))
		r.Use(srv.adminMiddleware)

		r.Get("/api/robots", srv.handleListRobots)
		r.Get("/api/connections", srv.handleListConnections)
	})

	srv.mux = mux
	return srv
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleListRobots returns the presence directory. Stale "online" entries
// are possible when a robot vanished without a clean disconnect; the
// updatedAt timestamp is the operator's clue.
func (s *Server) handleListRobots(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListPresence(r.Context())
	if err != nil {
		s.logger.Warn("list presence failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	if records == nil {
		records = []store.Presence{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.ListConnections(r.Context())
	if err != nil {
		s.logger.Warn("list connections failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	if conns == nil {
		conns = []store.Connection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
