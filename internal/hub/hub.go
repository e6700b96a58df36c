// Package hub is the main orchestrator that ties all signalhub components
// together.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rovermesh/signalhub/internal/api"
	"github.com/rovermesh/signalhub/internal/auth"
	"github.com/rovermesh/signalhub/internal/config"
	"github.com/rovermesh/signalhub/internal/gateway"
	"github.com/rovermesh/signalhub/internal/relay"
	"github.com/rovermesh/signalhub/internal/store"
)

// Hub is the main hub process.
type Hub struct {
	cfg      *config.Config
	store    store.Store
	verifier auth.Verifier
	registry *gateway.Registry
	relay    *relay.Relay
	api      *api.Server
	logger   *slog.Logger
}

// New creates a new hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Create token verifier based on config.
	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init verifier: %w", err)
	}

	// Delivery registry for connected sockets.
	registry := gateway.NewRegistry(logger)

	// Initialize relay.
	rl := relay.New(db, verifier, registry, logger, relay.Options{
		AdminGroups: cfg.Auth.AdminGroups,
	})

	ws := relay.NewWSServer(rl, registry, logger, relay.WSOptions{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
	})

	// Initialize API server.
	apiSrv := api.NewServer(db, verifier, ws, cfg, logger)

	h := &Hub{
		cfg:      cfg,
		store:    db,
		verifier: verifier,
		registry: registry,
		relay:    rl,
		api:      apiSrv,
		logger:   logger.With("component", "hub"),
	}

	// Startup validation warnings.
	if verifier.Name() == "none" {
		logger.Warn("auth mode is none: tokens are decoded without signature verification; only deploy behind a trusted gateway")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}

	return h, nil
}

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.cfg.Server.Addr,
		Handler: h.api.Handler(),
	}

	// Start rate limiter cleanup.
	h.api.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr)
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.logger.Info("closing store")
		_ = h.store.Close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = h.store.Close()
		return err
	}
}
