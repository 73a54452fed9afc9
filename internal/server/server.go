// Package server implements the optional HTTP API: health, metrics and read-only views
// of game servers, backups and the command journal.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/config"
)

// New creates a new Server instance with the provided server lister, catalog, GeoIP provider and configuration.
// catalog and geo may be nil.
func New(servers Lister, catalog Catalog, geo Locator, cfg *config.Config) *Server {
	return &Server{
		servers:    servers,
		catalog:    catalog,
		geoip:      geo,
		clients:    cache.New(10*time.Minute, 5*time.Minute),
		authToken:  cfg.HTTP.AuthToken,
		address:    cfg.HTTP.Address,
		limitCount: cfg.RateLimit.Count,
		limitWin:   cfg.RateLimit.Window,
		trustProxy: cfg.HTTP.TrustProxy,
	}
}

// Handler configures the HTTP routes and returns the main handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(s.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/servers", s.api(s.handleServers))
	mux.Handle("GET /api/backups", s.api(s.handleBackups))
	mux.Handle("GET /api/commands", s.api(s.handleCommands))

	return RequestIDMiddleware(s.LoggingMiddleware(mux))
}

func (s *Server) api(h http.HandlerFunc) http.Handler {
	return s.RateLimitMiddleware(AdminAuthMiddleware(s.authToken, h))
}

// Run serves the API until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", s.address).Msg("HTTP API listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP API forced to shutdown")
		return err
	}

	log.Info().Msg("HTTP API stopped")
	return nil
}
