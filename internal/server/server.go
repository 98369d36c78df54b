// Package server exposes the pinlink relay over HTTP: WebSocket upgrades,
// per-connection read/write pumps, origin checks, rate limiting, health and
// metrics endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pinlink/pinlink/internal/config"
	"github.com/pinlink/pinlink/internal/relay"
)

// Server ties the relay service to its HTTP transport.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	relay    *relay.Service
	hub      *Hub
	origins  *originChecker
	metrics  *serverMetrics
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer wires the relay, hub, and HTTP plumbing from configuration. A
// nil registry falls back to the default prometheus registerer.
func NewServer(cfg config.Config, log *zap.Logger, reg *prometheus.Registry) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer = reg
		gatherer = reg
	}

	svc := relay.NewService(log.Named("relay"), relay.NewMetrics(registerer))

	s := &Server{
		cfg:      cfg,
		log:      log,
		relay:    svc,
		metrics:  newServerMetrics(registerer),
		origins:  newOriginChecker(cfg.AllowedOrigins, log),
		gatherer: gatherer,
	}
	s.hub = newHub(log.Named("hub"), s.metrics)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.allow,
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Relay returns the underlying relay service.
func (s *Server) Relay() *relay.Service {
	return s.relay
}

// StartHub launches the hub event loop. Run does this itself; call it
// directly only when serving Handler through an external HTTP server, as
// the integration tests do.
func (s *Server) StartHub() {
	go s.hub.Run()
}

// ShutdownHub stops the hub and waits for client goroutines to finish.
func (s *Server) ShutdownHub(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}

// Run starts the hub and HTTP listener and blocks until ctx is canceled or
// the listener fails. On cancellation it drains HTTP connections and shuts
// the hub down within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	s.StartHub()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down", zap.Duration("grace_period", s.cfg.ShutdownGracePeriod))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := s.hub.Shutdown(s.cfg.ShutdownGracePeriod); err != nil {
		s.log.Warn("hub shutdown incomplete", zap.Error(err))
	}
	return nil
}
