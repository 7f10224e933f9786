package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/sensormap/internal/core/events/bus"
	"github.com/zeusync/sensormap/internal/core/observability/log"
)

// Server exposes a running simulation over HTTP: JSON introspection
// endpoints, Prometheus metrics and a websocket contact stream.
type Server struct {
	config   Config
	loop     *Loop
	hub      *Hub
	bus      bus.EventBus
	gatherer prometheus.Gatherer
	logger   log.Log

	http    *http.Server
	running atomic.Bool
}

// NewServer creates a new server
func NewServer(config Config, loop *Loop, hub *Hub, b bus.EventBus, gatherer prometheus.Gatherer, logger log.Log) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{
		config:   config,
		loop:     loop,
		hub:      hub,
		bus:      b,
		gatherer: gatherer,
		logger:   logger.With(log.String("component", "server")),
	}
	s.http = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	s.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Int("max_clients", config.MaxClients))

	return s
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run starts the simulation loop and the HTTP listener and blocks until ctx
// is done or either of them fails. Shutdown is graceful within
// ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop.Run(gctx)
	})
	g.Go(func() error {
		s.logger.Info("Server listening", log.String("address", s.config.ListenAddr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Failed to serve", log.Error(err))
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Stopping server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by Shutdown
		s.hub.Close()
		return s.http.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.logger.Info("Server stopped", log.Error(err))
	return err
}
