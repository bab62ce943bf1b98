package fakehub

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Server is an in-memory hub server. It serves the REST API and the
// streaming endpoint from one handler.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	store    *store
	broker   *broker
	origins  *originPolicy
	upgrader websocket.Upgrader
	metrics  *metrics
	handler  http.Handler

	closeOnce sync.Once
	closeErr  error
}

// New builds a Server and starts its broker. Call Close when done.
func New(cfg Config) *Server {
	cfg = sanitizeConfig(cfg)
	logger := cfg.logger().With().Str("component", "fakehub").Logger()
	m := newMetrics(cfg.Registerer)

	s := &Server{
		cfg:     cfg,
		log:     logger,
		store:   newStore(nil),
		broker:  newBroker(logger, m),
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		metrics: m,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	s.handler = s.routes()

	go s.broker.Run()
	return s
}

// Handler returns the HTTP handler for every endpoint.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on cfg.Addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := createServer(s.cfg.Addr, s.handler)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("fake hub listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info().Msg("shutting down fake hub")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if cerr := s.Close(); err == nil {
			err = cerr
		}
		return errors.Wrap(err, "shutdown")
	})
	return g.Wait()
}

// Close disconnects every streaming client and stops the broker. It is
// safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.broker.shutdown(s.cfg.ShutdownTimeout)
	})
	return s.closeErr
}

// Connections returns the number of registered streaming clients.
func (s *Server) Connections() int {
	return s.broker.connectionCount()
}
