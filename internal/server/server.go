// Package server runs the mock portal backend used for local development
// and end-to-end tests.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/meshport/internal/server/handlers"
	"github.com/3leaps/meshport/internal/server/middleware"
)

// Server wires the portal handlers behind chi and the middleware stack.
type Server struct {
	host string
	port int

	portalOpts handlers.PortalOptions
	version    handlers.VersionInfo
	logger     *zap.Logger

	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	router *chi.Mux
	portal *handlers.Portal
	health *handlers.HealthManager

	mu   sync.Mutex
	addr net.Addr
}

// Option customizes a Server.
type Option func(*Server)

// WithPortal sets the mock backend behaviour.
func WithPortal(opts handlers.PortalOptions) Option {
	return func(s *Server) { s.portalOpts = opts }
}

// WithVersion sets what /version and /health report.
func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

// WithLogger sets the request and lifecycle logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeouts sets the http.Server timeouts and the graceful shutdown bound.
// Zero values keep the defaults.
func WithTimeouts(read, write, idle, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:            host,
		port:            port,
		version:         handlers.VersionInfo{Version: "dev"},
		logger:          zap.NewNop(),
		readTimeout:     30 * time.Second,
		writeTimeout:    30 * time.Second,
		idleTimeout:     120 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.portalOpts.Logger == nil {
		s.portalOpts.Logger = s.logger
	}

	s.portal = handlers.NewPortal(s.portalOpts)
	s.health = handlers.NewHealthManager(s.version.Version)
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RecoveryWithResponder(s.logger, handlers.RespondWithError))
	r.Use(middleware.Logging(s.logger))

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	r.Get("/health", s.health.HealthHandler)
	r.Get("/health/live", s.health.LivenessHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	s.portal.Routes(r)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Port is the configured port; see Addr for the bound one.
func (s *Server) Port() int {
	return s.port
}

// Health exposes the health manager so callers can register checkers.
func (s *Server) Health() *handlers.HealthManager {
	return s.health
}

// Addr is the listening address once Start has bound, else nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens and serves until ctx ends, then shuts down gracefully
// within the shutdown timeout. ready, when non-nil, is called once the
// listener is bound.
func (s *Server) Start(ctx context.Context, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("Mock portal listening", zap.String("addr", ln.Addr().String()))
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("Mock portal shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
