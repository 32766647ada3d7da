package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/omnigate/pkg/observability"
	"github.com/rhuss/omnigate/pkg/session"
)

// Server wraps an http.Server and manages the full lifecycle of the
// gateway's listener: startup, the session reaper, auxiliary runners
// (such as the NATS RPC subscriber) and graceful shutdown.
type Server struct {
	httpServer *http.Server
	sessions   *session.Manager
	config     ServerConfig
	logger     *slog.Logger
	runners    []func(ctx context.Context) error
}

// ServerConfig holds configuration for the transport server.
type ServerConfig struct {
	Addr              string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	Logger            *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              ":8000",
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		Logger:            slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ReadHeaderTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// WithRunner adds a component that runs for the lifetime of the server.
// It must return once ctx is done. A runner returning an error stops
// the server.
func WithRunner(run func(ctx context.Context) error) ServerOption {
	return func(s *Server) { s.runners = append(s.runners, run) }
}

// NewServer creates a server for handler, usually Adapter.Handler().
// sessions is reaped while the server runs and closed on shutdown.
func NewServer(handler http.Handler, sessions *session.Manager, opts ...ServerOption) *Server {
	s := &Server{
		sessions: sessions,
		config:   DefaultServerConfig(),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ConnState:         observability.TrackConnState,
	}

	return s
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received. It then gracefully shuts down,
// waiting for in-flight requests to complete within the configured timeout.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.ServeOn(ctx, ln)
}

// ServeOn serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.sessions != nil {
		g.Go(func() error { return s.sessions.Run(gctx) })
	}
	for _, run := range s.runners {
		g.Go(func() error { return run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown closes every live session, which ends SSE and WebSocket
// connections, then gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sessions != nil {
		s.sessions.Shutdown()
	}
	return s.httpServer.Shutdown(ctx)
}
