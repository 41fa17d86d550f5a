// Package server exposes the brain stem over local HTTP. The JSON routes
// keep the shape the desktop shell expects; Connect RPC and an MCP bridge
// serve the same components to other clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/rapp-os/brainstem/capability"
	"github.com/rapp-os/brainstem/contexts"
	"github.com/rapp-os/brainstem/dispatch"
	"github.com/rapp-os/brainstem/observability"
)

// Dispatcher runs chat turns.
type Dispatcher interface {
	Handle(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Registry is the capability registry surface the endpoint uses.
type Registry interface {
	Snapshot() *capability.Snapshot
	Reload(ctx context.Context) (*capability.Snapshot, error)
	Invoke(ctx context.Context, d capability.Descriptor, args map[string]any) capability.Outcome
}

// ContextStore is the context store surface the endpoint uses.
type ContextStore interface {
	Snapshot() *contexts.Snapshot
	Reload(ctx context.Context) (*contexts.Snapshot, error)
	Create(ctx context.Context, d contexts.Draft) (contexts.Context, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithVersion sets the version reported by the MCP bridge.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is the local endpoint.
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	registry   Registry
	contexts   ContextStore
	logger     *slog.Logger
	observer   observability.Observer
	version    string

	router chi.Router
	mcp    *mcpBridge
}

// New creates a Server and builds its routes.
func New(cfg *Config, d Dispatcher, reg Registry, ctxs ContextStore, opts ...Option) *Server {
	s := &Server{
		cfg:        *cfg,
		dispatcher: d,
		registry:   reg,
		contexts:   ctxs,
		logger:     slog.Default(),
		observer:   observability.NoOpObserver{},
		version:    "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler, including cleartext HTTP/2 support for
// Connect clients.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.router, &http2.Server{})
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.bodyLimitMiddleware)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	r.Get("/health", s.handleHealth)
	r.Get("/agents", s.handleListAgents)
	r.Get("/agents/{name}", s.handleGetAgent)
	r.Get("/contexts", s.handleListContexts)
	r.Get("/reload", s.handleReload)

	r.Route("/api", func(r chi.Router) {
		r.Post("/rapp", s.handleChat)
		r.Post("/chat", s.handleChat)
		r.Post("/process", s.handleChat)
		r.Post("/context/create", s.handleCreateContext)
	})

	for path, h := range s.connectHandlers() {
		r.Handle(path, h)
	}

	if !s.cfg.DisableMCP {
		s.mcp = newMCPBridge(s.registry, s.contexts, s.version)
		r.Handle("/mcp", s.mcp)
	}

	return r
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout.Std(),
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventListening,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "server.Serve",
		Data:      map[string]any{"addr": l.Addr().String()},
	})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout.Std())
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	<-errCh

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventStopped,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "server.Serve",
		Data:      map[string]any{"addr": l.Addr().String()},
	})
	return err
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, l)
}
