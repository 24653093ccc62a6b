// Package adminhttp exposes the operator surface of a running bot over HTTP.
package adminhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ex-mimic/internal/archive"
	"ex-mimic/internal/mimic"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	maxSnapshotBody        = 64 << 20
)

// Coordinator is the state surface served by the admin API. *mimic.Coordinator satisfies it.
type Coordinator interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
	Scopes() []mimic.ScopeInfo
	ScopeInfo(scope mimic.ScopeID) (mimic.ScopeInfo, error)
	Stats() mimic.Stats
}

// Server serves health, state and snapshot endpoints.
type Server struct {
	addr        string
	logger      *slog.Logger
	coordinator Coordinator
	archive     archive.Store
	router      *chi.Mux
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithArchive enables the archive endpoints.
func WithArchive(store archive.Store) Option {
	return func(s *Server) { s.archive = store }
}

// New creates an admin server listening on addr once Run is called.
func New(addr string, coordinator Coordinator, options ...Option) (*Server, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("new admin server: nil coordinator")
	}

	s := &Server{
		addr:        addr,
		logger:      slog.Default(),
		coordinator: coordinator,
	}
	for _, option := range options {
		option(s)
	}
	s.router = s.routes()

	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/scopes", s.handleScopes)
		r.Get("/scopes/{scope}", s.handleScope)
		r.Get("/snapshot", s.handleSnapshotDownload)
		r.Put("/snapshot", s.handleSnapshotRestore)
		r.Route("/archive", func(r chi.Router) {
			r.Use(s.requireArchive)
			r.Get("/", s.handleArchiveList)
			r.Post("/", s.handleArchivePut)
			r.Get("/{id}", s.handleArchiveGet)
			r.Post("/{id}/restore", s.handleArchiveRestore)
		})
	})

	return r
}

// Run serves until ctx ends, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.addr, err)
	}

	return s.serve(ctx, listener)
}

func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()
	s.logger.InfoContext(ctx, "admin server listening", "addr", listener.Addr().String())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	<-serveErr

	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.DebugContext(r.Context(), "admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.Status(),
			"bytes", wrapped.BytesWritten(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) requireArchive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.archive == nil {
			writeError(w, http.StatusNotImplemented, "archive disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}
