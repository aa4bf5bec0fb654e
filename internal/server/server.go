// Package server exposes an engine.Service over HTTP.
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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/engine"
)

// DefaultBodyLimit is the largest request body accepted, in bytes.
const DefaultBodyLimit = 100_000

// Config holds configuration for the server.
type Config struct {
	Service engine.Service
	Catalog *database.Catalog
	Port    int
	// BodyLimit defaults to DefaultBodyLimit.
	BodyLimit int64
	// MaxConnections caps concurrent connections. Zero means no cap.
	MaxConnections int
	SessionSecret  string
	Logger         *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	service        engine.Service
	catalog        *database.Catalog
	sessionStore   *sessions.CookieStore
	port           int
	bodyLimit      int64
	maxConnections int
	logger         *slog.Logger
}

// New creates a server.
func New(cfg Config) *Server {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.MaxAge(86400)
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteStrictMode

	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.Catalog == nil {
		cfg.Catalog = &database.Catalog{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		service:        cfg.Service,
		catalog:        cfg.Catalog,
		sessionStore:   sessionStore,
		port:           cfg.Port,
		bodyLimit:      cfg.BodyLimit,
		maxConnections: cfg.MaxConnections,
		logger:         cfg.Logger,
	}
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		s.logRequests,
		middleware.Recoverer,
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/csrf", s.handleCSRF)
		r.Get("/databases", s.handleDatabases)

		r.Group(func(r chi.Router) {
			r.Use(s.requireCSRF, s.limitBody)

			r.Post("/evaluate", s.handleEvaluate)
			r.Post("/suggest", s.handleSuggest)
			r.Post("/document", s.handleDocument)

			r.Route("/databases/{id}", func(r chi.Router) {
				r.Use(s.withDatabase)
				r.Post("/evaluate", s.handleEvaluate)
				r.Post("/suggest", s.handleSuggest)
				r.Post("/document", s.handleDocument)
			})
		})
	})
	return r
}

// Serve listens on the configured port and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if s.maxConnections > 0 {
		ln = netutil.LimitListener(ln, s.maxConnections)
	}
	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(began)))
	})
}
