// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it connects stores, services,
// handlers and middleware, and owns their lifetimes. main.go stays minimal;
// tests can build a Server and drive its Handler without opening a port.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → sqlite.DB → AuthService / ProjectService / FollowService
//	             → resolvers → handler.Registry → Dispatcher → router
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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sakif/sandbox-server/internal/auth"
	"github.com/sakif/sandbox-server/internal/config"
	"github.com/sakif/sandbox-server/internal/handler"
	"github.com/sakif/sandbox-server/internal/metrics"
	"github.com/sakif/sandbox-server/internal/middleware"
	sqliteRepo "github.com/sakif/sandbox-server/internal/repository/sqlite"
	"github.com/sakif/sandbox-server/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection. Run closes it on the way out,
// after in-flight requests have finished.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	auth     *service.AuthService
	registry *prometheus.Registry
}

// New opens (and migrates) the database and assembles the dependency chain.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.EnsureDBDir(); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sqliteRepo.New(ctx, cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /graphql                → operation dispatcher (behind the auth gate)
// GET    /auth/github/login      → start GitHub sign-in   (when configured)
// GET    /auth/github/callback   → finish GitHub sign-in  (when configured)
// GET    /healthz                → store liveness
// GET    /metrics                → Prometheus scrape endpoint
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers (the rate limiter keys on it)
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes() error {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(s.registry)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, m))
	s.router.Use(chimiddleware.Recoverer)

	// === Services ===
	passwords, err := auth.NewPasswordService(s.config.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("creating password service: %w", err)
	}
	notifier := service.NewLogNotifier(s.logger, s.config.Auth.ResetURL)

	s.auth = service.NewAuthService(s.db, passwords, notifier, m, service.AuthConfig{
		SessionTTL:    s.config.Auth.SessionTTL,
		ResetTokenTTL: s.config.Auth.ResetTokenTTL,
	}, s.logger)
	projects := service.NewProjectService(s.db, s.logger)
	follows := service.NewFollowService(s.db.Follows(), s.logger)

	// === Operations ===
	cookies := auth.CookieConfig{
		Name:   s.config.Cookie.Name,
		Path:   "/",
		Domain: s.config.Cookie.Domain,
		Secure: s.config.Cookie.Secure,
		MaxAge: s.config.Auth.SessionTTL,
	}

	ops := handler.Registry{}
	ops.Register(handler.NewMemberResolvers(s.auth, cookies).Operations())
	ops.Register(handler.NewProjectResolvers(projects).Operations())
	ops.Register(handler.NewFollowResolvers(follows).Operations())

	limiter := middleware.NewRateLimiter(rate.Limit(s.config.RateLimit.RPS), s.config.RateLimit.Burst)
	dispatcher := handler.NewDispatcher(ops, limiter, m, s.logger)

	s.router.With(auth.Gate(s.auth, cookies, s.logger)).Post("/graphql", dispatcher.ServeHTTP)

	// === GitHub sign-in ===
	if gh := s.config.GitHub; gh.Enabled() {
		provider := auth.NewGitHubProvider(gh.ClientID, gh.ClientSecret, gh.CallbackURL)
		authHandler := handler.NewAuthHandler(provider, s.auth, cookies, gh.AppURL, s.logger)

		s.router.Route("/auth/github", func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Get("/login", authHandler.HandleGitHubLogin)
			r.Get("/callback", authHandler.HandleGitHubCallback)
		})
	} else {
		s.logger.Info("GitHub sign-in disabled: github.client_id / github.client_secret not set")
	}

	// === Operational endpoints ===
	s.router.Get("/healthz", handler.NewHealthHandler(s.db, s.logger).HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	return nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (http.shutdown_timeout)
//  3. Close the database connection
func (s *Server) Run(ctx context.Context) error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         s.config.HTTP.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", srv.Addr, err)
	}

	purgeDone := make(chan struct{})
	purgeCtx, stopPurge := context.WithCancel(ctx)
	go func() {
		defer close(purgeDone)
		s.purgeLoop(purgeCtx)
	}()
	defer func() {
		stopPurge()
		<-purgeDone
	}()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", ln.Addr().String()),
			slog.String("database", s.config.DB.Path),
		)
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		<-serverErrors
		s.logger.Info("server stopped gracefully")
		return nil
	}
}

// Close releases the database. Only needed when Run was never called.
func (s *Server) Close() error {
	return s.db.Close()
}

// purgeLoop deletes expired sessions and reset tokens once at startup and
// then every auth.purge_interval.
func (s *Server) purgeLoop(ctx context.Context) {
	interval := s.config.Auth.PurgeInterval
	if interval <= 0 {
		return
	}

	s.purge(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge(ctx)
		}
	}
}

func (s *Server) purge(ctx context.Context) {
	if _, err := s.auth.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("purging expired sessions", slog.String("error", err.Error()))
	}
}
