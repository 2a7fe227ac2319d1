// Package web provides the HTTP server and handlers for the sync API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/fieldsync/internal/config"
	"github.com/JonMunkholm/fieldsync/internal/core"
	appmw "github.com/JonMunkholm/fieldsync/internal/web/middleware"
)

// Options tunes the server. A nil Limiter disables rate limiting.
type Options struct {
	Limiter            core.RateLimiter
	TrustedProxies     []string
	RequestTimeout     time.Duration
	MaxBodyBytes       int64
	ExposeErrorDetails bool
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config, limiter core.RateLimiter) Options {
	opts := Options{
		TrustedProxies:     cfg.Security.ProxyCIDRs(),
		RequestTimeout:     cfg.Server.RequestTimeout,
		MaxBodyBytes:       cfg.Security.MaxBodyBytes,
		ExposeErrorDetails: cfg.Security.ExposeErrorDetails,
	}
	if cfg.Rate.Enabled {
		opts.Limiter = limiter
	}
	return opts
}

// Server is the HTTP server for the sync API.
type Server struct {
	service *core.Service
	auth    *core.Authenticator
	opts    Options
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, auth *core.Authenticator, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		service: service,
		auth:    auth,
		opts:    opts,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(appmw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(appmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	if s.opts.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.opts.RequestTimeout))
	}
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes. The API is mounted at the root and
// again under /api/v1.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(s.mountAPI)
	s.router.Route("/api/v1", s.mountAPI)
}

func (s *Server) mountAPI(r chi.Router) {
	if s.opts.Limiter != nil {
		r.Use(appmw.RateLimit(s.opts.Limiter, s.respondError))
	}
	r.Use(appmw.Authenticate(s.auth, s.respondError))

	for _, res := range core.All() {
		r.Get("/"+res.Path, s.handleList(res.Name))
		if res.Writer != nil {
			r.Post("/"+res.Path, s.handleSync(res.Name))
		}
	}
	r.Post("/"+core.Deliveries.Path, s.handleCompleteDelivery)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(cfg config.ServerConfig) error {
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
