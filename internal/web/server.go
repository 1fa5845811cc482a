// Package web serves the dashboard and its JSON API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/qadash/internal/config"
	"github.com/JonMunkholm/qadash/internal/metrics"
	"github.com/JonMunkholm/qadash/internal/report"
	mw "github.com/JonMunkholm/qadash/internal/web/middleware"
)

// Server is the HTTP server for the dashboard.
type Server struct {
	service *report.Service
	metrics *metrics.Metrics
	cfg     Options
	router  *chi.Mux
	server  *http.Server

	limiters []*mw.RateLimiter
}

// Options configures the middleware stack and timeouts.
type Options struct {
	Server   config.ServerConfig
	Rate     config.RateLimitConfig
	Security config.SecurityConfig
}

// OptionsFromConfig picks the web settings out of the app config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{Server: cfg.Server, Rate: cfg.Rate, Security: cfg.Security}
}

// NewServer creates a Server. m may be nil, in which case /metrics is 404.
func NewServer(service *report.Service, m *metrics.Metrics, opts Options) *Server {
	if opts.Server.RequestTimeout <= 0 {
		opts.Server.RequestTimeout = 90 * time.Second
	}
	s := &Server{
		service: service,
		metrics: m,
		cfg:     opts,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         opts.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  opts.Server.ReadTimeout,
		WriteTimeout: opts.Server.WriteTimeout,
		IdleTimeout:  opts.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newLimiter(s.cfg.Rate.RequestsPerMinute).Middleware)
	}
}

func (s *Server) setupRoutes() {
	// One guard set for both refresh routes so they share a rate bucket.
	guards := s.refreshGuards()

	s.router.Get("/", s.handleDashboard)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.handleListSources)

		r.Route("/sources/{key}", func(r chi.Router) {
			r.Get("/", s.handleGetSource)
			r.Get("/rows", s.handleRows)
			r.Get("/summary", s.handleSummary)
			r.Get("/builds", s.handleBuilds)
			r.Get("/history", s.handleHistory)
			r.With(guards...).Post("/refresh", s.handleRefresh)
		})

		r.With(guards...).Post("/refresh", s.handleRefreshAll)
	})
}

// refreshGuards protects the endpoints that trigger outbound fetches.
func (s *Server) refreshGuards() []func(http.Handler) http.Handler {
	guards := []func(http.Handler) http.Handler{mw.RequireAPIKey(s.cfg.Security.RefreshKeys)}
	if s.cfg.Rate.Enabled {
		guards = append(guards, s.newLimiter(s.cfg.Rate.RefreshLimit).Middleware)
	}
	return guards
}

func (s *Server) newLimiter(perMinute int) *mw.RateLimiter {
	rl := mw.NewRateLimiter(perMinute)
	s.limiters = append(s.limiters, rl)
	return rl
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.cleanupLimiters(ctx)

	slog.Info("server starting", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// cleanupLimiters drops idle rate limit entries every minute.
func (s *Server) cleanupLimiters(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rl := range s.limiters {
				rl.Cleanup(10 * time.Minute)
			}
		}
	}
}

// securityHeaders adds hardening headers to every response.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; form-action 'self'")
			}
			next.ServeHTTP(w, r)
		})
	}
}
