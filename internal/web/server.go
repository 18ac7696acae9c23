// Package web exposes the ingestion service over HTTP.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/JonMunkholm/sukl/internal/config"
	"github.com/JonMunkholm/sukl/internal/core"
	"github.com/JonMunkholm/sukl/internal/web/middleware"
)

// Ingestor is the part of core.Service the HTTP layer uses.
type Ingestor interface {
	Datasets() []core.DatasetInfo
	Ledger(ctx context.Context) (*core.Ledger, error)
	Evaluate(ctx context.Context, t core.DatasetType, p core.Period) (core.Decision, error)
	Runs(ctx context.Context, filter core.RunFilter) ([]core.ImportRun, error)
	RunFailures(ctx context.Context, runID uuid.UUID, limit int) ([]core.RowFailure, error)
	Submit(d core.Descriptor) (*core.Job, error)
	Job(id uuid.UUID) (*core.Job, error)
	CancelJob(id uuid.UUID) error
	LimiterStatus() core.LimiterStatus
}

var _ Ingestor = (*core.Service)(nil)

// Server is the HTTP server for the ingestion API and status page.
type Server struct {
	service  Ingestor
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
	limiters []*rateLimiter
}

// NewServer creates a Server with middleware and routes configured from cfg.
func NewServer(service Ingestor, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleStatusPage)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Registry
		r.Get("/datasets", s.handleListDatasets)

		// Submission runs in the background; poll the job.
		auth := middleware.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeys)
		r.With(auth, s.submitLimit()).Post("/datasets", s.handleSubmit)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.With(auth).Delete("/jobs/{jobID}", s.handleCancelJob)

		// Ledger and eligibility
		r.Get("/ledger", s.handleLedger)
		r.Get("/eligibility", s.handleEligibility)

		// Import history
		r.Get("/imports", s.handleListImports)
		r.Get("/imports/{runID}/failures", s.handleImportFailures)
	})
}

// submitLimit applies the stricter submission rate when rate limiting is on.
func (s *Server) submitLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled || s.cfg.Rate.SubmitLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.newRateLimiter(s.cfg.Rate.SubmitLimit).middleware
}

func (s *Server) newRateLimiter(perMinute int) *rateLimiter {
	rl := newRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.stop()
	}
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
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// The status page has inline styles and no scripts.
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; img-src 'self' data:")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}
