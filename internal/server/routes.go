package server

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/observability"
	"github.com/reelforge/reelforge/internal/server/handlers"
)

// Admin signal endpoint limits: requests per minute and burst.
const (
	adminRateLimit = 10
	adminRateBurst = 5
)

func (s *Server) registerRoutes() {
	for path, h := range map[string]http.HandlerFunc{
		"/health":         handlers.HealthHandler,
		"/health/live":    handlers.LivenessHandler,
		"/health/ready":   handlers.ReadinessHandler,
		"/health/startup": handlers.StartupHandler,
	} {
		s.router.Get(path, h)
	}

	s.router.Method(http.MethodGet, "/version", handlers.NewVersionHandler(s.build, s.stats))
	s.router.Get("/metrics", MetricsHandler)

	s.router.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/credentials/stats", handlers.NewCredentialsHandler(s.stats))
	})

	if s.adminToken != "" {
		s.registerAdminSignals()
	}
}

// registerAdminSignals exposes POST /admin/signal behind the bearer token, so
// operators can trigger a config reload (SIGHUP) or shutdown over HTTP.
func (s *Server) registerAdminSignals() {
	s.router.Post("/admin/signal", signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: adminRateLimit,
		RateBurst: adminRateBurst,
	}).ServeHTTP)

	if logger := observability.ServerLogger; logger != nil {
		logger.Warn("Admin signal endpoint enabled; keep this server off the public internet",
			zap.String("path", "/admin/signal"),
			zap.Int("rate_limit_per_min", adminRateLimit),
			zap.Int("burst", adminRateBurst))
	}
}
