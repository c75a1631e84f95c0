// Package handler exposes the queue engine over HTTP and WebSocket.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/observability"
	"github.com/boddenberg/p2p-queue-engine/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthCheck checks one backing dependency for GET /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterConfig carries the HTTP-level settings.
type RouterConfig struct {
	AllowedOrigins  []string
	SubmitRateLimit float64
	SubmitRateBurst int
	MaxPendingAge   time.Duration
	HealthChecks    []HealthCheck
}

// Services groups what the router dispatches to. DevTools is nil when dev
// tools are disabled; Events is nil when the live feed is off.
type Services struct {
	Queue    *service.QueueService
	DevTools *service.DevToolsService
	Events   *EventHub
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svcs Services, cfg RouterConfig, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", "traceparent"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(cfg.HealthChecks))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		svc := svcs.Queue

		r.Route("/queue", func(r chi.Router) {
			r.With(SubmitRateLimit(cfg.SubmitRateLimit, cfg.SubmitRateBurst, logger)).
				Post("/items", submitHandler(svc, logger))
			r.Get("/items", listPendingHandler(svc, logger))
			r.Get("/items/{itemId}", getItemHandler(svc, logger))
			r.Post("/items/{itemId}/cancel", cancelItemHandler(svc, logger))
			r.Post("/items/{itemId}/approve", approveItemHandler(svc, logger))

			r.Post("/match", runMatchingHandler(svc, logger))
			r.Get("/matches", listMatchesHandler(svc, logger))
			r.Get("/matches/{matchId}", getMatchHandler(svc, logger))
			r.Post("/matches/{matchId}/confirm", confirmMatchHandler(svc, logger))

			r.Post("/cleanup", cleanupHandler(svc, cfg.MaxPendingAge, logger))
			r.Get("/stats", statsHandler(svc, logger))
			r.Get("/metrics", queueMetricsHandler(metrics))

			if svcs.Events != nil {
				r.Get("/events", eventsHandler(svcs.Events, logger))
			}
		})

		r.Post("/risk/score", scoreHandler(svc, logger))

		// =============================================
		// Dev Tools (testing helpers)
		// =============================================
		if svcs.DevTools != nil {
			r.Put("/dev/history", devSeedHistoryHandler(svcs.DevTools, logger))
			r.Post("/dev/generate-history", devGenerateHistoryHandler(svcs.DevTools, logger))
		}
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "p2p-queue-engine", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}
		for _, check := range checks {
			start := time.Now()
			err := check.Check(ctx)
			status := "healthy"
			if err != nil {
				status = "unhealthy"
			}
			services = append(services, domain.ServiceHealth{
				Name:        check.Name,
				Status:      status,
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
		}

		code := http.StatusOK
		if overallStatus != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
