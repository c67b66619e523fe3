package controller

import (
	"time"

	"github.com/cassiomorais/payouts/internal/infrastructure/config"
	"github.com/cassiomorais/payouts/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/payouts/internal/middleware"
	"github.com/cassiomorais/payouts/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	PayoutService *service.PayoutService
	HealthChecks  []HealthCheck
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	Server        config.ServerConfig

	// ServiceName names the server span of each request.
	ServiceName string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing(deps.ServiceName))
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.HealthChecks...)
	payoutH := NewPayoutController(deps.PayoutService)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RateLimit(deps.Server.RequestsPerMinute))

		r.Post("/payouts", payoutH.CreatePayout)
		r.Post("/payouts/preview", payoutH.PreviewPayout)
		r.Get("/payouts", payoutH.ListPayouts)
		r.Get("/payouts/{id}", payoutH.GetPayout)
		r.Post("/payouts/{id}/cancel", payoutH.CancelPayout)
	})

	return r
}
