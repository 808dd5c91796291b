package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/medloop/patient-scheduler/internal/assistant"
	redisclient "github.com/medloop/patient-scheduler/internal/redis"
	"github.com/medloop/patient-scheduler/internal/scheduling"
)

type RouterConfig struct {
	Service   *scheduling.Service
	Assistant *assistant.Assistant
	Cache     *redisclient.Cache

	// PgPool and Redis back the readiness probe and the rate limiter.
	// Either may be nil (tests, dev without redis); the corresponding
	// feature is then disabled.
	PgPool *pgxpool.Pool
	Redis  *redis.Client

	RateLimit     int
	ChatRateLimit int
	RateWindow    time.Duration

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	if cfg.Redis != nil && cfg.RateLimit > 0 {
		r.Use(RateLimitMiddleware(cfg.Redis, "global", cfg.RateLimit, cfg.RateWindow))
	}

	r.Get("/", rootHandler())

	if cfg.PgPool != nil {
		health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
		r.Get("/health/live", health.Liveness)
		r.Get("/health/ready", health.Readiness)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/providers", listProvidersHandler(cfg.Service, cfg.Cache))
		r.Get("/providers/{id}/slots", providerSlotsHandler(cfg.Service))
		r.Get("/search/providers", searchProvidersHandler(cfg.Service))

		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Post("/appointments", createAppointmentHandler(cfg.Service, cfg.Cache))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Patch("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, cfg.Cache))
		r.Patch("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service, cfg.Cache))

		if cfg.Assistant != nil {
			r.Route("/chat", func(r chi.Router) {
				if cfg.Redis != nil && cfg.ChatRateLimit > 0 {
					r.Use(RateLimitMiddleware(cfg.Redis, "chat", cfg.ChatRateLimit, cfg.RateWindow))
				}
				r.Post("/", chatHandler(cfg.Assistant))
			})
		}
	})

	return r
}
