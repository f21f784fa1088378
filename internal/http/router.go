package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campuskit/eventreg/internal/idempotency"
	"github.com/campuskit/eventreg/internal/observability"
	"github.com/campuskit/eventreg/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware(idemp))

	r.Post("/v1/events", h.CreateEvent)
	r.Get("/v1/events/{id}", h.GetEvent)
	r.Post("/v1/events/{id}/approve", h.ApproveEvent)
	r.Post("/v1/events/{id}/cancel", h.CancelEvent)

	r.Post("/v1/events/{id}/registrations", h.CreateRegistration)
	r.Get("/v1/registrations/{id}", h.GetRegistration)
	r.Post("/v1/registrations/{id}/approve", h.ApproveRegistration)
	r.Post("/v1/registrations/{id}/reject", h.RejectRegistration)
	r.Post("/v1/registrations/{id}/cancel", h.CancelRegistration)

	r.Get("/v1/registrations/{id}/ticket.ics", h.TicketICS)
	r.Get("/v1/registrations/{id}/qr.png", h.TicketQR)
	r.Post("/v1/checkin", h.Checkin)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
