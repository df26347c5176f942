package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type RouterConfig struct {
	Booking      BookingService
	Availability AvailabilityService
	Providers    ProviderDirectory
	Location     *time.Location
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	h := &handlers{
		booking:      cfg.Booking,
		availability: cfg.Availability,
		providers:    cfg.Providers,
		loc:          loc,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/providers", func(r chi.Router) {
		r.Get("/", h.listProviders)
		r.Get("/{id}/schedule", h.getSchedule)
		r.Get("/{id}/availability", h.getAvailability)
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.bookAppointment)
		r.Get("/", h.listAppointments)
		r.Get("/{id}", h.getAppointment)
		r.Patch("/{id}/confirm", h.confirmAppointment)
		r.Patch("/{id}/start", h.startAppointment)
		r.Patch("/{id}/cancel", h.cancelAppointment)
		r.Patch("/{id}/reschedule", h.rescheduleAppointment)
		r.Patch("/{id}/complete", h.completeAppointment)
		r.Patch("/{id}/no-show", h.noShowAppointment)
	})

	return r
}
