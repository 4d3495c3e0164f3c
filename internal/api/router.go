package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebridge/waitlist-engine/internal/matching"
)

type RouterConfig struct {
	Service *matching.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/waitlist-entries/{id}/position", positionHandler(cfg.Service))
	r.Delete("/waitlist-entries/{id}", removeEntryHandler(cfg.Service))
	r.Get("/slots/{id}/candidates", rankPatientsHandler(cfg.Service))
	r.Get("/patients/{id}/slot-matches", rankSlotsHandler(cfg.Service))
	r.Post("/allocations", allocateHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))

	return r
}
