package http

import (
	"context"
	"database/sql"
	"time"

	"freight_server/infra/database"
	"freight_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db    *pgxpool.Pool
	sqlDB *sql.DB
	redis *redis.Client

	checks map[string]HealthChecker
	stats  map[string]func() any
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]HealthChecker),
		stats:  make(map[string]func() any),
	}
}

func NewHealthHandlerWithDeps(db *pgxpool.Pool, sqlDB *sql.DB, redis *redis.Client) *HealthHandler {
	h := NewHealthHandler()
	h.db = db
	h.sqlDB = sqlDB
	h.redis = redis
	return h
}

// WithCheck adds a readiness check such as mongo or neo4j.
func (h *HealthHandler) WithCheck(name string, check HealthChecker) *HealthHandler {
	h.checks[name] = check
	return h
}

// WithStats adds a named section to /metrics.
func (h *HealthHandler) WithStats(name string, fn func() any) *HealthHandler {
	h.stats[name] = fn
	return h
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	app.Get("/metrics", h.Metrics)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	record := func(name string, err error) {
		if err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			return
		}
		checks[name] = "healthy"
	}

	if h.db != nil {
		record("postgres", h.db.Ping(ctx))
	} else {
		checks["postgres"] = "not configured"
	}

	if h.redis != nil {
		record("redis", h.redis.Ping(ctx).Err())
	} else {
		checks["redis"] = "not configured"
	}

	for name, check := range h.checks {
		record(name, check.Ping(ctx))
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Metrics reports latency histograms, pool statistics and registered sections.
func (h *HealthHandler) Metrics(c *fiber.Ctx) error {
	body := fiber.Map{
		"metrics":   metrics.Global().Snapshot(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.sqlDB != nil {
		body["sql_pool"] = metrics.GetDBPoolStats(h.sqlDB)
	}
	if h.db != nil {
		body["pgx_pool"] = database.GetPoolStats(h.db)
	}
	if h.redis != nil {
		body["redis_pool"] = database.GetRedisStats(h.redis)
	}
	for name, fn := range h.stats {
		body[name] = fn()
	}
	return c.JSON(body)
}
