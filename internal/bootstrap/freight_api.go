package bootstrap

import (
	"fmt"
	"strings"

	"freight_server/adapter/in/http"
	"freight_server/infra/middleware"
	"freight_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the operator API on deps. poolStats, when set, is exposed on /metrics.
func NewAPI(deps *Dependencies, poolStats func() any) (*fiber.App, error) {
	cfg := deps.Config

	if cfg.JWTSecret == "" && cfg.IsProduction() {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}
	middleware.InitTokenBlacklist(deps.Redis)

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: 표준 encoding/json 대비 빠른 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// batch 요청 (최대 500건 + 첨부 텍스트)
		BodyLimit: 20 * 1024 * 1024,

		ReadBufferSize:     16384,
		WriteBufferSize:    16384,
		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityHeaders())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: true,
	}))

	health := http.NewHealthHandlerWithDeps(deps.DB, sqlDB(deps), deps.Redis)
	if deps.MongoDB != nil {
		health.WithCheck("mongodb", mongoPinger{deps.MongoDB})
	}
	if deps.Neo4j != nil {
		health.WithCheck("neo4j", neo4jPinger{deps.Neo4j})
	}
	if deps.LLMClient != nil {
		health.WithStats("llm_costs", func() any { return deps.LLMClient.Costs() })
	}
	if poolStats != nil {
		health.WithStats("worker_pool", poolStats)
	}
	health.Register(app)

	api := app.Group("/api/v1")
	api.Use(middleware.NewRateLimiter(deps.Redis, "api", 50, 50).Handler())
	if cfg.JWTSecret != "" {
		api.Use(middleware.JWTAuth(cfg.JWTSecret))
	} else {
		logger.Warn("JWT_SECRET not set, API authentication disabled")
	}

	http.NewDocumentHandler(deps.IngestService, deps.Producer).Register(api)
	http.NewShipmentHandler(deps.IngestService, deps.Producer).Register(api)

	var decide []fiber.Handler
	if cfg.JWTSecret != "" {
		decide = append(decide, middleware.RequireRole(middleware.RoleReviewer))
	}
	http.NewReviewHandler(deps.IngestService).Register(api, decide...)

	return app, nil
}
