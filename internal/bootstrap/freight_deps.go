package bootstrap

import (
	"context"
	"fmt"
	"time"

	"freight_server/adapter/out/graph"
	"freight_server/adapter/out/memory"
	"freight_server/adapter/out/messaging"
	"freight_server/adapter/out/mongodb"
	"freight_server/adapter/out/persistence"
	"freight_server/config"
	"freight_server/core/agent/llm"
	"freight_server/core/domain"
	"freight_server/core/port/out"
	"freight_server/core/service/ingest"
	"freight_server/infra/database"
	"freight_server/pkg/logger"
	"freight_server/pkg/ratelimit"
	"freight_server/pkg/resilience"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

type Dependencies struct {
	Config *config.Config
	Rules  *domain.RuleBook

	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext

	// Ports
	Store     out.Store
	Content   out.ContentStore
	Audit     out.OracleAuditStore
	Publisher out.ChangePublisher
	Projector out.LinkProjector
	Producer  out.JobProducer

	// Agent
	LLMClient *llm.Client

	// Services
	IngestService *ingest.Service
}

// NewDependencies connects every configured backend and wires the ingest service.
// Optional backends that fail to connect are logged and skipped.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load rules: %w", err)
	}
	deps.Rules = rules
	logger.Info("Loaded rule book version %s", rules.Version)

	// =========================================================================
	// Connections
	// =========================================================================

	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
		deps.DB = pool

		sqlDB, err := database.NewSQLX(cfg.DatabaseURL, database.SQLConfig{
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to open sqlx: %w", err)
		}
		cleanups = append(cleanups, func() { sqlDB.Close() })
		deps.SQLDB = sqlDB
		deps.Store = persistence.NewStore(sqlDB)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		deps.Store = memory.NewStore()
	}

	// Optional backends connect in parallel.
	var (
		redisClient *redis.Client
		mongoClient *mongo.Client
		neoDriver   neo4j.DriverWithContext
	)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.RedisURL != "" {
		g.Go(func() error {
			c, err := database.NewRedis(gctx, cfg.RedisURL, nil)
			if err != nil {
				logger.WithError(err).Warn("Redis unavailable, streams and shared rate limits disabled")
				return nil
			}
			redisClient = c
			return nil
		})
	}
	if cfg.MongoDBURL != "" {
		g.Go(func() error {
			c, err := mongodb.NewClient(gctx, cfg.MongoDBURL)
			if err != nil {
				logger.WithError(err).Warn("MongoDB unavailable, content store disabled")
				return nil
			}
			mongoClient = c
			return nil
		})
	}
	if cfg.Neo4jURL != "" {
		g.Go(func() error {
			d, err := graph.NewDriver(gctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
			if err != nil {
				logger.WithError(err).Warn("Neo4j unavailable, link graph disabled")
				return nil
			}
			neoDriver = d
			return nil
		})
	}
	_ = g.Wait()

	// =========================================================================
	// Adapters
	// =========================================================================

	var changeSinks []out.ChangePublisher

	if redisClient != nil {
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { redisClient.Close() })
		deps.Producer = messaging.NewRedisProducer(redisClient)
		changeSinks = append(changeSinks, messaging.NewRedisChangePublisher(redisClient, cfg.ChangeStream))
	}

	if mongoClient != nil {
		deps.MongoDB = mongoClient
		cleanups = append(cleanups, func() { mongoClient.Disconnect(context.Background()) })

		db := mongoClient.Database(cfg.MongoDBName)
		content := mongodb.NewContentAdapter(db)
		audit := mongodb.NewAuditAdapter(db)
		if err := content.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to ensure content indexes")
		}
		if err := audit.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to ensure audit indexes")
		}
		deps.Content = content
		deps.Audit = audit
	}

	if neoDriver != nil {
		deps.Neo4j = neoDriver
		cleanups = append(cleanups, func() { neoDriver.Close(context.Background()) })

		links := graph.NewLinkAdapter(neoDriver, cfg.Neo4jDatabase)
		if err := links.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to ensure graph constraints")
		}
		deps.Projector = links
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := messaging.NewKafkaChangePublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanups = append(cleanups, func() { kafkaPub.Close() })
		changeSinks = append(changeSinks, kafkaPub)
	}

	if fan := messaging.NewFanoutPublisher(changeSinks...); fan.Len() > 0 {
		deps.Publisher = fan
	}

	// =========================================================================
	// Oracle
	// =========================================================================

	var (
		classifier out.ClassificationOracle
		extractor  out.ExtractionOracle
	)
	if cfg.OpenAIAPIKey != "" {
		opts := []llm.Option{
			llm.WithLimiter(ratelimit.New(deps.Redis, ratelimit.Config{
				MaxConcurrent:     cfg.LLMMaxConcurrent,
				RequestsPerSecond: cfg.LLMRatePerSec,
				BurstSize:         cfg.LLMBurst,
			})),
		}
		if cfg.LLMMaxRetries > 0 {
			retry := resilience.DefaultRetryConfig()
			retry.Attempts = cfg.LLMMaxRetries
			opts = append(opts, llm.WithRetry(retry))
		}
		if deps.Audit != nil {
			opts = append(opts, llm.WithAudit(deps.Audit))
		}

		deps.LLMClient = llm.NewClient(llm.Config{
			APIKey:        cfg.OpenAIAPIKey,
			BaseURL:       cfg.OpenAIBaseURL,
			ClassifyModel: cfg.LLMModel,
			TierModels: map[domain.ExtractionTier]string{
				domain.TierBase: cfg.LLMModel,
				domain.TierMid:  cfg.LLMModelMid,
				domain.TierTop:  cfg.LLMModelTop,
			},
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: float32(cfg.LLMTemperature),
			Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
		}, opts...)
		classifier = deps.LLMClient
		extractor = deps.LLMClient
	} else {
		logger.Warn("OPENAI_API_KEY not set, only rule-based classification is available")
	}

	// =========================================================================
	// Services
	// =========================================================================

	svc, err := ingest.NewService(ingest.Deps{
		Store:                deps.Store,
		Rules:                rules,
		ClassificationOracle: classifier,
		ExtractionOracle:     extractor,
		Content:              deps.Content,
		Publisher:            deps.Publisher,
		Projector:            deps.Projector,
	}, ingest.Config{
		BatchConcurrency: cfg.BatchConcurrency,
		RepairThreads:    cfg.RepairThreads,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.IngestService = svc

	return deps, cleanup, nil
}
