package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "freight"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	Mode        string
	LogLevel    string

	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	MongoDBURL     string
	MongoDBName    string
	RedisURL       string

	// Neo4j
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string

	// Kafka (optional change-event sink)
	KafkaBrokers []string
	KafkaTopic   string

	// JWT
	JWTSecret string

	// OpenAI-compatible oracle
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	LLMModel       string
	LLMModelMid    string
	LLMModelTop    string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int
	LLMMaxRetries  int

	// Oracle rate limiting
	LLMMaxConcurrent int
	LLMRatePerSec    int
	LLMBurst         int

	// Rules
	RulesPath string

	// Engine
	BatchConcurrency int
	RepairThreads    bool

	// Worker
	WorkerID        string
	WorkerCount     int
	WorkerQueueSize int

	// Consumer (Redis Stream)
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int
	ChangeStream            string

	// Scheduler
	SchedulerEnabled  bool
	ReconcileInterval time.Duration

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		Mode:        getEnv("MODE", "all"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 10),
		MongoDBURL:     getEnv("MONGODB_URL", ""),
		MongoDBName:    getEnv("MONGODB_DATABASE", "freight"),
		RedisURL:       getEnv("REDIS_URL", ""),

		// Neo4j
		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", "neo4j"),

		// Kafka
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "freight.shipment-changes"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMModelMid:    getEnv("LLM_MODEL_MID", "gpt-4o"),
		LLMModelTop:    getEnv("LLM_MODEL_TOP", "gpt-4.1"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 60),
		LLMMaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),

		LLMMaxConcurrent: getEnvInt("LLM_MAX_CONCURRENT", 8),
		LLMRatePerSec:    getEnvInt("LLM_RATE_PER_SEC", 5),
		LLMBurst:         getEnvInt("LLM_BURST", 5),

		// Rules
		RulesPath: getEnv("RULES_PATH", ""),

		// Engine
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 8),
		RepairThreads:    getEnvBool("REPAIR_THREADS", true),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		// Consumer
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 20),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 60),
		ChangeStream:            getEnv("CHANGE_STREAM", "shipment:changes"),

		// Scheduler
		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true),
		ReconcileInterval: time.Duration(getEnvInt("RECONCILE_INTERVAL_MIN", 24*60)) * time.Minute,

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}

	switch cfg.Mode {
	case "api", "worker", "reconcile", "all":
	default:
		return nil, fmt.Errorf("invalid MODE %q: want api, worker, reconcile or all", cfg.Mode)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RunsAPI reports whether the HTTP API should start in this mode.
func (c *Config) RunsAPI() bool {
	return c.Mode == "api" || c.Mode == "all"
}

// RunsWorker reports whether the stream consumer should start in this mode.
func (c *Config) RunsWorker() bool {
	return c.Mode == "worker" || c.Mode == "all"
}
