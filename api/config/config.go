// Package config reads the service configuration from the environment.
// Every knob has a default; an empty environment yields a runnable local
// setup pointed at localhost backends.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full configuration surface.
type Config struct {
	// Boundary.
	ListenAddr string
	CORSOrigin string

	// Backends.
	DatabaseURL string
	RedisURL    string

	// LM endpoint.
	LiteLLMAPIBase    string
	LiteLLMAuthHeader string
	LiteLLMModel      string

	// Per-stage temperatures.
	GenerationTemperature float32
	SummaryTemperature    float32
	SuggestionTemperature float32

	// Cache policy.
	EnableLLMCache bool
	LLMCacheTTL    time.Duration
	QueryCacheTTL  time.Duration
	SchemaCacheTTL time.Duration

	// Dispatcher.
	TaskTimeLimit     time.Duration
	TaskSoftTimeLimit time.Duration
	WorkerCount       int
	QueueSize         int
	MaxRetries        int
	MaxQuestionLen    int
	// WorkerPrefetchMultiplier sizes the queue relative to the worker count
	// when QUEUE_SIZE is not set explicitly. WorkerMaxTasksPerChild is
	// accepted for deployment compatibility but unused; workers here are
	// goroutines and never need recycling.
	WorkerPrefetchMultiplier int
	WorkerMaxTasksPerChild   int

	// Conversation memory.
	SessionTTL   time.Duration
	HistoryLimit int

	// LM client.
	APIRateLimit     int
	LLMCallTimeout   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Connector pool.
	DBPoolSize    int
	DBMaxOverflow int
	DBPoolTimeout time.Duration
	DBPoolRecycle time.Duration
	QueryTimeout  time.Duration

	// Operator knobs.
	DisplaySQLInErrors bool
	SentryDSN          string
	LogLevel           string
}

// Load reads the environment into a Config.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:                getEnv("LISTEN_ADDR", ":8080"),
		CORSOrigin:                getEnv("CORS_ORIGIN", "*"),
		DatabaseURL:               getEnv("DATABASE_URL_PRIMARY", "postgres://localhost:5432/analytics"),
		RedisURL:                  getEnv("REDIS_URL", ""),
		LiteLLMAPIBase:            getEnv("LITELLM_API_BASE", "http://localhost:4000/v1"),
		LiteLLMAuthHeader:         getEnv("LITELLM_AUTH_HEADER", ""),
		LiteLLMModel:              getEnv("LITELLM_MODEL", "gpt-4o"),
		GenerationTemperature:     getFloat("GENERATION_TEMPERATURE", 0.0),
		SummaryTemperature:        getFloat("SUMMARY_TEMPERATURE", 0.3),
		SuggestionTemperature:     getFloat("SUGGESTION_TEMPERATURE", 0.5),
		EnableLLMCache:            getBool("ENABLE_LLM_CACHE", true),
		LLMCacheTTL:               getSeconds("LLM_CACHE_TTL", 300),
		QueryCacheTTL:             getSeconds("QUERY_CACHE_TTL", 300),
		SchemaCacheTTL:            getSeconds("SCHEMA_CACHE_TTL", 3600),
		TaskTimeLimit:             getSeconds("TASK_TIME_LIMIT", 60),
		TaskSoftTimeLimit:         getSeconds("TASK_SOFT_TIME_LIMIT", 50),
		WorkerCount:               getInt("WORKER_COUNT", 4),
		QueueSize:                 getInt("QUEUE_SIZE", 0),
		WorkerPrefetchMultiplier:  getInt("WORKER_PREFETCH_MULTIPLIER", 4),
		WorkerMaxTasksPerChild:    getInt("WORKER_MAX_TASKS_PER_CHILD", 0),
		MaxRetries:                getInt("TASK_MAX_RETRIES", 3),
		MaxQuestionLen:            getInt("MAX_QUESTION_BYTES", 4096),
		SessionTTL:                getSeconds("SESSION_TTL", 86400),
		HistoryLimit:              getInt("HISTORY_LIMIT", 10),
		APIRateLimit:              getInt("API_RATE_LIMIT", 60),
		LLMCallTimeout:            getSeconds("LLM_CALL_TIMEOUT", 15),
		BreakerThreshold:          getInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:           getSeconds("BREAKER_COOLDOWN", 30),
		DBPoolSize:                getInt("DB_POOL_SIZE", 20),
		DBMaxOverflow:             getInt("DB_MAX_OVERFLOW", 30),
		DBPoolTimeout:             getSeconds("DB_POOL_TIMEOUT", 30),
		DBPoolRecycle:             getSeconds("DB_POOL_RECYCLE", 1800),
		QueryTimeout:              getSeconds("QUERY_TIMEOUT", 20),
		DisplaySQLInErrors:        getBool("DISPLAY_SQL_IN_ERRORS", false),
		SentryDSN:                 getEnv("SENTRY_DSN", ""),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
	}

	if cfg.TaskSoftTimeLimit >= cfg.TaskTimeLimit {
		return Config{}, fmt.Errorf("TASK_SOFT_TIME_LIMIT (%s) must be below TASK_TIME_LIMIT (%s)", cfg.TaskSoftTimeLimit, cfg.TaskTimeLimit)
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.WorkerCount * cfg.WorkerPrefetchMultiplier * 8
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getSeconds reads an integer number of seconds, matching how the deployment
// tooling has always expressed durations.
func getSeconds(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Second
}
