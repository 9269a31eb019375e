package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Default values for optional configuration keys.
const (
	DefaultPort                = "8080"
	DefaultRedisAddr           = "localhost:6379"
	DefaultEventPollInterval   = 2000 * time.Millisecond
	DefaultEventBatchLimit     = 50
	DefaultRecordTTL           = 3600000 * time.Millisecond
	DefaultPipelineConcurrency = 8
	DefaultSimulatorTimeout    = 10 * time.Second
	DefaultFetchTimeout        = 5 * time.Second
	DefaultStoreTimeout        = 1 * time.Second
	DefaultEnqueueTimeout      = 2 * time.Second
)

// Config holds all configuration for the pre-ranking engine
type Config struct {
	// Server configuration
	Port           string
	AllowedOrigins string

	// State store configuration
	RedisAddr     string
	RedisPassword string

	// Upstream endpoints
	ChainRPCURL     string
	SimulatorURL    string
	BlobStoreURL    string
	IntentPackageID string

	// Event ingestion
	EventPollInterval time.Duration
	EventBatchLimit   int
	AutoStartListener bool

	// Intent record retention and flush policy
	RecordTTL          time.Duration
	FlushOnEmptyPassed bool
	EagerDeleteOnFlush bool

	// Pipeline configuration
	PipelineConcurrency int

	// Per-operation deadlines
	SimulatorTimeout time.Duration
	FetchTimeout     time.Duration
	StoreTimeout     time.Duration
	EnqueueTimeout   time.Duration
}

// LoadConfig loads configuration from environment variables.
// Missing required keys are a bootstrap failure: the caller is expected
// to exit non-zero.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", DefaultPort),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", DefaultRedisAddr),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		ChainRPCURL:     os.Getenv("CHAIN_RPC_URL"),
		SimulatorURL:    os.Getenv("SIMULATOR_URL"),
		BlobStoreURL:    os.Getenv("BLOB_STORE_URL"),
		IntentPackageID: os.Getenv("INTENT_PACKAGE_ID"),

		EventPollInterval: getEnvDurationMs("EVENT_POLL_INTERVAL_MS", DefaultEventPollInterval),
		EventBatchLimit:   getEnvInt("EVENT_BATCH_LIMIT", DefaultEventBatchLimit),
		AutoStartListener: getEnvBool("AUTO_START_LISTENER", true),

		RecordTTL:          getEnvDurationMs("RECORD_TTL_MS", DefaultRecordTTL),
		FlushOnEmptyPassed: getEnvBool("FLUSH_ON_EMPTY_PASSED", false),
		EagerDeleteOnFlush: getEnvBool("EAGER_DELETE_ON_FLUSH", false),

		PipelineConcurrency: getEnvInt("PIPELINE_CONCURRENCY", DefaultPipelineConcurrency),

		SimulatorTimeout: getEnvDurationMs("SIMULATOR_TIMEOUT_MS", DefaultSimulatorTimeout),
		FetchTimeout:     getEnvDurationMs("FETCH_TIMEOUT_MS", DefaultFetchTimeout),
		StoreTimeout:     getEnvDurationMs("STORE_TIMEOUT_MS", DefaultStoreTimeout),
		EnqueueTimeout:   getEnvDurationMs("ENQUEUE_TIMEOUT_MS", DefaultEnqueueTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ChainRPCURL == "" {
		return errors.New("CHAIN_RPC_URL is required")
	}
	if c.SimulatorURL == "" {
		return errors.New("SIMULATOR_URL is required")
	}
	if c.BlobStoreURL == "" {
		return errors.New("BLOB_STORE_URL is required")
	}
	if c.IntentPackageID == "" {
		return errors.New("INTENT_PACKAGE_ID is required")
	}
	if c.EventBatchLimit < 1 {
		return errors.Errorf("EVENT_BATCH_LIMIT must be positive, got %d", c.EventBatchLimit)
	}
	if c.PipelineConcurrency < 1 {
		return errors.Errorf("PIPELINE_CONCURRENCY must be positive, got %d", c.PipelineConcurrency)
	}

	return nil
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDurationMs(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return defaultValue
	}
	return time.Duration(parsed) * time.Millisecond
}
