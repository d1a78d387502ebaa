package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"derived-dsl/internal/datastore"
	"derived-dsl/internal/engine"
	"derived-dsl/internal/pipeline"
)

// Config is the complete runtime configuration read from the environment
type Config struct {
	DataStore   datastore.Config
	Pool        pipeline.PoolConfig
	Service     pipeline.ServiceConfig
	Engine      engine.Config
	Debug       bool
	MetricsAddr string
}

// Load reads every DSL_* variable, falling back to defaults for unset ones.
// A set but malformed variable is an error.
func Load() (*Config, error) {
	cfg := &Config{
		DataStore:   GetDataStoreConfig(),
		Pool:        pipeline.DefaultPoolConfig(),
		Service:     pipeline.DefaultServiceConfig(),
		Engine:      engine.DefaultConfig(),
		MetricsAddr: os.Getenv("DSL_METRICS_ADDR"),
	}

	var err error
	if cfg.Debug, err = envBool("DSL_DEBUG", false); err != nil {
		return nil, err
	}
	cfg.DataStore.LogQueries = cfg.Debug

	if cfg.Pool.Workers, err = envInt("DSL_WORKERS", cfg.Pool.Workers); err != nil {
		return nil, err
	}
	if cfg.Pool.PollInterval, err = envMillis("DSL_POLL_INTERVAL_MS", cfg.Pool.PollInterval); err != nil {
		return nil, err
	}
	if cfg.Pool.Backoff.Base, err = envMillis("DSL_BACKOFF_BASE_MS", cfg.Pool.Backoff.Base); err != nil {
		return nil, err
	}
	if cfg.Pool.Backoff.Max, err = envMillis("DSL_BACKOFF_MAX_MS", cfg.Pool.Backoff.Max); err != nil {
		return nil, err
	}
	if cfg.Service.MaxRetries, err = envInt("DSL_MAX_RETRIES", cfg.Service.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.Service.DefaultPriority, err = envInt("DSL_DEFAULT_PRIORITY", cfg.Service.DefaultPriority); err != nil {
		return nil, err
	}
	if cfg.Engine.HotThreshold, err = envInt("DSL_HOT_THRESHOLD", cfg.Engine.HotThreshold); err != nil {
		return nil, err
	}
	if cfg.Engine.MaxChainDepth, err = envInt("DSL_MAX_CHAIN_DEPTH", cfg.Engine.MaxChainDepth); err != nil {
		return nil, err
	}

	if cfg.Pool.Workers < 1 {
		return nil, fmt.Errorf("DSL_WORKERS must be at least 1, got %d", cfg.Pool.Workers)
	}
	if cfg.Service.MaxRetries < 1 {
		return nil, fmt.Errorf("DSL_MAX_RETRIES must be at least 1, got %d", cfg.Service.MaxRetries)
	}
	if cfg.Engine.MaxChainDepth < 1 {
		return nil, fmt.Errorf("DSL_MAX_CHAIN_DEPTH must be at least 1, got %d", cfg.Engine.MaxChainDepth)
	}
	if p := cfg.Service.DefaultPriority; p != pipeline.ClampPriority(p) {
		return nil, fmt.Errorf("DSL_DEFAULT_PRIORITY must be between %d and %d, got %d",
			pipeline.HighestPriority, pipeline.LowestPriority, p)
	}
	return cfg, nil
}

// GetDataStoreConfig returns the data store configuration based on environment variables
func GetDataStoreConfig() datastore.Config {
	// Check for DSL_STORE_TYPE environment variable or use default
	storeType := os.Getenv("DSL_STORE_TYPE")
	if storeType == "" {
		storeType = "postgresql" // Default to PostgreSQL
	}

	config := datastore.Config{}

	switch strings.ToLower(storeType) {
	case "mock":
		config.Type = datastore.MockStore
	case "sqlite", "sqlite3":
		config.Type = datastore.SQLiteStore
		config.SQLitePath = getSQLitePath()
	default:
		// postgresql, postgres, db and anything unknown
		config.Type = datastore.PostgreSQLStore
		config.ConnectionString = getConnectionString()
	}

	return config
}

// getSQLitePath returns the path of the local database file
func getSQLitePath() string {
	path := os.Getenv("DSL_SQLITE_PATH")
	if path == "" {
		return "dsl.db"
	}
	return path
}

// getConnectionString returns the database connection string
func getConnectionString() string {
	connStr := os.Getenv("DB_CONN_STRING")
	if connStr == "" {
		// Default connection string for local development
		return "postgres://localhost:5432/postgres?sslmode=disable"
	}
	return connStr
}

// IsMockMode returns true if running in mock mode
func IsMockMode() bool {
	storeType := os.Getenv("DSL_STORE_TYPE")
	return strings.EqualFold(storeType, "mock")
}

func envInt(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", name, raw)
	}
	return n, nil
}

func envMillis(name string, def time.Duration) (time.Duration, error) {
	n, err := envInt(name, int(def/time.Millisecond))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func envBool(name string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", name, raw)
	}
	return b, nil
}
