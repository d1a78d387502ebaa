package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derived-dsl/internal/datastore"
	"derived-dsl/internal/engine"
	"derived-dsl/internal/pipeline"
)

func TestGetDataStoreConfig(t *testing.T) {
	tests := []struct {
		name      string
		storeType string
		want      datastore.Type
	}{
		{"default", "", datastore.PostgreSQLStore},
		{"postgres alias", "postgres", datastore.PostgreSQLStore},
		{"mock", "MOCK", datastore.MockStore},
		{"sqlite", "sqlite", datastore.SQLiteStore},
		{"unknown falls back", "oracle", datastore.PostgreSQLStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DSL_STORE_TYPE", tt.storeType)
			t.Setenv("DB_CONN_STRING", "postgres://db/dsl")
			t.Setenv("DSL_SQLITE_PATH", "")
			cfg := GetDataStoreConfig()
			assert.Equal(t, tt.want, cfg.Type)
			switch tt.want {
			case datastore.PostgreSQLStore:
				assert.Equal(t, "postgres://db/dsl", cfg.ConnectionString)
			case datastore.SQLiteStore:
				assert.Equal(t, "dsl.db", cfg.SQLitePath)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, name := range []string{"DSL_STORE_TYPE", "DSL_WORKERS", "DSL_MAX_RETRIES", "DSL_BACKOFF_BASE_MS",
		"DSL_BACKOFF_MAX_MS", "DSL_POLL_INTERVAL_MS", "DSL_DEFAULT_PRIORITY", "DSL_HOT_THRESHOLD", "DSL_MAX_CHAIN_DEPTH", "DSL_DEBUG", "DSL_METRICS_ADDR"} {
		t.Setenv(name, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, pipeline.DefaultPoolConfig(), cfg.Pool)
	assert.Equal(t, pipeline.DefaultServiceConfig(), cfg.Service)
	assert.Equal(t, engine.DefaultConfig(), cfg.Engine)
	assert.False(t, cfg.Debug)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DSL_STORE_TYPE", "sqlite")
	t.Setenv("DSL_SQLITE_PATH", "/tmp/rules.db")
	t.Setenv("DSL_WORKERS", "8")
	t.Setenv("DSL_MAX_RETRIES", "5")
	t.Setenv("DSL_BACKOFF_BASE_MS", "250")
	t.Setenv("DSL_BACKOFF_MAX_MS", "60000")
	t.Setenv("DSL_POLL_INTERVAL_MS", "100")
	t.Setenv("DSL_DEFAULT_PRIORITY", "7")
	t.Setenv("DSL_HOT_THRESHOLD", "0")
	t.Setenv("DSL_MAX_CHAIN_DEPTH", "50000")
	t.Setenv("DSL_DEBUG", "true")
	t.Setenv("DSL_METRICS_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, datastore.SQLiteStore, cfg.DataStore.Type)
	assert.Equal(t, "/tmp/rules.db", cfg.DataStore.SQLitePath)
	assert.True(t, cfg.DataStore.LogQueries)
	assert.Equal(t, 8, cfg.Pool.Workers)
	assert.Equal(t, 100*time.Millisecond, cfg.Pool.PollInterval)
	assert.Equal(t, pipeline.Backoff{Base: 250 * time.Millisecond, Max: time.Minute}, cfg.Pool.Backoff)
	assert.Equal(t, 5, cfg.Service.MaxRetries)
	assert.Equal(t, 7, cfg.Service.DefaultPriority)
	assert.Zero(t, cfg.Engine.HotThreshold)
	assert.Equal(t, 50000, cfg.Engine.MaxChainDepth)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, env, value, want string
	}{
		{"not a number", "DSL_WORKERS", "many", `DSL_WORKERS: "many" is not an integer`},
		{"no workers", "DSL_WORKERS", "0", "DSL_WORKERS must be at least 1, got 0"},
		{"no retries", "DSL_MAX_RETRIES", "0", "DSL_MAX_RETRIES must be at least 1, got 0"},
		{"no chain depth", "DSL_MAX_CHAIN_DEPTH", "0", "DSL_MAX_CHAIN_DEPTH must be at least 1, got 0"},
		{"priority range", "DSL_DEFAULT_PRIORITY", "11", "DSL_DEFAULT_PRIORITY must be between 1 and 10, got 11"},
		{"negative delay", "DSL_BACKOFF_BASE_MS", "-5", "DSL_BACKOFF_BASE_MS must not be negative"},
		{"bad bool", "DSL_DEBUG", "sometimes", `DSL_DEBUG: "sometimes" is not a boolean`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load()
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestIsMockMode(t *testing.T) {
	t.Setenv("DSL_STORE_TYPE", "Mock")
	assert.True(t, IsMockMode())
	t.Setenv("DSL_STORE_TYPE", "postgresql")
	assert.False(t, IsMockMode())
}
