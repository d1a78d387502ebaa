package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemoryStoreContract(t *testing.T) {
	runContract(t, func(t *testing.T) backend {
		return NewMemoryStore()
	})
}

func TestSQLiteStoreContract(t *testing.T) {
	runContract(t, func(t *testing.T) backend {
		ctx := context.Background()
		s, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "dsl.db"),
			WithLogger(zaptest.NewLogger(t).Sugar()), WithQueryLogging())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		require.NoError(t, s.InitDB(ctx))
		// idempotent
		require.NoError(t, s.InitDB(ctx))
		return s
	})
}

// TestPostgresStoreContract runs against a live database, e.g.
// TEST_DB_CONN_STRING=postgres://localhost/dsl_test?sslmode=disable
func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("TEST_DB_CONN_STRING")
	if dsn == "" {
		t.Skip("TEST_DB_CONN_STRING not set")
	}

	runContract(t, func(t *testing.T) backend {
		ctx := context.Background()
		s, err := Open(ctx, DriverPostgres, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		require.NoError(t, s.InitDB(ctx))
		for _, table := range []string{"compiled_artifacts", "compilation_jobs", "attributes", "grammar_extensions", "grammar_rules"} {
			_, err := s.DB().ExecContext(ctx, "TRUNCATE "+table)
			require.NoError(t, err)
		}
		return s
	})
}
