package datastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"derived-dsl/internal/store"
)

func TestNewDataStore(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop().Sugar()

	mock, err := NewDataStore(ctx, Config{Type: MockStore}, log)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, mock)

	lite, err := NewDataStore(ctx, Config{Type: SQLiteStore, SQLitePath: filepath.Join(t.TempDir(), "dsl.db")}, log)
	require.NoError(t, err)
	defer lite.Close()
	require.NoError(t, lite.InitDB(ctx))
	assert.IsType(t, &store.Store{}, lite)

	_, err = NewDataStore(ctx, Config{Type: "cassandra"}, log)
	var unsupported *UnsupportedStoreTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "unsupported store type: cassandra", err.Error())
}
