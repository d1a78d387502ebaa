package datastore

import (
	"context"

	"go.uber.org/zap"

	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/pipeline"
	"derived-dsl/internal/store"
	"derived-dsl/internal/vocabulary"
)

// DataStore defines the interface for all data access operations
// This interface can be implemented by both real database store and mock store
type DataStore interface {
	vocabulary.GrammarRepository
	dictionary.Repository
	pipeline.JobStore

	// Lifecycle
	InitDB(ctx context.Context) error
	Close() error
}

var (
	_ DataStore = (*store.Store)(nil)
	_ DataStore = (*store.MemoryStore)(nil)
)

// Type represents the type of data store to use
type Type string

const (
	// PostgreSQLStore uses real PostgreSQL database
	PostgreSQLStore Type = "postgresql"
	// SQLiteStore uses a local SQLite file
	SQLiteStore Type = "sqlite"
	// MockStore keeps everything in memory
	MockStore Type = "mock"
)

// Config holds configuration for data store creation
type Config struct {
	Type             Type
	ConnectionString string
	SQLitePath       string
	LogQueries       bool
}

// NewDataStore creates a new data store based on configuration
func NewDataStore(ctx context.Context, config Config, log *zap.SugaredLogger) (DataStore, error) {
	opts := []store.Option{store.WithLogger(log)}
	if config.LogQueries {
		opts = append(opts, store.WithQueryLogging())
	}

	var (
		driver store.Driver
		dsn    string
	)
	switch config.Type {
	case PostgreSQLStore:
		driver, dsn = store.DriverPostgres, config.ConnectionString
	case SQLiteStore:
		driver, dsn = store.DriverSQLite, config.SQLitePath
	case MockStore:
		return store.NewMemoryStore(), nil
	default:
		return nil, &UnsupportedStoreTypeError{Type: string(config.Type)}
	}

	s, err := store.Open(ctx, driver, dsn, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UnsupportedStoreTypeError is returned when an unsupported store type is requested
type UnsupportedStoreTypeError struct {
	Type string
}

func (e *UnsupportedStoreTypeError) Error() string {
	return "unsupported store type: " + e.Type
}
