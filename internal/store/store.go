// Package store persists grammar rows, attribute definitions, compilation
// jobs and compiled artifacts. One sqlx-backed Store serves both PostgreSQL
// and SQLite; MemoryStore provides the same repositories in process memory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Driver names a supported database/sql driver
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite3"
)

// ParseDriver maps a configured store type to a driver
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "db":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", name)
}

// ErrDuplicate is returned when a unique name is already taken
var ErrDuplicate = errors.New("duplicate key")

// Store represents the database connection and operations.
type Store struct {
	db         *sqlx.DB
	driver     Driver
	log        *zap.SugaredLogger
	logQueries bool
}

// Option customizes a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Store) { s.log = log }
}

// WithQueryLogging logs every statement and its arguments at debug level
func WithQueryLogging() Option {
	return func(s *Store) { s.logQueries = true }
}

// Open connects to the database and verifies the connection
func Open(ctx context.Context, driver Driver, dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// one connection keeps :memory: databases alive and serialises writers
		db.SetMaxOpenConns(1)
	}

	if pingErr := db.PingContext(ctx); pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	return newStore(db, driver, opts), nil
}

// NewStoreFromDB constructs a Store from an existing *sql.DB. Useful for tests.
func NewStoreFromDB(db *sql.DB, driver Driver, opts ...Option) *Store {
	return newStore(sqlx.NewDb(db, string(driver)), driver, opts)
}

func newStore(db *sqlx.DB, driver Driver, opts []Option) *Store {
	s := &Store{db: db, driver: driver, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Driver returns the database driver in use
func (s *Store) Driver() Driver {
	return s.driver
}

// InitDB creates every table and index that does not exist yet
func (s *Store) InitDB(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute init SQL: %w", err)
		}
	}
	return nil
}

// q rebinds a ?-placeholder query for the driver and logs it when enabled
func (s *Store) q(query string, args ...interface{}) string {
	query = s.db.Rebind(query)
	if s.logQueries {
		s.log.Debugw("sql", "query", query, "args", args)
	}
	return query
}

// withTx runs fn in a transaction, rolling back when fn fails
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// forUpdate returns the row-locking suffix for the driver. SQLite locks the
// whole database for a write transaction and needs none.
func (s *Store) forUpdate(skipLocked bool) string {
	if s.driver != DriverPostgres {
		return ""
	}
	if skipLocked {
		return " FOR UPDATE SKIP LOCKED"
	}
	return " FOR UPDATE"
}

// least returns the two-argument minimum function of the driver
func (s *Store) least() string {
	if s.driver == DriverPostgres {
		return "LEAST"
	}
	return "MIN"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
