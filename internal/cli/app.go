// Package cli implements the dsl command line
package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"derived-dsl/internal/config"
	"derived-dsl/internal/datastore"
	"derived-dsl/internal/engine"
	"derived-dsl/internal/logging"
	"derived-dsl/internal/pipeline"
	"derived-dsl/internal/vocabulary"
)

// app carries what every command shares. Connections are opened on first
// use so that help and flag errors never touch the database.
type app struct {
	// flag overrides
	storeType  string
	dbConn     string
	sqlitePath string
	debug      bool

	cfg *config.Config
	log *zap.SugaredLogger

	store    datastore.DataStore
	registry *prometheus.Registry
	metrics  *pipeline.Metrics
	service  *pipeline.Service
	engine   *engine.Engine
}

// NewRootCommand builds the dsl command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "dsl",
		Short: "Derived-attribute DSL engine",
		Long: `Parse, evaluate and compile derived-attribute rules against a grammar
stored in the database.

The store is chosen with DSL_STORE_TYPE (postgresql, sqlite or mock) or the
--store flag. Run 'dsl init-db' once to create the tables and the default
grammar.

Examples:
  dsl parse '(100 + 50) * 2'
  dsl define --file 'defs/**/*.hcl'
  dsl resolve kyc_risk_rating --facts investor.json
  dsl worker --workers 8 --metrics-addr :9090`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.storeType, "store", "", "Store type: postgresql, sqlite or mock (overrides DSL_STORE_TYPE)")
	flags.StringVar(&a.dbConn, "db", "", "PostgreSQL connection string (overrides DB_CONN_STRING)")
	flags.StringVar(&a.sqlitePath, "sqlite", "", "SQLite database file (overrides DSL_SQLITE_PATH)")
	flags.BoolVar(&a.debug, "debug", false, "Debug logging and SQL statement logging")

	root.AddCommand(
		a.initDBCommand(),
		a.grammarCommand(),
		a.parseCommand(),
		a.evalCommand(),
		a.defineCommand(),
		a.deleteCommand(),
		a.resolveCommand(),
		a.planCommand(),
		a.workerCommand(),
		a.jobsCommand(),
	)
	return root
}

// configure reads the environment, applies flag overrides and builds the logger
func (a *app) configure() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if a.storeType != "" {
		switch a.storeType {
		case "postgresql", "postgres", "db":
			cfg.DataStore.Type = datastore.PostgreSQLStore
		case "sqlite", "sqlite3":
			cfg.DataStore.Type = datastore.SQLiteStore
		case "mock":
			cfg.DataStore.Type = datastore.MockStore
		default:
			return &datastore.UnsupportedStoreTypeError{Type: a.storeType}
		}
	}
	if a.dbConn != "" {
		cfg.DataStore.ConnectionString = a.dbConn
	}
	if a.sqlitePath != "" {
		cfg.DataStore.SQLitePath = a.sqlitePath
	}
	if cfg.DataStore.Type == datastore.SQLiteStore && cfg.DataStore.SQLitePath == "" {
		cfg.DataStore.SQLitePath = "dsl.db"
	}
	if a.debug {
		cfg.Debug = true
		cfg.DataStore.LogQueries = true
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// open connects the store and builds the pipeline service. Tables are
// created when missing; a mock store is also seeded with the default
// grammar since it starts empty on every run.
func (a *app) open(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	store, err := datastore.NewDataStore(ctx, a.cfg.DataStore, a.log)
	if err != nil {
		return fmt.Errorf("failed to initialize data store: %w", err)
	}
	if err := store.InitDB(ctx); err != nil {
		store.Close()
		return err
	}
	if a.cfg.DataStore.Type == datastore.MockStore {
		if err := vocabulary.SeedDefaultGrammar(ctx, store); err != nil {
			store.Close()
			return err
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = pipeline.NewMetrics(a.registry)
	a.store = store
	a.service = pipeline.NewService(store, a.cfg.Service, a.log, a.metrics)
	a.log.Debugw("data store ready", "type", a.cfg.DataStore.Type)
	return nil
}

// startEngine opens the store and loads the grammar and catalog
func (a *app) startEngine(ctx context.Context) (*engine.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	if err := a.open(ctx); err != nil {
		return nil, err
	}
	eng := engine.New(a.store, a.service, a.cfg.Engine, a.log)
	if err := eng.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start engine (has 'dsl init-db' been run?): %w", err)
	}
	a.engine = eng
	return eng, nil
}

func (a *app) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

func (a *app) initDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the tables and seed the default grammar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := vocabulary.SeedDefaultGrammar(ctx, a.store); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Database initialized successfully.")
			return nil
		},
	}
}
