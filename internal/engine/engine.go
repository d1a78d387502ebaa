// Package engine ties the grammar registry, the attribute dictionary, the
// evaluator and the compilation pipeline together behind one API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/eval"
	"derived-dsl/internal/grammar"
	"derived-dsl/internal/pipeline"
	"derived-dsl/internal/resolver"
	"derived-dsl/internal/vocabulary"
)

// Store is the persistence the engine needs
type Store interface {
	vocabulary.GrammarRepository
	dictionary.Repository
	pipeline.JobStore
}

// Config tunes the engine
type Config struct {
	// HotThreshold is the number of evaluations after which a derived
	// attribute is promoted for compilation. Zero disables promotion.
	HotThreshold int
	// UseArtifacts lets the catalog load rule bodies from valid optimized
	// artifacts instead of parsing them.
	UseArtifacts bool
	// MaxChainDepth bounds the length of a dependency chain in Resolve and
	// Plan. Zero means resolver.DefaultMaxDepth.
	MaxChainDepth int
}

// DefaultConfig returns the settings used by the CLI
func DefaultConfig() Config {
	return Config{HotThreshold: 100, UseArtifacts: true, MaxChainDepth: resolver.DefaultMaxDepth}
}

// Engine is safe for concurrent use. Catalog snapshots are immutable and
// swapped whole by Refresh.
type Engine struct {
	store    Store
	registry *grammar.Registry
	service  *pipeline.Service
	ev       *eval.Evaluator
	log      *zap.SugaredLogger
	cfg      Config

	mu      sync.RWMutex
	catalog *dictionary.Catalog

	hotMu    sync.Mutex
	counts   map[string]int
	promoted map[string]bool
}

// Option customizes an Engine
type Option func(*Engine)

// WithEvaluator replaces the default evaluator, e.g. to install a Lookup
func WithEvaluator(ev *eval.Evaluator) Option {
	return func(e *Engine) { e.ev = ev }
}

// WithRegistry shares an existing grammar registry
func WithRegistry(r *grammar.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// New creates an engine. Call Start before parsing or resolving.
func New(store Store, service *pipeline.Service, cfg Config, log *zap.SugaredLogger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &Engine{
		store:    store,
		service:  service,
		log:      log,
		cfg:      cfg,
		counts:   make(map[string]int),
		promoted: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = grammar.NewRegistry(store, log)
	}
	if e.ev == nil {
		e.ev = eval.New()
	}
	return e
}

// Registry returns the grammar registry
func (e *Engine) Registry() *grammar.Registry { return e.registry }

// Service returns the compilation service
func (e *Engine) Service() *pipeline.Service { return e.service }

// Start loads the grammar and builds the first catalog
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.registry.Reload(ctx); err != nil {
		return err
	}
	_, err := e.Refresh(ctx)
	return err
}

// ReloadGrammar republishes the grammar and rebuilds the catalog when the
// grammar changed
func (e *Engine) ReloadGrammar(ctx context.Context) (*grammar.ParserSpec, error) {
	before := e.registry.Current()
	spec, err := e.registry.Reload(ctx)
	if err != nil {
		return spec, err
	}
	if spec != before {
		if _, err := e.Refresh(ctx); err != nil {
			return spec, err
		}
	}
	return spec, nil
}

// =============================================================================
// Catalog
// =============================================================================

// Catalog returns the current snapshot, or nil before Start
func (e *Engine) Catalog() *dictionary.Catalog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.catalog
}

// Refresh rebuilds the catalog from every stored definition. The current
// catalog is kept while the grammar does not compile.
func (e *Engine) Refresh(ctx context.Context) (*dictionary.Catalog, error) {
	if err := e.registry.Err(); err != nil {
		return nil, err
	}
	defs, err := e.store.ListAttributes(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load attribute definitions: %w", err)
	}

	var opts []dictionary.CatalogOption
	if e.cfg.UseArtifacts {
		opts = append(opts, dictionary.WithPrecompiled(e.precompiled(ctx)))
	}
	catalog, err := dictionary.NewCatalog(defs, e.registry.Current(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}

	fast := 0
	for i := 0; i < catalog.Len(); i++ {
		if catalog.At(i).Precompiled {
			fast++
		}
	}
	e.log.Infow("catalog refreshed", "attributes", catalog.Len(), "precompiled", fast)

	e.mu.Lock()
	e.catalog = catalog
	e.mu.Unlock()
	return catalog, nil
}

// precompiled serves rule bodies from an optimized artifact when the
// artifact is valid and was compiled from the definition as it is now
func (e *Engine) precompiled(ctx context.Context) dictionary.Precompiled {
	return func(def *dictionary.AttributeDefinition) (*dictionary.CompiledRules, bool) {
		a, err := e.store.GetArtifact(ctx, def.AttributeID, pipeline.ArtifactOptimized)
		if err != nil {
			if !errors.Is(err, pipeline.ErrArtifactNotFound) {
				e.log.Warnw("artifact lookup failed, parsing instead", "attribute", def.Name, "error", err)
			}
			return nil, false
		}
		if !a.Valid || a.SourceHash != def.ComputeHash() {
			return nil, false
		}
		program, err := pipeline.DecodeOptimized(a.Payload)
		if err != nil {
			e.log.Warnw("undecodable artifact, parsing instead", "attribute", def.Name, "error", err)
			return nil, false
		}
		if program.Attribute != def.Name || program.SourceHash != a.SourceHash {
			return nil, false
		}
		return &dictionary.CompiledRules{Rules: program.Rules, References: program.References}, true
	}
}

// =============================================================================
// Parsing and evaluation
// =============================================================================

// Parse parses an expression with the current grammar
func (e *Engine) Parse(source string) (ast.Expression, error) {
	return e.registry.Parse(source)
}

// ParseRule parses a rule statement with the current grammar
func (e *Engine) ParseRule(source string) (*ast.RuleStatement, error) {
	return e.registry.ParseRule(source)
}

// Evaluate parses source and evaluates it against facts
func (e *Engine) Evaluate(source string, facts eval.Facts) (ast.Value, error) {
	expr, err := e.Parse(source)
	if err != nil {
		return ast.Value{}, err
	}
	return e.ev.Evaluate(expr, facts)
}

// Resolve computes targets and their prerequisites. Derived attributes
// evaluated often enough are promoted for compilation afterwards.
func (e *Engine) Resolve(ctx context.Context, targets []string, facts eval.Facts) (eval.Facts, error) {
	catalog := e.Catalog()
	if catalog == nil {
		return nil, fmt.Errorf("engine not started")
	}

	var hot []*dictionary.Entry
	r := resolver.New(catalog, e.ev, resolver.WithMaxDepth(e.cfg.MaxChainDepth), resolver.WithObserver(func(entry *dictionary.Entry) {
		if e.observe(entry) {
			hot = append(hot, entry)
		}
	}))
	out, err := r.Resolve(targets, facts)

	for _, entry := range hot {
		e.promote(ctx, entry)
	}
	return out, err
}

// Plan returns the evaluation order for targets
func (e *Engine) Plan(targets []string, facts eval.Facts) (*resolver.ExecutionPlan, error) {
	catalog := e.Catalog()
	if catalog == nil {
		return nil, fmt.Errorf("engine not started")
	}
	return resolver.New(catalog, e.ev, resolver.WithMaxDepth(e.cfg.MaxChainDepth)).Plan(targets, facts)
}

// =============================================================================
// Hot-rule promotion
// =============================================================================

// observe counts one evaluation and reports whether entry just crossed the
// threshold
func (e *Engine) observe(entry *dictionary.Entry) bool {
	if e.cfg.HotThreshold <= 0 || e.service == nil || entry.Precompiled || !entry.Definition.IsDerived() {
		return false
	}
	name := entry.Definition.Name

	e.hotMu.Lock()
	defer e.hotMu.Unlock()
	if e.promoted[name] {
		return false
	}
	e.counts[name]++
	if e.counts[name] < e.cfg.HotThreshold {
		return false
	}
	e.promoted[name] = true
	return true
}

func (e *Engine) promote(ctx context.Context, entry *dictionary.Entry) {
	def := entry.Definition
	job, err := e.service.Promote(ctx, def.AttributeID)
	if err != nil {
		// try again at the next threshold crossing
		e.hotMu.Lock()
		delete(e.promoted, def.Name)
		e.counts[def.Name] = 0
		e.hotMu.Unlock()
		e.log.Warnw("hot rule promotion failed", "attribute", def.Name, "error", err)
		return
	}
	if job != nil {
		e.log.Infow("hot rule promoted", "attribute", def.Name, "job_id", job.JobID, "priority", job.Priority)
	}
}

// Evaluations returns how often name was evaluated since its last promotion
// or since the engine started
func (e *Engine) Evaluations(name string) int {
	e.hotMu.Lock()
	defer e.hotMu.Unlock()
	return e.counts[name]
}
