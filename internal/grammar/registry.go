package grammar

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/vocabulary"
)

// Registry publishes the current ParserSpec. Readers take a snapshot with
// Current and keep using it for the whole parse; Reload swaps atomically.
// Active rows that fail to compile withdraw the parser until a later Reload
// compiles again.
type Registry struct {
	repo    vocabulary.GrammarRepository
	log     *zap.SugaredLogger
	current atomic.Pointer[ParserSpec]
	failure atomic.Pointer[error]

	mu      sync.Mutex // serialises reloads
	version int64
}

// NewRegistry creates an empty registry; call Reload before parsing
func NewRegistry(repo vocabulary.GrammarRepository, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{repo: repo, log: log}
}

// Current returns the published ParserSpec, or nil before the first successful
// Reload and while the stored grammar does not compile
func (r *Registry) Current() *ParserSpec {
	return r.current.Load()
}

// Err returns the compile failure of the last Reload, or nil
func (r *Registry) Err() error {
	if err := r.failure.Load(); err != nil {
		return *err
	}
	return nil
}

// Reload loads the active grammar rows and republishes the parser when they
// changed. A compile failure withdraws the parser; a failure to read the rows
// leaves the previous one in place.
func (r *Registry) Reload(ctx context.Context) (*ParserSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules, exts, err := vocabulary.ActiveGrammar(ctx, r.repo)
	if err != nil {
		return r.current.Load(), err
	}

	prev := r.current.Load()
	if prev != nil && prev.Fingerprint() == Fingerprint(rules, exts) {
		r.log.Debugf("grammar unchanged at version %d", prev.Version())
		return prev, nil
	}

	compiled, err := CompileGrammar(rules, exts)
	if err != nil {
		err = fmt.Errorf("failed to compile grammar: %w", err)
		r.log.Errorf("parsing blocked until the grammar is fixed: %v", err)
		r.current.Store(nil)
		r.failure.Store(&err)
		return nil, err
	}

	r.version++
	spec := compiled.withVersion(r.version)
	r.current.Store(spec)
	r.failure.Store(nil)
	r.log.Infof("grammar version %d published (%d rules, %d functions, fingerprint %.12s)",
		spec.Version(), len(spec.rules), len(spec.functions), spec.Fingerprint())
	return spec, nil
}

// Parse parses an expression against the current snapshot
func (r *Registry) Parse(source string) (ast.Expression, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	return Parse(source, r.Current())
}

// ParseRule parses a rule statement against the current snapshot
func (r *Registry) ParseRule(source string) (*ast.RuleStatement, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	return ParseRule(source, r.Current())
}
