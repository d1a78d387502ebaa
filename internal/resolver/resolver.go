// Package resolver computes derived attributes in dependency order. The
// traversal keeps its own stack so deep chains never grow the goroutine
// stack, and an in-progress set turns cycles into CyclicDependencyError.
package resolver

import (
	"fmt"
	"strings"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/eval"
)

// DefaultMaxDepth bounds the length of a dependency chain
const DefaultMaxDepth = 10000

// Resolver resolves targets against one catalog snapshot. It holds no
// per-call state, so one Resolver may serve concurrent calls.
type Resolver struct {
	catalog  *dictionary.Catalog
	ev       *eval.Evaluator
	maxDepth int
	observe  func(*dictionary.Entry)
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMaxDepth overrides DefaultMaxDepth
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithObserver registers fn to be called after each attribute is evaluated
func WithObserver(fn func(*dictionary.Entry)) Option {
	return func(r *Resolver) {
		r.observe = fn
	}
}

// New creates a Resolver. A nil evaluator means eval.New().
func New(catalog *dictionary.Catalog, ev *eval.Evaluator, opts ...Option) *Resolver {
	if ev == nil {
		ev = eval.New()
	}
	r := &Resolver{catalog: catalog, ev: ev, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveChain computes targets and everything they depend on. See
// (*Resolver).Resolve.
func ResolveChain(targets []string, initial eval.Facts, catalog *dictionary.Catalog, ev *eval.Evaluator) (eval.Facts, error) {
	return New(catalog, ev).Resolve(targets, initial)
}

// Resolve returns a copy of initial extended with every target and its
// transitive prerequisites. Values already present are never recomputed, so
// resolving an environment that already holds the targets returns an equal
// environment. initial is not modified.
func (r *Resolver) Resolve(targets []string, initial eval.Facts) (eval.Facts, error) {
	env := initial.Clone()
	w := &walker{
		catalog:  r.catalog,
		maxDepth: r.maxDepth,
		known: func(name string) bool {
			_, ok := env[name]
			return ok
		},
		missing: func(name string, chain []string) error {
			attr := name
			if len(chain) > 0 {
				attr = chain[len(chain)-1]
			}
			return &ResolutionError{
				Attribute: attr,
				Chain:     chain,
				Err:       &eval.UndefinedAttributeError{Name: name},
			}
		},
		finish: func(idx int, chain []string) error {
			entry := r.catalog.At(idx)
			name := entry.Definition.Name
			v, err := r.ev.EvaluateRules(name, entry.Rules, env)
			if err != nil {
				return &ResolutionError{Attribute: name, Chain: chain, Err: err}
			}
			v, err = conform(name, entry.Kind, v)
			if err != nil {
				return &ResolutionError{Attribute: name, Chain: chain, Err: err}
			}
			env[name] = v
			if r.observe != nil {
				r.observe(entry)
			}
			return nil
		},
	}
	if err := w.run(targets); err != nil {
		return nil, err
	}
	return env, nil
}

// conform checks v against the declared kind. NULL fits any kind and
// integers widen to FLOAT.
func conform(name string, declared ast.ValueKind, v ast.Value) (ast.Value, error) {
	switch {
	case v.IsNull(), v.Kind == declared:
		return v, nil
	case declared == ast.KindFloat && v.Kind == ast.KindInteger:
		return ast.Float(float64(v.Int)), nil
	}
	return ast.Null, &DeclaredTypeError{Attribute: name, Declared: declared, Got: v.Kind}
}

type frame struct {
	idx  int
	next int
}

// walker performs the post-order traversal shared by Resolve and Plan.
// finish runs once per derived attribute after all of its dependencies are
// known, and must make the attribute known.
type walker struct {
	catalog  *dictionary.Catalog
	maxDepth int
	known    func(name string) bool
	missing  func(name string, chain []string) error
	finish   func(idx int, chain []string) error
}

func (w *walker) derived(name string) (int, bool) {
	idx, ok := w.catalog.Index(name)
	if !ok || !w.catalog.At(idx).Definition.IsDerived() {
		return 0, false
	}
	return idx, true
}

func (w *walker) chain(stack []frame) []string {
	names := make([]string, len(stack))
	for i, f := range stack {
		names[i] = w.catalog.At(f.idx).Definition.Name
	}
	return names
}

func (w *walker) run(targets []string) error {
	for _, target := range targets {
		if w.known(target) {
			continue
		}
		idx, ok := w.derived(target)
		if !ok {
			if err := w.missing(target, nil); err != nil {
				return err
			}
			continue
		}

		stack := []frame{{idx: idx}}
		onStack := map[int]int{idx: 0}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := w.catalog.At(top.idx).Dependencies
			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				if w.known(dep) {
					continue
				}
				j, ok := w.derived(dep)
				if !ok {
					if err := w.missing(dep, w.chain(stack)); err != nil {
						return err
					}
					continue
				}
				if pos, cyclic := onStack[j]; cyclic {
					return &CyclicDependencyError{Path: append(w.chain(stack[pos:]), dep)}
				}
				if len(stack) >= w.maxDepth {
					return fmt.Errorf("%w (%d): %s", ErrDepthExceeded, w.maxDepth, strings.Join(w.chain(stack), " -> "))
				}
				onStack[j] = len(stack)
				stack = append(stack, frame{idx: j})
				continue
			}

			if err := w.finish(top.idx, w.chain(stack)); err != nil {
				return err
			}
			delete(onStack, top.idx)
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}
