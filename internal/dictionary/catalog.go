package dictionary

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/grammar"
)

// Entry is a compiled definition held by a Catalog
type Entry struct {
	Definition *AttributeDefinition
	Kind       ast.ValueKind
	Rules      []ast.RuleBody
	// Dependencies lists the declared dependencies followed by any attribute
	// the rules reference that was not declared.
	Dependencies []string
	// Precompiled is set when Rules came from a compiled artifact rather
	// than the parser.
	Precompiled bool
}

// CompiledRules is a definition's rules in already-compiled form. References
// are the attributes the rules referenced before any optimization, so an
// entry built from them depends on exactly what the parsed rules depend on.
type CompiledRules struct {
	Rules      []ast.RuleBody
	References []string
}

// Precompiled returns already-compiled rules for a definition, or false when
// the definition must be parsed.
type Precompiled func(def *AttributeDefinition) (*CompiledRules, bool)

// CatalogOption configures NewCatalog
type CatalogOption func(*catalogConfig)

type catalogConfig struct {
	precompiled Precompiled
}

// WithPrecompiled makes NewCatalog try fn before parsing a definition's rules
func WithPrecompiled(fn Precompiled) CatalogOption {
	return func(c *catalogConfig) {
		c.precompiled = fn
	}
}

// Catalog is an immutable set of compiled definitions. Entries live in one
// slice and refer to each other by index.
type Catalog struct {
	entries []Entry
	index   map[string]int
	edges   [][]int
}

// NewCatalog validates and compiles defs. Every problem is reported, not just
// the first one.
func NewCatalog(defs []*AttributeDefinition, spec *grammar.ParserSpec, opts ...CatalogOption) (*Catalog, error) {
	cfg := &catalogConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Catalog{
		entries: make([]Entry, 0, len(defs)),
		index:   make(map[string]int, len(defs)),
	}
	var errs error
	for _, def := range defs {
		if _, dup := c.index[def.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("attribute %s: %w", def.Name, ErrDuplicateName))
			continue
		}
		entry, err := compileEntry(def, spec, cfg)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		c.index[def.Name] = len(c.entries)
		c.entries = append(c.entries, entry)
	}
	if errs != nil {
		return nil, errs
	}

	c.edges = make([][]int, len(c.entries))
	for i, e := range c.entries {
		for _, dep := range e.Dependencies {
			if j, ok := c.index[dep]; ok {
				c.edges[i] = append(c.edges[i], j)
			}
		}
	}
	return c, nil
}

func compileEntry(def *AttributeDefinition, spec *grammar.ParserSpec, cfg *catalogConfig) (Entry, error) {
	if err := def.Validate(); err != nil {
		return Entry{}, err
	}
	kind, _ := def.Kind()
	entry := Entry{Definition: def, Kind: kind}

	var references []string
	if def.IsDerived() {
		if cfg.precompiled != nil {
			if compiled, ok := cfg.precompiled(def); ok && compiled != nil {
				entry.Rules = compiled.Rules
				references = compiled.References
				entry.Precompiled = true
			}
		}
		if !entry.Precompiled {
			if spec == nil {
				return Entry{}, fmt.Errorf("attribute %s: no grammar loaded", def.Name)
			}
			var errs error
			for i, src := range def.Rules {
				body, err := ParseRuleSource(def.Name, src, spec)
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("attribute %s rule %d: %w", def.Name, i+1, err))
					continue
				}
				entry.Rules = append(entry.Rules, body)
			}
			if errs != nil {
				return Entry{}, errs
			}
		}
	}

	entry.Dependencies = append([]string(nil), def.Dependencies...)
	declared := make(map[string]bool, len(def.Dependencies))
	for _, d := range def.Dependencies {
		declared[d] = true
	}
	references = append(append([]string(nil), references...), References(entry.Rules)...)
	for _, name := range references {
		if !declared[name] {
			declared[name] = true
			entry.Dependencies = append(entry.Dependencies, name)
		}
	}
	return entry, nil
}

// References lists the distinct attributes the bodies refer to, in first-seen
// order
func References(bodies []ast.RuleBody) []string {
	exprs := make([]ast.Expression, 0, 3*len(bodies))
	for _, b := range bodies {
		exprs = append(exprs, b.Condition, b.Then, b.Otherwise)
	}
	return ast.Identifiers(exprs...)
}

// ParseRuleSource parses one stored rule. A source starting with RULE must
// assign to attribute in every branch; anything else is an unconditional
// expression.
func ParseRuleSource(attribute, src string, spec *grammar.ParserSpec) (ast.RuleBody, error) {
	src = strings.TrimSpace(src)
	if fields := strings.Fields(src); len(fields) > 0 && strings.EqualFold(fields[0], "RULE") {
		stmt, err := grammar.ParseRule(src, spec)
		if err != nil {
			return ast.RuleBody{}, err
		}
		if stmt.Then.Target != attribute {
			return ast.RuleBody{}, fmt.Errorf("rule %s assigns %s, expected %s", stmt.Name, stmt.Then.Target, attribute)
		}
		if stmt.Else != nil && stmt.Else.Target != attribute {
			return ast.RuleBody{}, fmt.Errorf("rule %s assigns %s in ELSE, expected %s", stmt.Name, stmt.Else.Target, attribute)
		}
		return stmt.Body(), nil
	}
	expr, err := grammar.Parse(src, spec)
	if err != nil {
		return ast.RuleBody{}, err
	}
	return ast.RuleBody{Then: expr}, nil
}

// Len returns the number of entries
func (c *Catalog) Len() int { return len(c.entries) }

// Index returns the arena index of name
func (c *Catalog) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// At returns the entry at index i
func (c *Catalog) At(i int) *Entry { return &c.entries[i] }

// Get returns the entry for name
func (c *Catalog) Get(name string) (*Entry, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return &c.entries[i], true
}

// Edges returns the indices of the catalog entries that entry i depends on,
// in dependency order. Dependencies outside the catalog are omitted.
func (c *Catalog) Edges(i int) []int { return c.edges[i] }

// Names returns every attribute name in sorted order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.index))
	for n := range c.index {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dependents returns the names of entries that depend on name directly or
// transitively, sorted.
func (c *Catalog) Dependents(name string) []string {
	target, ok := c.index[name]
	if !ok {
		return nil
	}
	reverse := make([][]int, len(c.entries))
	for i, deps := range c.edges {
		for _, j := range deps {
			reverse[j] = append(reverse[j], i)
		}
	}
	seen := map[int]bool{target: true}
	queue := []int{target}
	var out []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range reverse[n] {
			if !seen[m] {
				seen[m] = true
				out = append(out, c.entries[m].Definition.Name)
				queue = append(queue, m)
			}
		}
	}
	sort.Strings(out)
	return out
}
