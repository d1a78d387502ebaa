// Package grammar compiles database-stored grammar rows into an executable
// parser and builds typed ASTs from the resulting parse trees.
package grammar

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/vocabulary"
)

// Implicit skip rules, run in atomic mode between tokens of non-atomic rules
const (
	WhitespaceRule = "WHITESPACE"
	CommentRule    = "COMMENT"
)

// FunctionSignature describes the arity of a registered function
type FunctionSignature struct {
	Name    string
	Params  []string
	MinArgs int
	MaxArgs int // -1 for variadic
}

// Accepts reports whether n arguments satisfy the signature
func (f FunctionSignature) Accepts(n int) bool {
	return n >= f.MinArgs && (f.MaxArgs < 0 || n <= f.MaxArgs)
}

func (f FunctionSignature) String() string {
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(f.Params, ", "))
}

// ParseSignature parses NAME(a, b, [c]) or NAME(a, ...). Bracketed
// parameters are optional and must trail; "..." makes the function variadic.
func ParseSignature(sig string) (FunctionSignature, error) {
	sig = strings.TrimSpace(sig)
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return FunctionSignature{}, fmt.Errorf("malformed signature %q", sig)
	}
	fs := FunctionSignature{Name: strings.TrimSpace(sig[:open])}
	inner := strings.TrimSpace(sig[open+1 : len(sig)-1])
	if inner == "" {
		return fs, nil
	}

	optional := false
	for i, raw := range strings.Split(inner, ",") {
		p := strings.TrimSpace(raw)
		switch {
		case p == "...":
			if i == 0 {
				return FunctionSignature{}, fmt.Errorf("signature %q: variadic marker needs a preceding parameter", sig)
			}
			fs.Params = append(fs.Params, p)
			fs.MaxArgs = -1
			return fs, nil
		case strings.HasPrefix(p, "[") && strings.HasSuffix(p, "]"):
			optional = true
			fs.Params = append(fs.Params, p)
			fs.MaxArgs++
		case p == "":
			return FunctionSignature{}, fmt.Errorf("signature %q has an empty parameter", sig)
		default:
			if optional {
				return FunctionSignature{}, fmt.Errorf("signature %q: required parameter %s follows an optional one", sig, p)
			}
			fs.Params = append(fs.Params, p)
			fs.MinArgs++
			fs.MaxArgs++
		}
	}
	return fs, nil
}

// ParserSpec is an immutable, executable grammar. A ParserSpec is never modified
// after CompileGrammar returns; reloads produce a new one.
type ParserSpec struct {
	version     int64
	fingerprint string
	compiledAt  time.Time
	root        string

	rules     map[string]*compiledRule
	skip      []*compiledRule
	operators map[string]ast.Operator
	functions map[string]FunctionSignature
	keywords  map[string]bool
}

// Version is the registry generation this parser was published as (0 if never published)
func (s *ParserSpec) Version() int64 { return s.version }

// Fingerprint is a digest of the rows the parser was compiled from
func (s *ParserSpec) Fingerprint() string { return s.fingerprint }

// CompiledAt is when the parser was built
func (s *ParserSpec) CompiledAt() time.Time { return s.compiledAt }

// Root is the name of the entry production
func (s *ParserSpec) Root() string { return s.root }

// RuleNames lists every production, synthesized ones included, sorted
func (s *ParserSpec) RuleNames() []string {
	names := make([]string, 0, len(s.rules))
	for n := range s.rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Function returns the signature registered under name (case-insensitive)
func (s *ParserSpec) Function(name string) (FunctionSignature, bool) {
	f, ok := s.functions[strings.ToUpper(name)]
	return f, ok
}

// Functions lists the registered function signatures sorted by name
func (s *ParserSpec) Functions() []FunctionSignature {
	out := make([]FunctionSignature, 0, len(s.functions))
	for _, f := range s.functions {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Operator maps an operator symbol to its operation
func (s *ParserSpec) Operator(symbol string) (ast.Operator, bool) {
	op, ok := s.operators[strings.ToUpper(symbol)]
	return op, ok
}

// IsKeyword reports whether word is reserved
func (s *ParserSpec) IsKeyword(word string) bool {
	return s.keywords[strings.ToUpper(word)]
}

// withVersion returns a copy of s stamped with version
func (s *ParserSpec) withVersion(version int64) *ParserSpec {
	cp := *s
	cp.version = version
	return &cp
}

// ruleMeta is the compiler's view of one production before combinators exist
type ruleMeta struct {
	name     string
	kind     vocabulary.RuleKind
	category vocabulary.RuleCategory
	prod     *Production
}

// CompileGrammar validates grammar rows and builds a ParserSpec. Inactive rows
// are ignored. Every problem found is reported; use GrammarErrors to list them.
func CompileGrammar(rules []*vocabulary.GrammarRule, exts []*vocabulary.GrammarExtension) (*ParserSpec, error) {
	var errs error
	add := func(kind GrammarErrorKind, rule, symbol, format string, args ...interface{}) {
		errs = multierr.Append(errs, &GrammarError{Kind: kind, Rule: rule, Symbol: symbol, Message: fmt.Sprintf(format, args...)})
	}

	metas := make(map[string]*ruleMeta)
	var order []string
	var roots []string

	for _, r := range rules {
		if r == nil || !r.Active {
			continue
		}
		if err := r.Validate(); err != nil {
			add(ErrInvalidPattern, r.RuleName, "", "%v", err)
			continue
		}
		if isBuiltin(r.RuleName) || !isIdentifier(r.RuleName) {
			add(ErrInvalidPattern, r.RuleName, "", "rule name must be an identifier and not a builtin")
			continue
		}
		if _, dup := metas[r.RuleName]; dup {
			add(ErrDuplicateName, r.RuleName, r.RuleName, "rule defined more than once")
			continue
		}
		prod, err := ParseProduction(r.Pattern)
		if err != nil {
			add(ErrInvalidPattern, r.RuleName, "", "%v", err)
			// register the name anyway so references to it do not cascade
			prod = nil
		}
		metas[r.RuleName] = &ruleMeta{name: r.RuleName, kind: r.Kind, category: r.Category, prod: prod}
		order = append(order, r.RuleName)
		if r.Category == vocabulary.CategoryRoot {
			roots = append(roots, r.RuleName)
		}
	}

	operators, functions, keywords, synthesized, extErr := synthesizeExtensions(exts, metas)
	errs = multierr.Append(errs, extErr)
	for _, m := range synthesized {
		metas[m.name] = m
		order = append(order, m.name)
	}

	switch len(roots) {
	case 0:
		add(ErrMissingRoot, "", "", "no active rule has category %q", vocabulary.CategoryRoot)
	case 1:
	default:
		sort.Strings(roots)
		add(ErrDuplicateName, roots[1], string(vocabulary.CategoryRoot), "multiple root rules: %s", strings.Join(roots, ", "))
	}

	productions := make(map[string]*Production, len(metas))
	for _, name := range order {
		m := metas[name]
		if m.prod == nil {
			continue
		}
		productions[name] = m.prod
		for _, ref := range m.prod.references() {
			if _, ok := metas[ref]; !ok {
				add(ErrUnresolvedSymbol, name, ref, "reference to undefined rule %s", ref)
			}
		}
	}
	if errs != nil {
		return nil, errs
	}

	root := roots[0]
	graph := newGrammarGraph(productions)
	for _, cycle := range graph.leftRecursion() {
		add(ErrLeftRecursion, cycle[0], strings.Join(cycle, " -> "), "left-recursive production")
	}
	for _, name := range graph.emptyRepetitions() {
		add(ErrInvalidPattern, name, "", "repetition over an element that can match empty input")
	}

	reached := graph.reachable(root, WhitespaceRule, CommentRule)
	languageReached := false
	for _, name := range order {
		if !reached[name] {
			add(ErrUnreachableRule, name, name, "rule is not reachable from root %s", root)
			continue
		}
		switch metas[name].category {
		case vocabulary.CategoryExpression, vocabulary.CategoryStatement:
			languageReached = true
		}
	}
	if !languageReached {
		add(ErrUnreachableRoot, root, root, "root reaches no expression or statement production")
	}
	if errs != nil {
		return nil, errs
	}

	spec := &ParserSpec{
		fingerprint: Fingerprint(rules, exts),
		compiledAt:  time.Now().UTC(),
		root:        root,
		operators:   operators,
		functions:   functions,
		keywords:    keywords,
	}
	spec.rules = buildCombinators(metas)
	for _, name := range []string{WhitespaceRule, CommentRule} {
		if r, ok := spec.rules[name]; ok {
			spec.skip = append(spec.skip, r)
		}
	}
	return spec, nil
}

// GrammarErrors flattens a CompileGrammar error into its individual problems
func GrammarErrors(err error) []*GrammarError {
	var out []*GrammarError
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case nil:
		case *GrammarError:
			out = append(out, x)
		case interface{ Errors() []error }:
			for _, inner := range x.Errors() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}

// synthesizeExtensions turns every extension category into a production whose
// alternatives are the category's symbols, longest first
func synthesizeExtensions(exts []*vocabulary.GrammarExtension, metas map[string]*ruleMeta) (
	map[string]ast.Operator, map[string]FunctionSignature, map[string]bool, []*ruleMeta, error) {

	var errs error
	add := func(kind GrammarErrorKind, rule, symbol, format string, args ...interface{}) {
		errs = multierr.Append(errs, &GrammarError{Kind: kind, Rule: rule, Symbol: symbol, Message: fmt.Sprintf(format, args...)})
	}

	operators := make(map[string]ast.Operator)
	functions := make(map[string]FunctionSignature)
	keywords := make(map[string]bool)

	type category struct {
		kind    vocabulary.ExtensionKind
		symbols map[string]string // folded key -> spelling
	}
	categories := make(map[string]*category)
	var names []string

	for _, e := range exts {
		if e == nil || !e.Active {
			continue
		}
		if err := e.Validate(); err != nil {
			add(ErrInvalidExtension, e.Category, e.Name, "%v", err)
			continue
		}
		if _, clash := metas[e.Category]; clash {
			add(ErrDuplicateName, e.Category, e.Name, "extension category collides with grammar rule %s", e.Category)
			continue
		}
		if !isIdentifier(e.Category) || isBuiltin(e.Category) {
			add(ErrInvalidExtension, e.Category, e.Name, "extension category must be an identifier")
			continue
		}
		if strings.ContainsAny(e.Name, " \t\r\n") {
			add(ErrInvalidExtension, e.Category, e.Name, "extension symbol may not contain whitespace")
			continue
		}
		alpha := isIdentStart(e.Name[0])
		if alpha && !isIdentifier(e.Name) {
			add(ErrInvalidExtension, e.Category, e.Name, "alphabetic symbol must be an identifier")
			continue
		}

		cat, exists := categories[e.Category]
		if exists && cat.kind != e.Kind {
			add(ErrInvalidExtension, e.Category, e.Name, "category mixes %s and %s extensions", cat.kind, e.Kind)
			continue
		}
		key := e.Name
		if alpha {
			key = strings.ToUpper(key)
		}
		if exists {
			if _, dup := cat.symbols[key]; dup {
				add(ErrDuplicateName, e.Category, e.Name, "symbol registered more than once")
				continue
			}
		}

		upper := strings.ToUpper(e.Name)
		switch e.Kind {
		case vocabulary.ExtensionOperator:
			op, err := ast.ParseOperator(e.Signature)
			if err != nil {
				add(ErrInvalidExtension, e.Category, e.Name, "%v", err)
				continue
			}
			if prev, exists := operators[upper]; exists && prev != op {
				add(ErrDuplicateName, e.Category, e.Name, "symbol already bound to %s", prev)
				continue
			}
			operators[upper] = op
		case vocabulary.ExtensionFunction:
			sig, err := ParseSignature(e.Signature)
			if err != nil {
				add(ErrInvalidExtension, e.Category, e.Name, "%v", err)
				continue
			}
			if !strings.EqualFold(sig.Name, e.Name) {
				add(ErrInvalidExtension, e.Category, e.Name, "signature names %s", sig.Name)
				continue
			}
			if _, exists := functions[upper]; exists {
				add(ErrDuplicateName, e.Category, e.Name, "function registered more than once")
				continue
			}
			sig.Name = upper
			functions[upper] = sig
		case vocabulary.ExtensionKeyword:
			keywords[upper] = true
		}
		if !exists {
			cat = &category{kind: e.Kind, symbols: make(map[string]string)}
			categories[e.Category] = cat
			names = append(names, e.Category)
		}
		cat.symbols[key] = e.Name
	}

	sort.Strings(names)
	var synthesized []*ruleMeta
	for _, name := range names {
		cat := categories[name]
		symbols := make([]string, 0, len(cat.symbols))
		for _, s := range cat.symbols {
			symbols = append(symbols, s)
		}
		sort.Slice(symbols, func(i, j int) bool {
			if len(symbols[i]) != len(symbols[j]) {
				return len(symbols[i]) > len(symbols[j])
			}
			return symbols[i] < symbols[j]
		})
		prod := &Production{}
		for _, s := range symbols {
			typ := TokenLiteral
			if isIdentStart(s[0]) {
				typ = TokenKeyword
			}
			prod.Alternatives = append(prod.Alternatives, Alternative{Tokens: []Token{{Type: typ, Value: s}}})
		}
		synthesized = append(synthesized, &ruleMeta{
			name:     name,
			kind:     vocabulary.RuleKindAtomic,
			category: extensionCategory(cat.kind),
			prod:     prod,
		})
	}
	return operators, functions, keywords, synthesized, errs
}

func extensionCategory(kind vocabulary.ExtensionKind) vocabulary.RuleCategory {
	switch kind {
	case vocabulary.ExtensionOperator:
		return vocabulary.CategoryOperator
	case vocabulary.ExtensionFunction:
		return vocabulary.CategoryFunctionName
	default:
		return vocabulary.CategoryKeyword
	}
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

// Fingerprint digests the active rows. Row order does not matter.
func Fingerprint(rules []*vocabulary.GrammarRule, exts []*vocabulary.GrammarExtension) string {
	lines := make([]string, 0, len(rules)+len(exts))
	for _, r := range rules {
		if r == nil || !r.Active {
			continue
		}
		lines = append(lines, fmt.Sprintf("rule\x00%s\x00%s\x00%s\x00%s", r.RuleName, r.Kind, r.Category, r.Pattern))
	}
	for _, e := range exts {
		if e == nil || !e.Active {
			continue
		}
		lines = append(lines, fmt.Sprintf("ext\x00%s\x00%s\x00%s\x00%s", e.Kind, e.Category, e.Name, e.Signature))
	}
	sort.Strings(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
