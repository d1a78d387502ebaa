package grammar

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"derived-dsl/internal/vocabulary"
)

// MaxDepth bounds rule nesting during a parse
const MaxDepth = 1024

// Node is a concrete parse tree node
type Node struct {
	Rule     string
	Category vocabulary.RuleCategory
	Text     string
	Offset   int
	Children []*Node
}

// matcher is a compiled parsing function. atomic disables implicit
// whitespace skipping and node emission for the called rules.
type matcher func(s *scanState, pos int, atomic bool) (end int, nodes []*Node, ok bool)

type compiledRule struct {
	name       string
	kind       vocabulary.RuleKind
	category   vocabulary.RuleCategory
	body       matcher
	reportable bool
}

type frame struct {
	rule  *compiledRule
	start int
}

// scanState is the per-parse mutable state; the ParserSpec itself is shared
type scanState struct {
	input    string
	spec     *ParserSpec
	frames   []frame
	quiet    int
	exceeded bool

	farthest  int
	expected  map[string]bool
	farFrame  frame
	haveFrame bool
}

// fail records an expectation at pos unless an enclosing reportable rule
// starting at the same offset will describe it instead
func (s *scanState) fail(pos int, label string) {
	if s.quiet > 0 {
		return
	}
	owner, ok := s.reportableFrame(len(s.frames) - 1)
	if ok && owner.start == pos {
		return
	}
	s.record(pos, label, owner, ok)
}

func (s *scanState) record(pos int, label string, owner frame, haveOwner bool) {
	if pos < s.farthest {
		return
	}
	if pos > s.farthest {
		s.farthest = pos
		s.expected = make(map[string]bool)
		s.farFrame, s.haveFrame = owner, haveOwner
	}
	s.expected[label] = true
}

func (s *scanState) reportableFrame(from int) (frame, bool) {
	for i := from; i >= 0; i-- {
		if s.frames[i].rule.reportable {
			return s.frames[i], true
		}
	}
	return frame{}, false
}

// skip consumes WHITESPACE and COMMENT matches
func (s *scanState) skip(pos int) int {
	if len(s.spec.skip) == 0 {
		return pos
	}
	s.quiet++
	defer func() { s.quiet-- }()
	for {
		progressed := false
		for _, r := range s.spec.skip {
			if end, _, ok := r.match(s, pos, true); ok && end > pos {
				pos = end
				progressed = true
			}
		}
		if !progressed {
			return pos
		}
	}
}

func (r *compiledRule) match(s *scanState, pos int, atomic bool) (int, []*Node, bool) {
	if s.exceeded {
		return pos, nil, false
	}
	if len(s.frames) >= MaxDepth {
		s.exceeded = true
		return pos, nil, false
	}
	s.frames = append(s.frames, frame{rule: r, start: pos})
	end, children, ok := r.body(s, pos, atomic || r.kind == vocabulary.RuleKindAtomic)
	s.frames = s.frames[:len(s.frames)-1]

	if !ok {
		if r.reportable && s.quiet == 0 {
			owner, has := s.reportableFrame(len(s.frames) - 1)
			if !has || owner.start != pos {
				s.record(pos, r.name, frame{rule: r, start: pos}, true)
			}
		}
		return pos, nil, false
	}

	switch {
	case atomic:
		// inside an atomic caller nothing is emitted
		return end, nil, true
	case r.kind == vocabulary.RuleKindSilent:
		return end, children, true
	case r.kind == vocabulary.RuleKindAtomic:
		children = nil
	}
	return end, []*Node{{
		Rule:     r.name,
		Category: r.category,
		Text:     s.input[pos:end],
		Offset:   pos,
		Children: children,
	}}, true
}

// buildCombinators creates every rule shell first so references can be bound
// before bodies are compiled
func buildCombinators(metas map[string]*ruleMeta) map[string]*compiledRule {
	rules := make(map[string]*compiledRule, len(metas))
	for name, m := range metas {
		rules[name] = &compiledRule{
			name:     name,
			kind:     m.kind,
			category: m.category,
			reportable: m.kind != vocabulary.RuleKindSilent &&
				m.category != vocabulary.CategoryFragment &&
				m.category != vocabulary.CategoryRoot,
		}
	}
	for name, m := range metas {
		rules[name].body = compileProduction(m.prod, rules)
	}
	return rules
}

func compileProduction(prod *Production, rules map[string]*compiledRule) matcher {
	alts := make([]matcher, len(prod.Alternatives))
	for i, alt := range prod.Alternatives {
		alts[i] = compileSequence(alt.Tokens, rules)
	}
	if len(alts) == 1 {
		return alts[0]
	}
	return func(s *scanState, pos int, atomic bool) (int, []*Node, bool) {
		for _, alt := range alts {
			if end, nodes, ok := alt(s, pos, atomic); ok {
				return end, nodes, true
			}
		}
		return pos, nil, false
	}
}

func compileSequence(tokens []Token, rules map[string]*compiledRule) matcher {
	steps := make([]matcher, len(tokens))
	for i, tok := range tokens {
		steps[i] = compileToken(tok, rules)
	}
	if len(steps) == 1 {
		return steps[0]
	}
	return func(s *scanState, pos int, atomic bool) (int, []*Node, bool) {
		var nodes []*Node
		cur := pos
		for i, step := range steps {
			next := cur
			if i > 0 && !atomic {
				next = s.skip(cur)
			}
			end, got, ok := step(s, next, atomic)
			if !ok {
				return pos, nil, false
			}
			if end == next {
				// zero-width match: leave skipped whitespace for the next element
				end = cur
			}
			nodes = append(nodes, got...)
			cur = end
		}
		return cur, nodes, true
	}
}

func compileToken(tok Token, rules map[string]*compiledRule) matcher {
	m := compileCore(tok, rules)
	switch tok.Repeat {
	case RepeatOptional:
		m = optional(m)
	case RepeatZeroOrMore:
		m = repeat(m, 0)
	case RepeatOneOrMore:
		m = repeat(m, 1)
	}
	switch tok.Lookahead {
	case LookaheadNot:
		m = lookahead(m, false)
	case LookaheadAnd:
		m = lookahead(m, true)
	}
	return m
}

func compileCore(tok Token, rules map[string]*compiledRule) matcher {
	switch tok.Type {
	case TokenLiteral:
		return literal(tok.Value)
	case TokenKeyword:
		return keyword(tok.Value)
	case TokenRange:
		return charRange(tok.Lo, tok.Hi)
	case TokenBuiltin:
		return builtin(tok.Value)
	case TokenGroup:
		return compileProduction(tok.Group, rules)
	case TokenRuleRef:
		target := rules[tok.Value]
		return target.match
	}
	panic(fmt.Sprintf("grammar: unknown token type %d", tok.Type))
}

func literal(text string) matcher {
	label := strconv.Quote(text)
	return func(s *scanState, pos int, _ bool) (int, []*Node, bool) {
		if strings.HasPrefix(s.input[pos:], text) {
			return pos + len(text), nil, true
		}
		s.fail(pos, label)
		return pos, nil, false
	}
}

// keyword matches text case-insensitively; a word-like keyword must not run
// into a following identifier character
func keyword(text string) matcher {
	label := strconv.Quote(text)
	bounded := text != "" && isIdentByte(text[len(text)-1])
	return func(s *scanState, pos int, _ bool) (int, []*Node, bool) {
		end := pos + len(text)
		if end <= len(s.input) && strings.EqualFold(s.input[pos:end], text) &&
			!(bounded && end < len(s.input) && isIdentByte(s.input[end])) {
			return end, nil, true
		}
		s.fail(pos, label)
		return pos, nil, false
	}
}

func charRange(lo, hi rune) matcher {
	label := fmt.Sprintf("'%c'..'%c'", lo, hi)
	return func(s *scanState, pos int, _ bool) (int, []*Node, bool) {
		if pos < len(s.input) {
			r, size := utf8.DecodeRuneInString(s.input[pos:])
			if r >= lo && r <= hi {
				return pos + size, nil, true
			}
		}
		s.fail(pos, label)
		return pos, nil, false
	}
}

func builtin(name string) matcher {
	switch name {
	case builtinSOI:
		return func(s *scanState, pos int, _ bool) (int, []*Node, bool) {
			if pos == 0 {
				return pos, nil, true
			}
			s.fail(pos, "start of input")
			return pos, nil, false
		}
	case builtinEOI:
		return func(s *scanState, pos int, _ bool) (int, []*Node, bool) {
			if pos == len(s.input) {
				return pos, nil, true
			}
			s.fail(pos, "end of input")
			return pos, nil, false
		}
	default:
		return func(s *scanState, pos int, _ bool) (int, []*Node, bool) {
			if pos < len(s.input) {
				_, size := utf8.DecodeRuneInString(s.input[pos:])
				return pos + size, nil, true
			}
			s.fail(pos, "any character")
			return pos, nil, false
		}
	}
}

func optional(m matcher) matcher {
	return func(s *scanState, pos int, atomic bool) (int, []*Node, bool) {
		if end, nodes, ok := m(s, pos, atomic); ok {
			return end, nodes, true
		}
		return pos, nil, true
	}
}

func repeat(m matcher, min int) matcher {
	return func(s *scanState, pos int, atomic bool) (int, []*Node, bool) {
		var nodes []*Node
		cur := pos
		for count := 0; ; count++ {
			next := cur
			if count > 0 && !atomic {
				next = s.skip(cur)
			}
			end, got, ok := m(s, next, atomic)
			if !ok || end == next {
				if count < min {
					return pos, nil, false
				}
				return cur, nodes, true
			}
			nodes = append(nodes, got...)
			cur = end
		}
	}
}

// lookahead never consumes input and never emits nodes
func lookahead(m matcher, want bool) matcher {
	return func(s *scanState, pos int, atomic bool) (int, []*Node, bool) {
		s.quiet++
		_, _, ok := m(s, pos, atomic)
		s.quiet--
		return pos, nil, ok == want
	}
}

// parseTree runs the root production over input
func parseTree(input string, spec *ParserSpec) (*Node, error) {
	if spec == nil {
		return nil, fmt.Errorf("parse: no parser spec loaded")
	}
	root, ok := spec.rules[spec.root]
	if !ok {
		return nil, fmt.Errorf("parse: root rule %s missing from spec", spec.root)
	}

	s := &scanState{input: input, spec: spec, expected: make(map[string]bool)}
	end, nodes, matched := root.match(s, 0, false)
	if s.exceeded {
		line, col := position(input, s.farthest)
		return nil, &ParseError{
			Offset:  s.farthest,
			Line:    line,
			Column:  col,
			Found:   describeAt(input, s.farthest),
			Message: fmt.Sprintf("maximum nesting depth of %d exceeded", MaxDepth),
		}
	}
	if !matched || end != len(input) {
		return nil, s.parseError(end)
	}
	if len(nodes) != 1 {
		return nil, fmt.Errorf("parse: root rule %s produced %d nodes", spec.root, len(nodes))
	}
	return nodes[0], nil
}

func (s *scanState) parseError(end int) *ParseError {
	offset := s.farthest
	if end > offset {
		offset = end
	}
	line, col := position(s.input, offset)
	pe := &ParseError{
		Offset: offset,
		Line:   line,
		Column: col,
		Found:  describeAt(s.input, offset),
	}
	for label := range s.expected {
		pe.Expected = append(pe.Expected, label)
	}
	sort.Strings(pe.Expected)

	if s.haveFrame && offset == len(s.input) && s.farFrame.rule.category == vocabulary.CategoryLiteral &&
		s.farFrame.start < len(s.input) && (s.input[s.farFrame.start] == '"' || s.input[s.farFrame.start] == '\'') {
		pe.Message = "unterminated string literal"
	}
	return pe
}
