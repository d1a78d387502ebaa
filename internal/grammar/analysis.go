package grammar

import "sort"

// grammarGraph is the static view of a rule set used for validation
type grammarGraph struct {
	productions map[string]*Production
	nullable    map[string]bool
}

func newGrammarGraph(productions map[string]*Production) *grammarGraph {
	g := &grammarGraph{productions: productions, nullable: make(map[string]bool)}
	g.computeNullable()
	return g
}

// computeNullable iterates to a fixpoint: a rule is nullable when any of its
// alternatives can succeed without consuming input.
func (g *grammarGraph) computeNullable() {
	for changed := true; changed; {
		changed = false
		for name, prod := range g.productions {
			if g.nullable[name] {
				continue
			}
			if g.productionNullable(prod) {
				g.nullable[name] = true
				changed = true
			}
		}
	}
}

func (g *grammarGraph) productionNullable(prod *Production) bool {
	for _, alt := range prod.Alternatives {
		if g.alternativeNullable(alt) {
			return true
		}
	}
	return false
}

func (g *grammarGraph) alternativeNullable(alt Alternative) bool {
	for _, tok := range alt.Tokens {
		if !g.tokenNullable(tok) {
			return false
		}
	}
	return true
}

func (g *grammarGraph) tokenNullable(tok Token) bool {
	if tok.Lookahead != LookaheadNone || tok.Repeat == RepeatZeroOrMore || tok.Repeat == RepeatOptional {
		return true
	}
	return g.coreNullable(tok)
}

// coreNullable ignores repetition and lookahead on the token
func (g *grammarGraph) coreNullable(tok Token) bool {
	switch tok.Type {
	case TokenLiteral, TokenKeyword:
		return tok.Value == ""
	case TokenRange:
		return false
	case TokenBuiltin:
		return tok.Value != builtinANY
	case TokenRuleRef:
		return g.nullable[tok.Value]
	case TokenGroup:
		return g.productionNullable(tok.Group)
	}
	return false
}

// leftmost returns the rules that can be invoked at the starting position of prod
func (g *grammarGraph) leftmost(prod *Production) []string {
	var out []string
	for _, alt := range prod.Alternatives {
		for _, tok := range alt.Tokens {
			switch tok.Type {
			case TokenRuleRef:
				out = append(out, tok.Value)
			case TokenGroup:
				out = append(out, g.leftmost(tok.Group)...)
			}
			if !g.tokenNullable(tok) {
				break
			}
		}
	}
	return out
}

// leftRecursion returns one cycle path per left-recursive strongly connected
// group, e.g. [a b a]. Paths are deterministic for a given rule set.
func (g *grammarGraph) leftRecursion() [][]string {
	edges := make(map[string][]string, len(g.productions))
	names := make([]string, 0, len(g.productions))
	for name, prod := range g.productions {
		names = append(names, name)
		var targets []string
		seen := make(map[string]bool)
		for _, ref := range g.leftmost(prod) {
			if _, ok := g.productions[ref]; ok && !seen[ref] {
				seen[ref] = true
				targets = append(targets, ref)
			}
		}
		sort.Strings(targets)
		edges[name] = targets
	}
	sort.Strings(names)

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(names))
	var cycles [][]string
	var stack []string

	var visit func(string)
	visit = func(n string) {
		color[n] = grey
		stack = append(stack, n)
		for _, m := range edges[n] {
			switch color[m] {
			case white:
				visit(m)
			case grey:
				idx := len(stack) - 1
				for stack[idx] != m {
					idx--
				}
				cycle := append(append([]string{}, stack[idx:]...), m)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}
	for _, n := range names {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

// emptyRepetitions lists rules containing a * or + over a nullable element,
// which would never terminate
func (g *grammarGraph) emptyRepetitions() []string {
	var bad []string
	var check func(*Production) bool
	check = func(prod *Production) bool {
		for _, alt := range prod.Alternatives {
			for _, tok := range alt.Tokens {
				if (tok.Repeat == RepeatZeroOrMore || tok.Repeat == RepeatOneOrMore) &&
					tok.Lookahead == LookaheadNone && g.coreNullable(tok) {
					return true
				}
				if tok.Type == TokenGroup && check(tok.Group) {
					return true
				}
			}
		}
		return false
	}
	for name, prod := range g.productions {
		if check(prod) {
			bad = append(bad, name)
		}
	}
	sort.Strings(bad)
	return bad
}

// reachable returns every rule reachable from the given roots
func (g *grammarGraph) reachable(roots ...string) map[string]bool {
	seen := make(map[string]bool)
	work := append([]string{}, roots...)
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		prod, ok := g.productions[n]
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		work = append(work, prod.references()...)
	}
	return seen
}
