package resolver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/eval"
	"derived-dsl/internal/grammar"
	"derived-dsl/internal/vocabulary"
)

func mustCatalog(t *testing.T, defs ...*dictionary.AttributeDefinition) *dictionary.Catalog {
	t.Helper()
	spec, err := grammar.CompileGrammar(vocabulary.DefaultGrammarRules(), vocabulary.DefaultGrammarExtensions())
	require.NoError(t, err)
	c, err := dictionary.NewCatalog(defs, spec)
	require.NoError(t, err)
	return c
}

func derived(name, typ string, deps []string, rules ...string) *dictionary.AttributeDefinition {
	return &dictionary.AttributeDefinition{Name: name, Type: typ, Source: dictionary.SourceDerived, Dependencies: deps, Rules: rules}
}

func business(name, typ string) *dictionary.AttributeDefinition {
	return &dictionary.AttributeDefinition{Name: name, Type: typ, Source: dictionary.SourceBusiness}
}

func TestResolveChain_ComputesPrerequisitesFirst(t *testing.T) {
	catalog := mustCatalog(t,
		business("income", "FLOAT"),
		business("debts", "FLOAT"),
		derived("net_worth", "FLOAT", []string{"income", "debts"}, "income - debts"),
		derived("tier", "STRING", []string{"net_worth"},
			`RULE gold IF net_worth >= 100000 THEN tier = "GOLD"`,
			`"STANDARD"`,
		),
		derived("greeting", "STRING", []string{"tier"}, `"Welcome, " & tier & " client"`),
	)
	initial := eval.Facts{"income": ast.Float(250000), "debts": ast.Float(50000)}

	got, err := ResolveChain([]string{"greeting"}, initial, catalog, nil)
	require.NoError(t, err)
	assert.Equal(t, ast.Float(200000), got["net_worth"])
	assert.Equal(t, ast.Str("GOLD"), got["tier"])
	assert.Equal(t, ast.Str("Welcome, GOLD client"), got["greeting"])
	assert.Len(t, initial, 2, "initial facts are not mutated")
}

func TestResolveChain_CycleNamesFullPath(t *testing.T) {
	catalog := mustCatalog(t,
		derived("A", "INTEGER", []string{"B"}, "B + 1"),
		derived("B", "INTEGER", []string{"A"}, "A + 1"),
	)

	_, err := ResolveChain([]string{"A"}, eval.Facts{}, catalog, nil)
	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"A", "B", "A"}, cyc.Path)
	assert.Equal(t, "cyclic dependency: A -> B -> A", cyc.Error())
}

func TestResolveChain_LongerAndSelfCycles(t *testing.T) {
	catalog := mustCatalog(t,
		derived("root", "INTEGER", []string{"a"}, "a"),
		derived("a", "INTEGER", []string{"b"}, "b"),
		derived("b", "INTEGER", []string{"c"}, "c"),
		derived("c", "INTEGER", []string{"a"}, "a"),
		derived("me", "INTEGER", nil, "me + 1"),
	)

	_, err := ResolveChain([]string{"root"}, nil, catalog, nil)
	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cyc.Path, "the path starts at the first repeated attribute")

	_, err = ResolveChain([]string{"me"}, nil, catalog, nil)
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"me", "me"}, cyc.Path)
}

func TestResolveChain_Idempotent(t *testing.T) {
	catalog := mustCatalog(t,
		business("x", "INTEGER"),
		derived("y", "INTEGER", []string{"x"}, "x * 2"),
	)

	first, err := ResolveChain([]string{"y"}, eval.Facts{"x": ast.Int(4)}, catalog, nil)
	require.NoError(t, err)

	calls := 0
	r := New(catalog, nil, WithObserver(func(*dictionary.Entry) { calls++ }))
	second, err := r.Resolve([]string{"y"}, first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Zero(t, calls, "nothing is recomputed")

	// A value already present wins over the rule.
	pinned, err := r.Resolve([]string{"y"}, eval.Facts{"x": ast.Int(4), "y": ast.Int(99)})
	require.NoError(t, err)
	assert.Equal(t, ast.Int(99), pinned["y"])
}

func TestResolveChain_RuleFallthrough(t *testing.T) {
	catalog := mustCatalog(t,
		derived("status", "STRING", nil,
			`RULE never IF 1 > 2 THEN status = "first"`,
			`"second"`,
		),
	)
	got, err := ResolveChain([]string{"status"}, eval.Facts{}, catalog, nil)
	require.NoError(t, err)
	assert.Equal(t, ast.Str("second"), got["status"])
}

func TestResolveChain_UndefinedAttribute(t *testing.T) {
	catalog := mustCatalog(t,
		business("supplied", "INTEGER"),
		derived("total", "INTEGER", []string{"supplied", "bonus"}, "supplied + bonus"),
	)

	t.Run("unknown target", func(t *testing.T) {
		_, err := ResolveChain([]string{"nope"}, nil, catalog, nil)
		var undef *eval.UndefinedAttributeError
		require.ErrorAs(t, err, &undef)
		assert.Equal(t, "nope", undef.Name)
	})

	t.Run("business fact not supplied", func(t *testing.T) {
		_, err := ResolveChain([]string{"total"}, eval.Facts{"bonus": ast.Int(1)}, catalog, nil)
		var undef *eval.UndefinedAttributeError
		require.ErrorAs(t, err, &undef)
		assert.Equal(t, "supplied", undef.Name)

		var res *ResolutionError
		require.ErrorAs(t, err, &res)
		assert.Equal(t, "total", res.Attribute)
		assert.Equal(t, []string{"total"}, res.Chain)
	})

	t.Run("dependency with no definition", func(t *testing.T) {
		_, err := ResolveChain([]string{"total"}, eval.Facts{"supplied": ast.Int(1)}, catalog, nil)
		var undef *eval.UndefinedAttributeError
		require.ErrorAs(t, err, &undef)
		assert.Equal(t, "bonus", undef.Name)
	})
}

func TestResolveChain_EvaluationErrorCarriesChain(t *testing.T) {
	catalog := mustCatalog(t,
		business("n", "INTEGER"),
		derived("ratio", "INTEGER", []string{"n"}, "10 / n"),
		derived("report", "STRING", []string{"ratio"}, `"ratio=" & ratio`),
	)

	_, err := ResolveChain([]string{"report"}, eval.Facts{"n": ast.Int(0)}, catalog, nil)
	var res *ResolutionError
	require.ErrorAs(t, err, &res)
	assert.Equal(t, "ratio", res.Attribute)
	assert.Equal(t, []string{"report", "ratio"}, res.Chain)

	var div *eval.DivisionByZeroError
	assert.ErrorAs(t, err, &div)
	assert.Contains(t, err.Error(), "via report -> ratio")
}

func TestResolveChain_DeclaredType(t *testing.T) {
	catalog := mustCatalog(t,
		derived("widened", "FLOAT", nil, "3"),
		derived("wrong", "INTEGER", nil, `"three"`),
		derived("nothing", "STRING", nil, "NULL"),
	)

	got, err := ResolveChain([]string{"widened", "nothing"}, nil, catalog, nil)
	require.NoError(t, err)
	assert.Equal(t, ast.Float(3), got["widened"])
	assert.Equal(t, ast.Null, got["nothing"])

	_, err = ResolveChain([]string{"wrong"}, nil, catalog, nil)
	var typeErr *DeclaredTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, ast.KindInteger, typeErr.Declared)
	assert.Equal(t, ast.KindString, typeErr.Got)
}

func TestResolveChain_Deterministic(t *testing.T) {
	catalog := mustCatalog(t,
		business("a", "INTEGER"),
		derived("b", "INTEGER", []string{"a"}, "a + 1"),
		derived("c", "INTEGER", []string{"a", "b"}, "a + b"),
		derived("d", "INTEGER", []string{"c", "b"}, "c * b"),
		derived("e", "STRING", []string{"missing"}, "missing"),
	)
	initial := eval.Facts{"a": ast.Int(2)}

	want, err := ResolveChain([]string{"d"}, initial, catalog, nil)
	require.NoError(t, err)
	_, wantErr := ResolveChain([]string{"d", "e"}, initial, catalog, nil)
	require.Error(t, wantErr)

	for i := 0; i < 20; i++ {
		got, err := ResolveChain([]string{"d"}, initial, catalog, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		_, err = ResolveChain([]string{"d", "e"}, initial, catalog, nil)
		assert.Equal(t, wantErr.Error(), err.Error())
	}
}

func TestResolveChain_DeepChainUsesWorklist(t *testing.T) {
	const depth = 2000
	defs := []*dictionary.AttributeDefinition{business("v0", "INTEGER")}
	for i := 1; i <= depth; i++ {
		prev := fmt.Sprintf("v%d", i-1)
		defs = append(defs, derived(fmt.Sprintf("v%d", i), "INTEGER", []string{prev}, prev+" + 1"))
	}
	catalog := mustCatalog(t, defs...)
	target := fmt.Sprintf("v%d", depth)

	got, err := ResolveChain([]string{target}, eval.Facts{"v0": ast.Int(0)}, catalog, nil)
	require.NoError(t, err)
	assert.Equal(t, ast.Int(depth), got[target])

	got, err = New(catalog, nil, WithMaxDepth(depth+1)).Resolve([]string{target}, eval.Facts{"v0": ast.Int(0)})
	require.NoError(t, err)
	assert.Equal(t, ast.Int(depth), got[target])

	_, err = New(catalog, nil, WithMaxDepth(100)).Resolve([]string{target}, eval.Facts{"v0": ast.Int(0)})
	assert.ErrorIs(t, err, ErrDepthExceeded)
}

func TestPlan(t *testing.T) {
	catalog := mustCatalog(t,
		business("a", "INTEGER"),
		derived("b", "INTEGER", []string{"a"}, "a + 1"),
		derived("c", "INTEGER", []string{"b", "ext"}, "b + ext"),
		derived("d", "INTEGER", []string{"c", "b"}, "c + b"),
	)

	plan, err := Plan([]string{"d"}, nil, catalog)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, plan.Order)
	assert.Equal(t, []string{"a", "ext"}, plan.Inputs)

	plan, err = Plan([]string{"d"}, eval.Facts{"b": ast.Int(1), "ext": ast.Int(0)}, catalog)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, plan.Order)
	assert.Empty(t, plan.Inputs)

	cyclic := mustCatalog(t,
		derived("x", "INTEGER", []string{"y"}, "y"),
		derived("y", "INTEGER", []string{"x"}, "x"),
	)
	_, err = Plan([]string{"x"}, nil, cyclic)
	var cyc *CyclicDependencyError
	assert.ErrorAs(t, err, &cyc)
}
