package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/eval"
	"derived-dsl/internal/grammar"
	"derived-dsl/internal/vocabulary"
)

func mustSpec(t *testing.T) *grammar.ParserSpec {
	t.Helper()
	spec, err := grammar.CompileGrammar(vocabulary.DefaultGrammarRules(), vocabulary.DefaultGrammarExtensions())
	require.NoError(t, err)
	return spec
}

func mustBody(t *testing.T, spec *grammar.ParserSpec, attribute, src string) ast.RuleBody {
	t.Helper()
	body, err := dictionary.ParseRuleSource(attribute, src, spec)
	require.NoError(t, err, src)
	return body
}

func TestFold(t *testing.T) {
	spec := mustSpec(t)
	tests := []struct {
		src  string
		want string
	}{
		{"100 + 25 * 2 - 10 / 2", "145"},
		{`"Hello " & "World"`, `"Hello World"`},
		{"a + 2 * 3", "(a + 6)"},
		{`UPPER("abc") & name`, `("ABC" & name)`},
		{"CAST(7 AS FLOAT) / 2", "3.5"},
		{`LOOKUP("k", "t")`, `LOOKUP("k", "t")`},
		{"1 / 0", "(1 / 0)"},
		{"ABS(x - (1 + 1))", "ABS((x - 2))"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expr, err := grammar.Parse(tt.src, spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ast.Format(Fold(expr)))
		})
	}
}

func TestFold_PreservesResults(t *testing.T) {
	spec := mustSpec(t)
	facts := eval.Facts{"a": ast.Int(4), "name": ast.Str("x")}
	for _, src := range []string{
		"a * (3 + 4) - 10 / 5",
		`UPPER("ab") & name & LOWER("CD")`,
		"MAX(a, 2 * 3, 1) + ROUND(2.5)",
		"a > 1 + 2 AND 2 < 3",
	} {
		expr, err := grammar.Parse(src, spec)
		require.NoError(t, err)
		want, err := eval.Evaluate(expr, facts)
		require.NoError(t, err)
		got, err := eval.Evaluate(Fold(expr), facts)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "%s: %s != %s", src, want, got)
	}
}

func TestFoldRules(t *testing.T) {
	spec := mustSpec(t)
	bodies := []ast.RuleBody{
		mustBody(t, spec, "x", "RULE r1 IF 1 > 2 THEN x = 1"),
		mustBody(t, spec, "x", "RULE r2 IF 1 > 2 THEN x = 2 ELSE x = 3 + 4"),
		mustBody(t, spec, "x", "RULE r3 IF a > 1 THEN x = 2 * 2"),
		mustBody(t, spec, "x", "RULE r4 IF 2 > 1 THEN x = a"),
	}
	folded := FoldRules(bodies)
	got := make([]string, len(folded))
	for i, b := range folded {
		got[i] = b.String()
	}
	assert.Equal(t, []string{"7", "IF (a > 1) THEN 4", "a"}, got)
}

func TestOptimizedRoundTrip(t *testing.T) {
	spec := mustSpec(t)
	p := &Program{
		Attribute:  "risk",
		SourceHash: "abc123",
		Rules: []ast.RuleBody{
			mustBody(t, spec, "risk", `RULE r1 IF pep AND country == "IR" OR score >= 2.5 THEN risk = "HIGH" ELSE risk = NULL`),
			mustBody(t, spec, "risk", `RULE r2 IF NOT_SET == FALSE THEN risk = CAST(score AS INTEGER)`),
			mustBody(t, spec, "risk", `CONCAT(SUBSTRING(name, 1, 3), "-", -4)`),
		},
		References: []string{"pep", "country", "score", "NOT_SET", "name"},
	}
	data, err := EncodeOptimized(p)
	require.NoError(t, err)

	got, err := DecodeOptimized(data)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeOptimized_Errors(t *testing.T) {
	_, err := DecodeOptimized(nil)
	assert.ErrorContains(t, err, "no payload")

	_, err = DecodeOptimized([]byte("not bson"))
	assert.Error(t, err)
}
