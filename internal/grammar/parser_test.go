package grammar

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/vocabulary"
)

func defaultSpec(t *testing.T) *ParserSpec {
	t.Helper()
	spec, err := CompileGrammar(vocabulary.DefaultGrammarRules(), vocabulary.DefaultGrammarExtensions())
	require.NoError(t, err)
	return spec
}

func lit(v ast.Value) *ast.Literal      { return &ast.Literal{Value: v} }
func ident(name string) *ast.Identifier { return &ast.Identifier{Name: name} }
func bin(op ast.Operator, l, r ast.Expression) *ast.BinaryOp {
	return &ast.BinaryOp{Op: op, Left: l, Right: r}
}

func TestParse_Expressions(t *testing.T) {
	spec := defaultSpec(t)

	tests := []struct {
		name  string
		input string
		want  ast.Expression
	}{
		{
			name:  "multiplication binds tighter than addition",
			input: "100 + 15 * 3",
			want:  bin(ast.OpAdd, lit(ast.Int(100)), bin(ast.OpMul, lit(ast.Int(15)), lit(ast.Int(3)))),
		},
		{
			name:  "parentheses override precedence",
			input: "(100 + 200) * 1",
			want:  bin(ast.OpMul, bin(ast.OpAdd, lit(ast.Int(100)), lit(ast.Int(200))), lit(ast.Int(1))),
		},
		{
			name:  "subtraction is left associative",
			input: "10 - 3 - 2",
			want:  bin(ast.OpSub, bin(ast.OpSub, lit(ast.Int(10)), lit(ast.Int(3))), lit(ast.Int(2))),
		},
		{
			name:  "concatenation",
			input: `first_name & " " & last_name`,
			want: bin(ast.OpConcat,
				bin(ast.OpConcat, ident("first_name"), lit(ast.Str(" "))),
				ident("last_name")),
		},
		{
			name:  "AND binds tighter than OR",
			input: "a OR b AND c",
			want:  bin(ast.OpOr, ident("a"), bin(ast.OpAnd, ident("b"), ident("c"))),
		},
		{
			name:  "comparison below arithmetic",
			input: "risk_score >= 50 + 5",
			want:  bin(ast.OpGte, ident("risk_score"), bin(ast.OpAdd, lit(ast.Int(50)), lit(ast.Int(5)))),
		},
		{
			name:  "unregistered function is rejected",
			input: `f(1)`,
			want:  nil,
		},
		{
			name:  "keywords are case-insensitive",
			input: "true and not_null != null",
			want:  bin(ast.OpAnd, lit(ast.Bool(true)), bin(ast.OpNeq, ident("not_null"), lit(ast.Null))),
		},
		{
			name:  "floats and negative numbers",
			input: "-1.5e2 * -3",
			want:  bin(ast.OpMul, lit(ast.Float(-150)), lit(ast.Int(-3))),
		},
		{
			name:  "single quoted string with escape",
			input: `'it\'s'`,
			want:  lit(ast.Str("it's")),
		},
		{
			name:  "function call with canonical name",
			input: `substring(name, 1, 3)`,
			want: &ast.FunctionCall{Name: "SUBSTRING", Args: []ast.Expression{
				ident("name"), lit(ast.Int(1)), lit(ast.Int(3)),
			}},
		},
		{
			name:  "cast",
			input: `CAST(amount AS integer)`,
			want:  &ast.Cast{Expr: ident("amount"), Target: ast.KindInteger},
		},
		{
			name:  "comments and newlines are skipped",
			input: "1 + // first\n 2 # second\n",
			want:  bin(ast.OpAdd, lit(ast.Int(1)), lit(ast.Int(2))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, spec)
			if tt.want == nil {
				// f is not a registered function, so f(1) is an identifier followed by garbage
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	spec := defaultSpec(t)
	input := `IS_LEI(lei) AND (jurisdiction == "LU" OR UPPER(country) & "X" == "USX")`

	first, err := Parse(input, spec)
	require.NoError(t, err)
	second, err := Parse(input, spec)
	require.NoError(t, err)
	assert.True(t, cmp.Equal(first, second))

	// canonical text reparses to the same tree
	again, err := Parse(ast.Format(first), spec)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, again))
}

func TestParseRule(t *testing.T) {
	spec := defaultSpec(t)

	stmt, err := ParseRule(`rule risk_band if risk_score > 70 then band = "HIGH" else band = "LOW"`, spec)
	require.NoError(t, err)

	want := &ast.RuleStatement{
		Name:      "risk_band",
		Condition: bin(ast.OpGt, ident("risk_score"), lit(ast.Int(70))),
		Then:      ast.Assignment{Target: "band", Expr: lit(ast.Str("HIGH"))},
		Else:      &ast.Assignment{Target: "band", Expr: lit(ast.Str("LOW"))},
	}
	assert.Empty(t, cmp.Diff(want, stmt))

	stmt, err = ParseRule(`RULE x IF a > 1 THEN y = a * 2`, spec)
	require.NoError(t, err)
	assert.Nil(t, stmt.Else)
	assert.Equal(t, "RULE x IF (a > 1) THEN y = (a * 2)", stmt.String())

	_, err = Parse(`RULE x IF a THEN y = 1`, spec)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)

	_, err = ParseRule(`a + 1`, spec)
	require.ErrorAs(t, err, &pe)
}

func TestParse_Errors(t *testing.T) {
	spec := defaultSpec(t)

	t.Run("missing operand", func(t *testing.T) {
		_, err := Parse("1 +", spec)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 3, pe.Offset)
		assert.Equal(t, 1, pe.Line)
		assert.Equal(t, 4, pe.Column)
		assert.Equal(t, []string{"term"}, pe.Expected)
		assert.Equal(t, "end of input", pe.Found)
	})

	t.Run("position on later line", func(t *testing.T) {
		_, err := Parse("1 +\n  2 *\n  )", spec)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 3, pe.Line)
		assert.Equal(t, 3, pe.Column)
		assert.Contains(t, pe.Error(), "line 3, column 3")
	})

	t.Run("unterminated string", func(t *testing.T) {
		_, err := Parse(`name & "abc`, spec)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "unterminated string literal", pe.Message)
	})

	t.Run("unclosed parenthesis lists alternatives", func(t *testing.T) {
		_, err := Parse("(1 + 2", spec)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Contains(t, pe.Expected, `")"`)
		assert.Contains(t, pe.Expected, "additive_op")
	})

	t.Run("arity mismatch", func(t *testing.T) {
		_, err := Parse(`SUBSTRING("abc")`, spec)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Contains(t, pe.Message, "SUBSTRING called with 1 arguments")
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := Parse("", spec)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, []string{"expression", "rule_statement"}, pe.Expected)
	})

	t.Run("nesting depth bounded", func(t *testing.T) {
		input := strings.Repeat("(", 300) + "1" + strings.Repeat(")", 300)
		_, err := Parse(input, spec)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Contains(t, pe.Message, "nesting depth")
	})

	t.Run("no spec", func(t *testing.T) {
		_, err := Parse("1", nil)
		require.Error(t, err)
		assert.False(t, errors.As(err, new(*ParseError)))
	})
}

func TestParse_ExtensionRowAddsFunction(t *testing.T) {
	rules := vocabulary.DefaultGrammarRules()
	exts := vocabulary.DefaultGrammarExtensions()

	spec, err := CompileGrammar(rules, exts)
	require.NoError(t, err)
	_, err = Parse("DOUBLE(21)", spec)
	require.Error(t, err)

	exts = append(exts, &vocabulary.GrammarExtension{
		Name:      "DOUBLE",
		Kind:      vocabulary.ExtensionFunction,
		Category:  "function_name",
		Signature: "DOUBLE(number)",
		Active:    true,
	})
	spec, err = CompileGrammar(rules, exts)
	require.NoError(t, err)

	got, err := Parse("double(21)", spec)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(&ast.FunctionCall{Name: "DOUBLE", Args: []ast.Expression{lit(ast.Int(21))}}, got))

	// identifiers sharing the prefix still parse as identifiers
	got, err = Parse("doubled", spec)
	require.NoError(t, err)
	assert.Equal(t, ident("doubled"), got)
}

func TestParse_ExtensionRowAddsOperator(t *testing.T) {
	exts := append(vocabulary.DefaultGrammarExtensions(), &vocabulary.GrammarExtension{
		Name:      "<>",
		Kind:      vocabulary.ExtensionOperator,
		Category:  "comparison_op",
		Signature: "Neq",
		Active:    true,
	})
	spec, err := CompileGrammar(vocabulary.DefaultGrammarRules(), exts)
	require.NoError(t, err)

	got, err := Parse("a <> b", spec)
	require.NoError(t, err)
	assert.Equal(t, bin(ast.OpNeq, ident("a"), ident("b")), got)

	// longest match first: <= is not split into < and =
	got, err = Parse("a <= b", spec)
	require.NoError(t, err)
	assert.Equal(t, bin(ast.OpLte, ident("a"), ident("b")), got)
}
