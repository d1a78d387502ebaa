package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/grammar"
)

func body(t *testing.T, src string) ast.RuleBody {
	t.Helper()
	stmt, err := grammar.ParseRule(src, mustSpec(t))
	require.NoError(t, err)
	return stmt.Body()
}

func TestEvaluateRules_FirstMatchWins(t *testing.T) {
	ev := New()
	rules := []ast.RuleBody{
		body(t, `RULE band IF score > 70 THEN band = "HIGH"`),
		body(t, `RULE band IF score > 40 THEN band = "MEDIUM"`),
		{Then: &ast.Literal{Value: ast.Str("LOW")}},
	}

	tests := []struct {
		score int64
		want  string
	}{
		{score: 90, want: "HIGH"},
		{score: 50, want: "MEDIUM"},
		{score: 10, want: "LOW"},
	}
	for _, tt := range tests {
		got, err := ev.EvaluateRules("band", rules, Facts{"score": ast.Int(tt.score)})
		require.NoError(t, err)
		assert.Equal(t, ast.Str(tt.want), got, "score %d", tt.score)
	}
}

func TestEvaluateRules_FallthroughToUnconditional(t *testing.T) {
	rules := []ast.RuleBody{
		body(t, `RULE x IF FALSE THEN x = 1`),
		{Then: &ast.Literal{Value: ast.Int(2)}},
	}
	got, err := New().EvaluateRules("x", rules, Facts{})
	require.NoError(t, err)
	assert.Equal(t, ast.Int(2), got)
}

func TestEvaluateRules_ElseStopsFallthrough(t *testing.T) {
	rules := []ast.RuleBody{
		body(t, `RULE x IF a > 1 THEN x = "big" ELSE x = "small"`),
		{Then: &ast.Literal{Value: ast.Str("unreached")}},
	}
	got, err := New().EvaluateRules("x", rules, Facts{"a": ast.Int(0)})
	require.NoError(t, err)
	assert.Equal(t, ast.Str("small"), got)
}

func TestEvaluateRules_Unmatched(t *testing.T) {
	rules := []ast.RuleBody{body(t, `RULE x IF a > 1 THEN x = 1`)}
	_, err := New().EvaluateRules("x", rules, Facts{"a": ast.Int(0)})
	var target *UnmatchedConditionError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "x", target.Attribute)

	_, err = New().EvaluateRules("empty", nil, Facts{})
	require.ErrorAs(t, err, &target)
}

func TestEvaluateRules_NonBooleanCondition(t *testing.T) {
	rules := []ast.RuleBody{body(t, `RULE x IF a + 1 THEN x = 1`)}
	_, err := New().EvaluateRules("x", rules, Facts{"a": ast.Int(0)})
	var target *TypeMismatchError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "IF", target.Op)
	assert.Equal(t, ast.KindInteger, target.Left)
}
