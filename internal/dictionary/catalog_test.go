package dictionary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/grammar"
	"derived-dsl/internal/vocabulary"
)

func mustSpec(t *testing.T) *grammar.ParserSpec {
	t.Helper()
	spec, err := grammar.CompileGrammar(vocabulary.DefaultGrammarRules(), vocabulary.DefaultGrammarExtensions())
	require.NoError(t, err)
	return spec
}

func derived(name, typ string, deps []string, rules ...string) *AttributeDefinition {
	d := &AttributeDefinition{Name: name, Type: typ, Source: SourceDerived, Dependencies: deps, Rules: rules}
	d.Stamp()
	return d
}

func business(name, typ string) *AttributeDefinition {
	d := &AttributeDefinition{Name: name, Type: typ, Source: SourceBusiness}
	d.Stamp()
	return d
}

func TestAttributeDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     *AttributeDefinition
		wantErr string
	}{
		{"valid derived", derived("a", "INTEGER", nil, "1"), ""},
		{"valid business", business("b", "string"), ""},
		{"bad name", &AttributeDefinition{Name: "1abc", Type: "STRING", Source: SourceBusiness}, "invalid attribute name"},
		{"bad type", &AttributeDefinition{Name: "a", Type: "DATE", Source: SourceBusiness}, "unknown value type"},
		{"null type", &AttributeDefinition{Name: "a", Type: "NULL", Source: SourceBusiness}, "cannot be declared NULL"},
		{"derived without rules", &AttributeDefinition{Name: "a", Type: "STRING", Source: SourceDerived}, "has no rules"},
		{"business with rules", &AttributeDefinition{Name: "a", Type: "STRING", Source: SourceBusiness, Rules: []string{"1"}}, "cannot have rules"},
		{"bad source", &AttributeDefinition{Name: "a", Type: "STRING", Source: "magic"}, "invalid source"},
		{"duplicate dependency", derived("a", "STRING", []string{"x", "x"}, "x"), "twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAttributeDefinition_ComputeHash(t *testing.T) {
	a := derived("a", "INTEGER", []string{"x"}, "x + 1")
	b := derived("a", "INTEGER", []string{"x"}, "  x + 1 ")
	assert.Equal(t, a.SourceHash, b.SourceHash, "surrounding whitespace does not change the hash")

	c := derived("a", "INTEGER", []string{"x"}, "x + 2")
	assert.NotEqual(t, a.SourceHash, c.SourceHash)

	d := derived("a", "FLOAT", []string{"x"}, "x + 1")
	assert.NotEqual(t, a.SourceHash, d.SourceHash)
}

func TestParseSourceKind(t *testing.T) {
	k, err := ParseSourceKind(" Business ")
	require.NoError(t, err)
	assert.Equal(t, SourceBusiness, k)

	k, err = ParseSourceKind("")
	require.NoError(t, err)
	assert.Equal(t, SourceDerived, k)

	_, err = ParseSourceKind("computed")
	assert.Error(t, err)
}

func TestNewCatalog(t *testing.T) {
	spec := mustSpec(t)
	defs := []*AttributeDefinition{
		business("score", "INTEGER"),
		derived("band", "STRING", []string{"score"},
			`RULE high IF score > 70 THEN band = "HIGH"`,
			`"LOW"`,
		),
		derived("label", "STRING", nil, `name & ":" & band`),
	}

	c, err := NewCatalog(defs, spec)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"band", "label", "score"}, c.Names())

	band, ok := c.Get("band")
	require.True(t, ok)
	assert.Equal(t, ast.KindString, band.Kind)
	require.Len(t, band.Rules, 2)
	assert.NotNil(t, band.Rules[0].Condition)
	assert.Nil(t, band.Rules[1].Condition)
	assert.False(t, band.Precompiled)

	label, _ := c.Get("label")
	assert.Equal(t, []string{"name", "band"}, label.Dependencies, "undeclared references are appended in first-seen order")

	li, _ := c.Index("label")
	bi, _ := c.Index("band")
	assert.Equal(t, []int{bi}, c.Edges(li), "name is not in the catalog so it has no edge")

	assert.Equal(t, []string{"band", "label"}, c.Dependents("score"))
	assert.Nil(t, c.Dependents("missing"))
}

func TestNewCatalog_ReportsEveryProblem(t *testing.T) {
	defs := []*AttributeDefinition{
		derived("a", "INTEGER", nil, "1 +"),
		derived("b", "INTEGER", nil, `RULE r IF TRUE THEN other = 1`),
		business("c", "INTEGER"),
		business("c", "INTEGER"),
		{Name: "d", Type: "STRING", Source: SourceDerived},
	}
	_, err := NewCatalog(defs, mustSpec(t))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "attribute a rule 1")
	assert.Contains(t, msg, "assigns other, expected b")
	assert.Contains(t, msg, "attribute name already exists")
	assert.Contains(t, msg, "derived attribute d has no rules")
}

func TestNewCatalog_Precompiled(t *testing.T) {
	defs := []*AttributeDefinition{derived("x", "INTEGER", nil, "this would not parse (")}
	pre := func(def *AttributeDefinition) (*CompiledRules, bool) {
		return &CompiledRules{
			Rules:      []ast.RuleBody{{Then: &ast.Literal{Value: ast.Int(7)}}},
			References: []string{"ghost"},
		}, def.Name == "x"
	}

	c, err := NewCatalog(defs, nil, WithPrecompiled(pre))
	require.NoError(t, err)
	x, _ := c.Get("x")
	assert.True(t, x.Precompiled)
	require.Len(t, x.Rules, 1)
	// attributes only the unoptimized rules mention are still dependencies
	assert.Equal(t, []string{"ghost"}, x.Dependencies)

	_, err = NewCatalog([]*AttributeDefinition{derived("y", "INTEGER", nil, "1")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no grammar loaded")
}

func TestParseRuleSource(t *testing.T) {
	spec := mustSpec(t)

	body, err := ParseRuleSource("x", `rule r if a > 1 then x = 1 else x = 2`, spec)
	require.NoError(t, err)
	assert.Equal(t, "IF (a > 1) THEN 1 ELSE 2", body.String())

	body, err = ParseRuleSource("x", `a * 2`, spec)
	require.NoError(t, err)
	assert.Nil(t, body.Condition)

	_, err = ParseRuleSource("x", `RULE r IF a THEN x = 1 ELSE y = 2`, spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in ELSE")

	_, err = ParseRuleSource("x", `RULE x x`, spec)
	var perr *grammar.ParseError
	assert.ErrorAs(t, err, &perr)
}
