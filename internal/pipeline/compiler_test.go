package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/grammar"
)

type mapLoader map[string]*dictionary.AttributeDefinition

func (m mapLoader) GetAttributeByID(ctx context.Context, id string) (*dictionary.AttributeDefinition, error) {
	def, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dictionary.ErrAttributeNotFound, id)
	}
	return def, nil
}

func riskDefinition() *dictionary.AttributeDefinition {
	def := &dictionary.AttributeDefinition{
		Name:   "risk_score",
		Type:   "INTEGER",
		Source: dictionary.SourceDerived,
		Rules: []string{
			"RULE pep_rule IF pep_flag == TRUE THEN risk_score = 10 * 5",
			"RULE low IF documents > 2 THEN risk_score = 1 ELSE risk_score = 2 + 3",
			"0",
		},
		Version: 4,
	}
	def.Stamp()
	return def
}

func TestDSLCompiler_Compile(t *testing.T) {
	spec := mustSpec(t)
	def := riskDefinition()
	c := NewDSLCompiler(mapLoader{def.AttributeID: def}, func() *grammar.ParserSpec { return spec })

	artifacts, err := c.Compile(context.Background(), &CompilationJob{RuleID: def.AttributeID, ArtifactKind: ArtifactBoth})
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	for _, a := range artifacts {
		assert.Equal(t, def.AttributeID, a.RuleID)
		assert.Equal(t, 4, a.Version)
		assert.Equal(t, def.SourceHash, a.SourceHash)
		assert.Equal(t, spec.Version(), a.GrammarVersion)
		assert.Equal(t, CompilerVersion, a.CompilerVersion)
		assert.True(t, a.Valid)
	}

	source := artifacts[0]
	assert.Equal(t, ArtifactSource, source.ArtifactKind)
	lines := strings.Split(string(source.Payload), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "RULE risk_score_1 IF (pep_flag == TRUE) THEN risk_score = (10 * 5)", lines[0])
	assert.Equal(t, "0", lines[2])

	// every canonical line reparses to the original body
	for i, line := range lines {
		want := mustBody(t, spec, def.Name, def.Rules[i])
		got := mustBody(t, spec, def.Name, line)
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("line %d mismatch (-want +got):\n%s", i+1, diff)
		}
	}

	optimized := artifacts[1]
	assert.Equal(t, ArtifactOptimized, optimized.ArtifactKind)
	prog, err := DecodeOptimized(optimized.Payload)
	require.NoError(t, err)
	assert.Equal(t, def.Name, prog.Attribute)
	assert.Equal(t, def.SourceHash, prog.SourceHash)
	require.Len(t, prog.Rules, 3)
	assert.Equal(t, "IF (pep_flag == TRUE) THEN 50", prog.Rules[0].String())
	assert.Equal(t, "IF (documents > 2) THEN 1 ELSE 5", prog.Rules[1].String())
	assert.Equal(t, ast.Int(0), prog.Rules[2].Then.(*ast.Literal).Value)
	assert.Equal(t, []string{"pep_flag", "documents"}, prog.References)
}

func TestDSLCompiler_ReferencesSurviveFolding(t *testing.T) {
	spec := mustSpec(t)
	def := &dictionary.AttributeDefinition{
		Name:   "x",
		Type:   "INTEGER",
		Source: dictionary.SourceDerived,
		Rules: []string{
			"RULE never IF 1 == 2 THEN x = ghost",
			"RULE always IF 1 == 1 THEN x = 7 ELSE x = shadow",
		},
		Version: 1,
	}
	def.Stamp()
	c := NewDSLCompiler(mapLoader{def.AttributeID: def}, func() *grammar.ParserSpec { return spec })

	artifacts, err := c.Compile(context.Background(), &CompilationJob{RuleID: def.AttributeID, ArtifactKind: ArtifactOptimized})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	prog, err := DecodeOptimized(artifacts[0].Payload)
	require.NoError(t, err)

	require.Len(t, prog.Rules, 1, "the never-matching body is dropped")
	assert.Equal(t, "7", prog.Rules[0].String())
	assert.Equal(t, []string{"ghost", "shadow"}, prog.References)
}

func TestDSLCompiler_Errors(t *testing.T) {
	spec := mustSpec(t)
	bad := riskDefinition()
	bad.Rules = []string{"RULE r IF a > THEN risk_score = 1"}
	wrongTarget := riskDefinition()
	wrongTarget.AttributeID = "other"
	wrongTarget.Rules = []string{"RULE r IF a > 1 THEN something_else = 1"}
	loader := mapLoader{bad.AttributeID: bad, wrongTarget.AttributeID: wrongTarget}

	tests := []struct {
		name    string
		ruleID  string
		spec    *grammar.ParserSpec
		wantErr string
	}{
		{"unknown rule", "missing", spec, "not found"},
		{"parse error", bad.AttributeID, spec, "rule 1"},
		{"wrong target", "other", spec, "assigns something_else"},
		{"no grammar", bad.AttributeID, nil, "no grammar loaded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewDSLCompiler(loader, func() *grammar.ParserSpec { return tt.spec })
			_, err := c.Compile(context.Background(), &CompilationJob{RuleID: tt.ruleID, ArtifactKind: ArtifactSource})
			require.Error(t, err)
			var ce *CompilationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.ruleID, ce.RuleID)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
