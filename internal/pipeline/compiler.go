package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/grammar"
)

// CompilerVersion is stamped on every artifact the DSLCompiler produces
const CompilerVersion = "dslc/1.0"

// Compiler turns a claimed job into artifacts
type Compiler interface {
	Compile(ctx context.Context, job *CompilationJob) ([]*CompiledArtifact, error)
}

// CompilationError records why a rule could not be compiled
type CompilationError struct {
	RuleID string
	Err    error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compilation of rule %s failed: %v", e.RuleID, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// DefinitionLoader fetches the definition a job compiles
type DefinitionLoader interface {
	GetAttributeByID(ctx context.Context, attributeID string) (*dictionary.AttributeDefinition, error)
}

// DSLCompiler compiles attribute rules with the current grammar snapshot
type DSLCompiler struct {
	defs    DefinitionLoader
	grammar func() *grammar.ParserSpec
	now     func() time.Time
}

// NewDSLCompiler creates a compiler. current is usually (*grammar.Registry).Current.
func NewDSLCompiler(defs DefinitionLoader, current func() *grammar.ParserSpec) *DSLCompiler {
	return &DSLCompiler{defs: defs, grammar: current, now: time.Now}
}

// Compile parses the rule's bodies and renders the requested artifacts
func (c *DSLCompiler) Compile(ctx context.Context, job *CompilationJob) ([]*CompiledArtifact, error) {
	def, err := c.defs.GetAttributeByID(ctx, job.RuleID)
	if err != nil {
		return nil, &CompilationError{RuleID: job.RuleID, Err: err}
	}
	spec := c.grammar()
	if spec == nil {
		return nil, &CompilationError{RuleID: job.RuleID, Err: fmt.Errorf("no grammar loaded")}
	}

	bodies := make([]ast.RuleBody, 0, len(def.Rules))
	for i, src := range def.Rules {
		body, err := dictionary.ParseRuleSource(def.Name, src, spec)
		if err != nil {
			return nil, &CompilationError{RuleID: job.RuleID, Err: fmt.Errorf("rule %d: %w", i+1, err)}
		}
		bodies = append(bodies, body)
	}

	hash := def.ComputeHash()
	now := c.now()
	var artifacts []*CompiledArtifact
	for _, kind := range job.ArtifactKind.Kinds() {
		var payload []byte
		switch kind {
		case ArtifactSource:
			payload = []byte(CanonicalSource(def.Name, bodies))
		case ArtifactOptimized:
			payload, err = EncodeOptimized(&Program{
				Attribute:  def.Name,
				SourceHash: hash,
				Rules:      FoldRules(bodies),
				References: dictionary.References(bodies),
			})
			if err != nil {
				return nil, &CompilationError{RuleID: job.RuleID, Err: err}
			}
		default:
			return nil, &CompilationError{RuleID: job.RuleID, Err: fmt.Errorf("unknown artifact kind %q", kind)}
		}
		artifacts = append(artifacts, &CompiledArtifact{
			RuleID:          job.RuleID,
			ArtifactKind:    kind,
			Version:         def.Version,
			Payload:         payload,
			SourceHash:      hash,
			GrammarVersion:  spec.Version(),
			CompilerVersion: CompilerVersion,
			CompiledAt:      now,
			Valid:           true,
		})
	}
	return artifacts, nil
}

// CanonicalSource renders bodies as rule statements, one per line. Every
// line reparses to the same body.
func CanonicalSource(attribute string, bodies []ast.RuleBody) string {
	lines := make([]string, len(bodies))
	for i, b := range bodies {
		if b.Condition == nil {
			lines[i] = ast.Format(b.Then)
			continue
		}
		stmt := &ast.RuleStatement{
			Name:      fmt.Sprintf("%s_%d", attribute, i+1),
			Condition: b.Condition,
			Then:      ast.Assignment{Target: attribute, Expr: b.Then},
		}
		if b.Otherwise != nil {
			stmt.Else = &ast.Assignment{Target: attribute, Expr: b.Otherwise}
		}
		lines[i] = stmt.String()
	}
	return strings.Join(lines, "\n")
}
