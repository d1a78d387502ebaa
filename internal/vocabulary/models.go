// Package vocabulary provides the database-driven grammar store for the DSL.
// Grammar productions, operators, functions and keywords live here as rows so
// the parser can be extended without a rebuild.
package vocabulary

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Core Database Models
// =============================================================================

// RuleKind controls how a production participates in parsing
type RuleKind string

const (
	// RuleKindNormal rules emit a parse node and skip whitespace between elements
	RuleKindNormal RuleKind = "normal"
	// RuleKindSilent rules match but never appear in the parse tree
	RuleKindSilent RuleKind = "silent"
	// RuleKindAtomic rules match without implicit whitespace skipping and emit only their text
	RuleKindAtomic RuleKind = "atomic"
)

// RuleCategory tells the AST builder what a production's node means
type RuleCategory string

const (
	CategoryLiteral      RuleCategory = "literal"
	CategoryIdentifier   RuleCategory = "identifier"
	CategoryOperator     RuleCategory = "operator"
	CategoryFunction     RuleCategory = "function"
	CategoryFunctionName RuleCategory = "function_name"
	CategoryKeyword      RuleCategory = "keyword"
	CategoryType         RuleCategory = "type"
	CategoryCast         RuleCategory = "cast"
	CategoryExpression   RuleCategory = "expression"
	CategoryAssignment   RuleCategory = "assignment"
	CategoryStatement    RuleCategory = "statement"
	CategoryRoot         RuleCategory = "root"
	CategoryFragment     RuleCategory = "fragment"
)

// ExtensionKind classifies a GrammarExtension symbol
type ExtensionKind string

const (
	ExtensionOperator ExtensionKind = "operator"
	ExtensionFunction ExtensionKind = "function"
	ExtensionKeyword  ExtensionKind = "keyword"
)

// GrammarRule represents a database-stored grammar production
type GrammarRule struct {
	RuleID      string       `json:"rule_id" db:"rule_id"`
	RuleName    string       `json:"rule_name" db:"rule_name"`
	Pattern     string       `json:"pattern" db:"pattern"`
	Kind        RuleKind     `json:"kind" db:"kind"`
	Category    RuleCategory `json:"category" db:"category"`
	Description *string      `json:"description" db:"description"`
	Version     string       `json:"version" db:"version"`
	Active      bool         `json:"active" db:"active"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// GrammarExtension documents an operator, function or keyword symbol. The
// grammar compiler turns every extension category into a production, so a new
// row is enough to make the parser accept the symbol.
type GrammarExtension struct {
	ExtensionID string        `json:"extension_id" db:"extension_id"`
	Name        string        `json:"name" db:"name"`
	Kind        ExtensionKind `json:"kind" db:"kind"`
	// Signature is the operation name for operators (Add, Neq, ...) and
	// NAME(arg, ...) for functions. Unused for keywords.
	Signature   string    `json:"signature" db:"signature"`
	Category    string    `json:"category" db:"category"`
	Description *string   `json:"description" db:"description"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the row-level constraints of a grammar rule
func (r *GrammarRule) Validate() error {
	if r.RuleName == "" {
		return fmt.Errorf("grammar rule name is required")
	}
	if r.Pattern == "" {
		return fmt.Errorf("grammar rule %s has an empty pattern", r.RuleName)
	}
	switch r.Kind {
	case RuleKindNormal, RuleKindSilent, RuleKindAtomic:
	default:
		return fmt.Errorf("grammar rule %s has invalid kind %q", r.RuleName, r.Kind)
	}
	if r.Category == "" {
		return fmt.Errorf("grammar rule %s has no category", r.RuleName)
	}
	return nil
}

// Validate checks the row-level constraints of a grammar extension
func (e *GrammarExtension) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("grammar extension name is required")
	}
	switch e.Kind {
	case ExtensionOperator, ExtensionFunction, ExtensionKeyword:
	default:
		return fmt.Errorf("grammar extension %s has invalid kind %q", e.Name, e.Kind)
	}
	if e.Category == "" {
		return fmt.Errorf("grammar extension %s has no category", e.Name)
	}
	if e.Kind != ExtensionKeyword && e.Signature == "" {
		return fmt.Errorf("grammar extension %s requires a signature", e.Name)
	}
	return nil
}

// =============================================================================
// Repository Interfaces
// =============================================================================

// ErrNotFound is returned when a grammar row does not exist
var ErrNotFound = errors.New("grammar row not found")

// GrammarRepository provides database access for grammar rules and extensions
type GrammarRepository interface {
	// Grammar Rule Operations
	CreateGrammarRule(ctx context.Context, rule *GrammarRule) error
	GetGrammarRuleByName(ctx context.Context, ruleName string) (*GrammarRule, error)
	ListGrammarRules(ctx context.Context, active *bool) ([]*GrammarRule, error)
	UpdateGrammarRule(ctx context.Context, rule *GrammarRule) error
	DeleteGrammarRule(ctx context.Context, ruleID string) error

	// Grammar Extension Operations
	CreateGrammarExtension(ctx context.Context, ext *GrammarExtension) error
	ListGrammarExtensions(ctx context.Context, active *bool) ([]*GrammarExtension, error)
	DeleteGrammarExtension(ctx context.Context, extensionID string) error
}

// ActiveGrammar loads every active rule and extension in one call
func ActiveGrammar(ctx context.Context, repo GrammarRepository) ([]*GrammarRule, []*GrammarExtension, error) {
	active := true
	rules, err := repo.ListGrammarRules(ctx, &active)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load grammar rules: %w", err)
	}
	exts, err := repo.ListGrammarExtensions(ctx, &active)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load grammar extensions: %w", err)
	}
	return rules, exts, nil
}

func stringPtr(s string) *string {
	return &s
}
