package vocabulary

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultGrammarVersion is stamped on the seeded rows
const DefaultGrammarVersion = "1.0.0"

// DefaultGrammarRules returns the bootstrap productions of the rule language.
//
// Layering from loosest to tightest: OR, AND, comparison, additive (including
// string concatenation), multiplicative, then primary factors. Operator and
// function names are not spelled out here; they come from the extension rows
// (or_op, and_op, comparison_op, additive_op, multiplicative_op, function_name
// and keyword).
func DefaultGrammarRules() []*GrammarRule {
	now := time.Now()

	rule := func(name string, kind RuleKind, category RuleCategory, pattern, description string) *GrammarRule {
		return &GrammarRule{
			RuleName:    name,
			Pattern:     pattern,
			Kind:        kind,
			Category:    category,
			Description: stringPtr(description),
			Version:     DefaultGrammarVersion,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	return []*GrammarRule{
		rule("WHITESPACE", RuleKindSilent, CategoryFragment,
			`" " | "\t" | "\r" | "\n"`,
			"Implicit whitespace skipped between tokens"),
		rule("COMMENT", RuleKindSilent, CategoryFragment,
			`"//" (!"\n" ANY)* | "#" (!"\n" ANY)*`,
			"Line comments"),
		rule("dsl", RuleKindNormal, CategoryRoot,
			`SOI (rule_statement | expression) EOI`,
			"Top-level document: a rule statement or a bare expression"),
		rule("rule_statement", RuleKindNormal, CategoryStatement,
			`^"RULE" identifier ^"IF" expression ((and_op | or_op) expression)* ^"THEN" assignment (^"ELSE" assignment)?`,
			"RULE <name> IF <condition> THEN <assignment> [ELSE <assignment>]"),
		rule("assignment", RuleKindNormal, CategoryAssignment,
			`identifier "=" expression`,
			"Attribute assignment inside a rule statement"),
		rule("expression", RuleKindNormal, CategoryExpression,
			`conjunction (or_op conjunction)*`,
			"Logical OR level"),
		rule("conjunction", RuleKindNormal, CategoryExpression,
			`comparison (and_op comparison)*`,
			"Logical AND level"),
		rule("comparison", RuleKindNormal, CategoryExpression,
			`additive (comparison_op additive)*`,
			"Comparison level"),
		rule("additive", RuleKindNormal, CategoryExpression,
			`term (additive_op term)*`,
			"Additive and concatenation level"),
		rule("term", RuleKindNormal, CategoryExpression,
			`factor (multiplicative_op factor)*`,
			"Multiplicative level"),
		rule("factor", RuleKindNormal, CategoryExpression,
			`"(" expression ")" | cast | function_call | literal | identifier`,
			"Primary expression"),
		rule("cast", RuleKindNormal, CategoryCast,
			`^"CAST" "(" expression ^"AS" type_name ")"`,
			"Explicit conversion"),
		rule("type_name", RuleKindAtomic, CategoryType,
			`^"INTEGER" | ^"INT" | ^"FLOAT" | ^"DECIMAL" | ^"STRING" | ^"TEXT" | ^"BOOLEAN" | ^"BOOL"`,
			"Cast target type"),
		rule("function_call", RuleKindNormal, CategoryFunction,
			`function_name "(" (expression ("," expression)*)? ")"`,
			"Built-in function invocation"),
		rule("literal", RuleKindNormal, CategoryExpression,
			`float_lit | integer_lit | string_lit | boolean_lit | null_lit`,
			"Literal value"),
		rule("float_lit", RuleKindAtomic, CategoryLiteral,
			`"-"? digit+ "." digit+ (("e" | "E") ("+" | "-")? digit+)?`,
			"Float literal"),
		rule("integer_lit", RuleKindAtomic, CategoryLiteral,
			`"-"? digit+`,
			"Integer literal"),
		rule("string_lit", RuleKindAtomic, CategoryLiteral,
			`"\"" ("\\" ANY | !"\"" ANY)* "\"" | "'" ("\\" ANY | !"'" ANY)* "'"`,
			"Quoted string literal"),
		rule("boolean_lit", RuleKindAtomic, CategoryLiteral,
			`^"TRUE" | ^"FALSE"`,
			"Boolean literal"),
		rule("null_lit", RuleKindAtomic, CategoryLiteral,
			`^"NULL"`,
			"Null literal"),
		rule("identifier", RuleKindAtomic, CategoryIdentifier,
			`!keyword ident_start ident_char*`,
			"Attribute reference"),
		rule("ident_start", RuleKindNormal, CategoryFragment,
			`'a'..'z' | 'A'..'Z' | "_"`,
			"First identifier character"),
		rule("ident_char", RuleKindNormal, CategoryFragment,
			`ident_start | digit`,
			"Identifier character"),
		rule("digit", RuleKindNormal, CategoryFragment,
			`'0'..'9'`,
			"Decimal digit"),
	}
}

// DefaultGrammarExtensions returns the bootstrap operator, function and keyword rows
func DefaultGrammarExtensions() []*GrammarExtension {
	now := time.Now()

	ext := func(name string, kind ExtensionKind, category, signature, description string) *GrammarExtension {
		return &GrammarExtension{
			Name:        name,
			Kind:        kind,
			Category:    category,
			Signature:   signature,
			Description: stringPtr(description),
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	exts := []*GrammarExtension{
		ext("*", ExtensionOperator, "multiplicative_op", "Mul", "Multiplication"),
		ext("/", ExtensionOperator, "multiplicative_op", "Div", "Division"),
		ext("+", ExtensionOperator, "additive_op", "Add", "Addition"),
		ext("-", ExtensionOperator, "additive_op", "Sub", "Subtraction"),
		ext("&", ExtensionOperator, "additive_op", "Concat", "String concatenation"),
		ext("==", ExtensionOperator, "comparison_op", "Eq", "Equality"),
		ext("!=", ExtensionOperator, "comparison_op", "Neq", "Inequality"),
		ext("<", ExtensionOperator, "comparison_op", "Lt", "Less than"),
		ext("<=", ExtensionOperator, "comparison_op", "Lte", "Less than or equal"),
		ext(">", ExtensionOperator, "comparison_op", "Gt", "Greater than"),
		ext(">=", ExtensionOperator, "comparison_op", "Gte", "Greater than or equal"),
		ext("AND", ExtensionOperator, "and_op", "And", "Logical conjunction"),
		ext("OR", ExtensionOperator, "or_op", "Or", "Logical disjunction"),

		ext("CONCAT", ExtensionFunction, "function_name", "CONCAT(value, ...)", "Concatenate values as text"),
		ext("SUBSTRING", ExtensionFunction, "function_name", "SUBSTRING(text, start, [length])", "1-based substring"),
		ext("UPPER", ExtensionFunction, "function_name", "UPPER(text)", "Upper-case text"),
		ext("LOWER", ExtensionFunction, "function_name", "LOWER(text)", "Lower-case text"),
		ext("LENGTH", ExtensionFunction, "function_name", "LENGTH(text)", "Character count"),
		ext("TRIM", ExtensionFunction, "function_name", "TRIM(text)", "Strip surrounding whitespace"),
		ext("ROUND", ExtensionFunction, "function_name", "ROUND(number, [digits])", "Round half away from zero"),
		ext("ABS", ExtensionFunction, "function_name", "ABS(number)", "Absolute value"),
		ext("MAX", ExtensionFunction, "function_name", "MAX(number, ...)", "Largest argument"),
		ext("MIN", ExtensionFunction, "function_name", "MIN(number, ...)", "Smallest argument"),
		ext("IS_EMAIL", ExtensionFunction, "function_name", "IS_EMAIL(text)", "Email address syntax check"),
		ext("IS_LEI", ExtensionFunction, "function_name", "IS_LEI(text)", "ISO 17442 legal entity identifier check"),
		ext("IS_SWIFT", ExtensionFunction, "function_name", "IS_SWIFT(text)", "ISO 9362 BIC check"),
		ext("MATCHES", ExtensionFunction, "function_name", "MATCHES(text, pattern)", "Regular expression match"),
		ext("LOOKUP", ExtensionFunction, "function_name", "LOOKUP(key, table)", "External key/value lookup"),
		ext("COALESCE", ExtensionFunction, "function_name", "COALESCE(value, ...)", "First non-null argument"),
		ext("IS_NULL", ExtensionFunction, "function_name", "IS_NULL(value)", "Null test"),
	}

	for _, kw := range []string{"RULE", "IF", "THEN", "ELSE", "CAST", "AS", "AND", "OR", "TRUE", "FALSE", "NULL"} {
		exts = append(exts, ext(kw, ExtensionKeyword, "keyword", "", "Reserved word"))
	}
	return exts
}

// SeedDefaultGrammar inserts the bootstrap grammar, skipping rows that already exist
func SeedDefaultGrammar(ctx context.Context, repo GrammarRepository) error {
	for _, rule := range DefaultGrammarRules() {
		existing, err := repo.GetGrammarRuleByName(ctx, rule.RuleName)
		if err == nil && existing != nil {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to check grammar rule %s: %w", rule.RuleName, err)
		}
		if err := repo.CreateGrammarRule(ctx, rule); err != nil {
			return fmt.Errorf("failed to create grammar rule %s: %w", rule.RuleName, err)
		}
	}

	existing, err := repo.ListGrammarExtensions(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list grammar extensions: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[string(e.Kind)+"/"+e.Name] = true
	}
	for _, e := range DefaultGrammarExtensions() {
		if seen[string(e.Kind)+"/"+e.Name] {
			continue
		}
		if err := repo.CreateGrammarExtension(ctx, e); err != nil {
			return fmt.Errorf("failed to create grammar extension %s: %w", e.Name, err)
		}
	}
	return nil
}
