package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"derived-dsl/internal/vocabulary"
)

// =============================================================================
// Grammar Repository Implementation
// =============================================================================

const grammarRuleColumns = `rule_id, rule_name, pattern, kind, category, description, version, active, created_at, updated_at`

const grammarExtensionColumns = `extension_id, name, kind, signature, category, description, active, created_at, updated_at`

func stampTimes(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*created = created.UTC()
	*updated = now
}

func (s *Store) CreateGrammarRule(ctx context.Context, rule *vocabulary.GrammarRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	stampTimes(&rule.CreatedAt, &rule.UpdatedAt)

	query := s.q(`INSERT INTO grammar_rules (`+grammarRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, rule.RuleName)
	_, err := s.db.ExecContext(ctx, query,
		rule.RuleID, rule.RuleName, rule.Pattern, rule.Kind, rule.Category,
		rule.Description, rule.Version, rule.Active, rule.CreatedAt, rule.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("grammar rule %s: %w", rule.RuleName, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create grammar rule: %w", err)
	}
	return nil
}

func (s *Store) GetGrammarRuleByName(ctx context.Context, ruleName string) (*vocabulary.GrammarRule, error) {
	var rule vocabulary.GrammarRule
	query := s.q(`SELECT `+grammarRuleColumns+` FROM grammar_rules WHERE rule_name = ?`, ruleName)

	err := s.db.GetContext(ctx, &rule, query, ruleName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("grammar rule %s: %w", ruleName, vocabulary.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grammar rule: %w", err)
	}
	return &rule, nil
}

func (s *Store) ListGrammarRules(ctx context.Context, active *bool) ([]*vocabulary.GrammarRule, error) {
	query := `SELECT ` + grammarRuleColumns + ` FROM grammar_rules`
	var args []interface{}
	if active != nil {
		query += ` WHERE active = ?`
		args = append(args, *active)
	}
	query += ` ORDER BY rule_name`

	var rules []*vocabulary.GrammarRule
	if err := s.db.SelectContext(ctx, &rules, s.q(query, args...), args...); err != nil {
		return nil, fmt.Errorf("failed to list grammar rules: %w", err)
	}
	return rules, nil
}

func (s *Store) UpdateGrammarRule(ctx context.Context, rule *vocabulary.GrammarRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()

	query := s.q(`UPDATE grammar_rules SET
			rule_name = ?, pattern = ?, kind = ?, category = ?, description = ?,
			version = ?, active = ?, updated_at = ?
		WHERE rule_id = ?`, rule.RuleID)
	result, err := s.db.ExecContext(ctx, query,
		rule.RuleName, rule.Pattern, rule.Kind, rule.Category, rule.Description,
		rule.Version, rule.Active, rule.UpdatedAt, rule.RuleID)
	if isUniqueViolation(err) {
		return fmt.Errorf("grammar rule %s: %w", rule.RuleName, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update grammar rule: %w", err)
	}
	return expectAffected(result, fmt.Errorf("grammar rule %s: %w", rule.RuleID, vocabulary.ErrNotFound))
}

func (s *Store) DeleteGrammarRule(ctx context.Context, ruleID string) error {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM grammar_rules WHERE rule_id = ?`, ruleID), ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete grammar rule: %w", err)
	}
	return expectAffected(result, fmt.Errorf("grammar rule %s: %w", ruleID, vocabulary.ErrNotFound))
}

func (s *Store) CreateGrammarExtension(ctx context.Context, ext *vocabulary.GrammarExtension) error {
	if err := ext.Validate(); err != nil {
		return err
	}
	if ext.ExtensionID == "" {
		ext.ExtensionID = uuid.NewString()
	}
	stampTimes(&ext.CreatedAt, &ext.UpdatedAt)

	query := s.q(`INSERT INTO grammar_extensions (`+grammarExtensionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, ext.Name)
	_, err := s.db.ExecContext(ctx, query,
		ext.ExtensionID, ext.Name, ext.Kind, ext.Signature, ext.Category,
		ext.Description, ext.Active, ext.CreatedAt, ext.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("grammar extension %s %s: %w", ext.Kind, ext.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create grammar extension: %w", err)
	}
	return nil
}

func (s *Store) ListGrammarExtensions(ctx context.Context, active *bool) ([]*vocabulary.GrammarExtension, error) {
	query := `SELECT ` + grammarExtensionColumns + ` FROM grammar_extensions`
	var args []interface{}
	if active != nil {
		query += ` WHERE active = ?`
		args = append(args, *active)
	}
	query += ` ORDER BY kind, name`

	var exts []*vocabulary.GrammarExtension
	if err := s.db.SelectContext(ctx, &exts, s.q(query, args...), args...); err != nil {
		return nil, fmt.Errorf("failed to list grammar extensions: %w", err)
	}
	return exts, nil
}

func (s *Store) DeleteGrammarExtension(ctx context.Context, extensionID string) error {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM grammar_extensions WHERE extension_id = ?`, extensionID), extensionID)
	if err != nil {
		return fmt.Errorf("failed to delete grammar extension: %w", err)
	}
	return expectAffected(result, fmt.Errorf("grammar extension %s: %w", extensionID, vocabulary.ErrNotFound))
}

// expectAffected returns notFound when result touched no rows
func expectAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking result: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
