package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"derived-dsl/internal/dictionary"
)

// attributeRow adds the JSON list columns to the definition
type attributeRow struct {
	dictionary.AttributeDefinition
	Deps  JSONBStringArray `db:"dependencies"`
	Rules JSONBStringArray `db:"rules"`
}

func (r *attributeRow) definition() *dictionary.AttributeDefinition {
	def := r.AttributeDefinition
	def.Dependencies = []string(r.Deps)
	def.Rules = []string(r.Rules)
	return &def
}

const attributeColumns = `attribute_id, name, value_type, source, description, dependencies, rules, source_hash, version, created_at, updated_at`

func (s *Store) CreateAttribute(ctx context.Context, def *dictionary.AttributeDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	def.Stamp()
	if def.Version == 0 {
		def.Version = 1
	}
	stampTimes(&def.CreatedAt, &def.UpdatedAt)

	query := s.q(`INSERT INTO attributes (`+attributeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, def.AttributeID, def.Name)
	_, err := s.db.ExecContext(ctx, query,
		def.AttributeID, def.Name, def.Type, def.Source, def.Description,
		JSONBStringArray(def.Dependencies), JSONBStringArray(def.Rules),
		def.SourceHash, def.Version, def.CreatedAt, def.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("attribute %s: %w", def.Name, dictionary.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("failed to create dictionary attribute: %w", err)
	}
	return nil
}

func (s *Store) GetAttributeByID(ctx context.Context, attributeID string) (*dictionary.AttributeDefinition, error) {
	return s.getAttribute(ctx, "attribute_id = ?", attributeID)
}

func (s *Store) GetAttributeByName(ctx context.Context, name string) (*dictionary.AttributeDefinition, error) {
	return s.getAttribute(ctx, "name = ?", name)
}

// getAttribute is a helper function to reduce code duplication for GetAttributeByID and GetAttributeByName
func (s *Store) getAttribute(ctx context.Context, whereClause string, param interface{}) (*dictionary.AttributeDefinition, error) {
	query := s.q(`SELECT `+attributeColumns+` FROM attributes WHERE `+whereClause, param)

	var row attributeRow
	err := s.db.GetContext(ctx, &row, query, param)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", dictionary.ErrAttributeNotFound, param)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve attribute: %w", err)
	}
	return row.definition(), nil
}

// UpdateAttribute replaces the definition. The version is bumped only when
// the source hash changes.
func (s *Store) UpdateAttribute(ctx context.Context, def *dictionary.AttributeDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	def.SourceHash = def.ComputeHash()
	def.UpdatedAt = time.Now().UTC()

	query := s.q(`UPDATE attributes SET
			name = ?, value_type = ?, source = ?, description = ?,
			dependencies = ?, rules = ?, updated_at = ?,
			version = CASE WHEN source_hash = ? THEN version ELSE version + 1 END,
			source_hash = ?
		WHERE attribute_id = ?`, def.AttributeID)
	result, err := s.db.ExecContext(ctx, query,
		def.Name, def.Type, def.Source, def.Description,
		JSONBStringArray(def.Dependencies), JSONBStringArray(def.Rules), def.UpdatedAt,
		def.SourceHash, def.SourceHash, def.AttributeID)
	if isUniqueViolation(err) {
		return fmt.Errorf("attribute %s: %w", def.Name, dictionary.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("failed to update attribute: %w", err)
	}
	if err := expectAffected(result, fmt.Errorf("%w: %s", dictionary.ErrAttributeNotFound, def.AttributeID)); err != nil {
		return err
	}

	err = s.db.GetContext(ctx, &def.Version, s.q(`SELECT version FROM attributes WHERE attribute_id = ?`), def.AttributeID)
	if err != nil {
		return fmt.Errorf("failed to read attribute version: %w", err)
	}
	return nil
}

func (s *Store) DeleteAttribute(ctx context.Context, attributeID string) error {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM attributes WHERE attribute_id = ?`, attributeID), attributeID)
	if err != nil {
		return fmt.Errorf("failed to delete attribute: %w", err)
	}
	return expectAffected(result, fmt.Errorf("%w: %s", dictionary.ErrAttributeNotFound, attributeID))
}

// attributeFilter builds the WHERE clause for opts
func attributeFilter(opts *dictionary.ListOptions) (string, []interface{}) {
	if opts == nil {
		return "", nil
	}
	var conditions []string
	var args []interface{}

	if opts.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, opts.Source)
	}
	if len(opts.Names) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(opts.Names)), ", ")
		conditions = append(conditions, "name IN ("+marks+")")
		for _, n := range opts.Names {
			args = append(args, n)
		}
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *Store) ListAttributes(ctx context.Context, opts *dictionary.ListOptions) ([]*dictionary.AttributeDefinition, error) {
	where, args := attributeFilter(opts)
	query := `SELECT ` + attributeColumns + ` FROM attributes` + where + ` ORDER BY name`
	if opts != nil && opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	var rows []attributeRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query, args...), args...); err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}
	defs := make([]*dictionary.AttributeDefinition, len(rows))
	for i := range rows {
		defs[i] = rows[i].definition()
	}
	return defs, nil
}

func (s *Store) CountAttributes(ctx context.Context, opts *dictionary.ListOptions) (int, error) {
	where, args := attributeFilter(opts)
	var count int
	if err := s.db.GetContext(ctx, &count, s.q(`SELECT COUNT(*) FROM attributes`+where, args...), args...); err != nil {
		return 0, fmt.Errorf("failed to count attributes: %w", err)
	}
	return count, nil
}
