package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/pipeline"
	"derived-dsl/internal/vocabulary"
)

// MemoryStore keeps every repository in process memory. It backs mock mode,
// where nothing survives the process.
type MemoryStore struct {
	*pipeline.MemoryJobStore

	mu         sync.RWMutex
	rules      map[string]*vocabulary.GrammarRule
	extensions map[string]*vocabulary.GrammarExtension
	attributes map[string]*dictionary.AttributeDefinition
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		MemoryJobStore: pipeline.NewMemoryJobStore(),
		rules:          make(map[string]*vocabulary.GrammarRule),
		extensions:     make(map[string]*vocabulary.GrammarExtension),
		attributes:     make(map[string]*dictionary.AttributeDefinition),
	}
}

// InitDB is a no-op
func (m *MemoryStore) InitDB(ctx context.Context) error { return nil }

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateGrammarRule(ctx context.Context, rule *vocabulary.GrammarRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rules {
		if r.RuleName == rule.RuleName {
			return fmt.Errorf("grammar rule %s: %w", rule.RuleName, ErrDuplicate)
		}
	}
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	stampTimes(&rule.CreatedAt, &rule.UpdatedAt)
	cp := *rule
	m.rules[rule.RuleID] = &cp
	return nil
}

func (m *MemoryStore) GetGrammarRuleByName(ctx context.Context, ruleName string) (*vocabulary.GrammarRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rules {
		if r.RuleName == ruleName {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("grammar rule %s: %w", ruleName, vocabulary.ErrNotFound)
}

func (m *MemoryStore) ListGrammarRules(ctx context.Context, active *bool) ([]*vocabulary.GrammarRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*vocabulary.GrammarRule
	for _, r := range m.rules {
		if active == nil || r.Active == *active {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleName < out[j].RuleName })
	return out, nil
}

func (m *MemoryStore) UpdateGrammarRule(ctx context.Context, rule *vocabulary.GrammarRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[rule.RuleID]; !ok {
		return fmt.Errorf("grammar rule %s: %w", rule.RuleID, vocabulary.ErrNotFound)
	}
	for id, r := range m.rules {
		if id != rule.RuleID && r.RuleName == rule.RuleName {
			return fmt.Errorf("grammar rule %s: %w", rule.RuleName, ErrDuplicate)
		}
	}
	rule.UpdatedAt = time.Now().UTC()
	cp := *rule
	m.rules[rule.RuleID] = &cp
	return nil
}

func (m *MemoryStore) DeleteGrammarRule(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[ruleID]; !ok {
		return fmt.Errorf("grammar rule %s: %w", ruleID, vocabulary.ErrNotFound)
	}
	delete(m.rules, ruleID)
	return nil
}

func (m *MemoryStore) CreateGrammarExtension(ctx context.Context, ext *vocabulary.GrammarExtension) error {
	if err := ext.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.extensions {
		if e.Kind == ext.Kind && e.Name == ext.Name {
			return fmt.Errorf("grammar extension %s %s: %w", ext.Kind, ext.Name, ErrDuplicate)
		}
	}
	if ext.ExtensionID == "" {
		ext.ExtensionID = uuid.NewString()
	}
	stampTimes(&ext.CreatedAt, &ext.UpdatedAt)
	cp := *ext
	m.extensions[ext.ExtensionID] = &cp
	return nil
}

func (m *MemoryStore) ListGrammarExtensions(ctx context.Context, active *bool) ([]*vocabulary.GrammarExtension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*vocabulary.GrammarExtension
	for _, e := range m.extensions {
		if active == nil || e.Active == *active {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) DeleteGrammarExtension(ctx context.Context, extensionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.extensions[extensionID]; !ok {
		return fmt.Errorf("grammar extension %s: %w", extensionID, vocabulary.ErrNotFound)
	}
	delete(m.extensions, extensionID)
	return nil
}

func copyDefinition(def *dictionary.AttributeDefinition) *dictionary.AttributeDefinition {
	cp := *def
	cp.Dependencies = append([]string(nil), def.Dependencies...)
	cp.Rules = append([]string(nil), def.Rules...)
	return &cp
}

func (m *MemoryStore) CreateAttribute(ctx context.Context, def *dictionary.AttributeDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	def.Stamp()
	for _, a := range m.attributes {
		if a.Name == def.Name || a.AttributeID == def.AttributeID {
			return fmt.Errorf("attribute %s: %w", def.Name, dictionary.ErrDuplicateName)
		}
	}
	if def.Version == 0 {
		def.Version = 1
	}
	stampTimes(&def.CreatedAt, &def.UpdatedAt)
	m.attributes[def.AttributeID] = copyDefinition(def)
	return nil
}

func (m *MemoryStore) GetAttributeByID(ctx context.Context, attributeID string) (*dictionary.AttributeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.attributes[attributeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dictionary.ErrAttributeNotFound, attributeID)
	}
	return copyDefinition(def), nil
}

func (m *MemoryStore) GetAttributeByName(ctx context.Context, name string) (*dictionary.AttributeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, def := range m.attributes {
		if def.Name == name {
			return copyDefinition(def), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", dictionary.ErrAttributeNotFound, name)
}

func (m *MemoryStore) UpdateAttribute(ctx context.Context, def *dictionary.AttributeDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.attributes[def.AttributeID]
	if !ok {
		return fmt.Errorf("%w: %s", dictionary.ErrAttributeNotFound, def.AttributeID)
	}
	for id, a := range m.attributes {
		if id != def.AttributeID && a.Name == def.Name {
			return fmt.Errorf("attribute %s: %w", def.Name, dictionary.ErrDuplicateName)
		}
	}
	def.SourceHash = def.ComputeHash()
	def.Version = existing.Version
	if def.SourceHash != existing.SourceHash {
		def.Version++
	}
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()
	m.attributes[def.AttributeID] = copyDefinition(def)
	return nil
}

func (m *MemoryStore) DeleteAttribute(ctx context.Context, attributeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attributes[attributeID]; !ok {
		return fmt.Errorf("%w: %s", dictionary.ErrAttributeNotFound, attributeID)
	}
	delete(m.attributes, attributeID)
	return nil
}

func (m *MemoryStore) matching(opts *dictionary.ListOptions) []*dictionary.AttributeDefinition {
	var out []*dictionary.AttributeDefinition
	for _, def := range m.attributes {
		if opts.Matches(def) {
			out = append(out, copyDefinition(def))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MemoryStore) ListAttributes(ctx context.Context, opts *dictionary.ListOptions) ([]*dictionary.AttributeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.matching(opts)
	if opts != nil && opts.Limit > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		end := opts.Offset + opts.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[opts.Offset:end]
	}
	return out, nil
}

func (m *MemoryStore) CountAttributes(ctx context.Context, opts *dictionary.ListOptions) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matching(opts)), nil
}
