package eval

import (
	"sync"

	"derived-dsl/internal/ast"
)

// Lookup resolves LOOKUP(key, table). Implementations return ErrNotFound
// (possibly wrapped) when the key is absent.
type Lookup interface {
	Lookup(key, table string) (ast.Value, error)
}

// LookupFunc adapts a function to the Lookup interface
type LookupFunc func(key, table string) (ast.Value, error)

func (f LookupFunc) Lookup(key, table string) (ast.Value, error) { return f(key, table) }

// StaticLookup is an in-memory table set, safe for concurrent use
type StaticLookup struct {
	mu     sync.RWMutex
	tables map[string]map[string]ast.Value
}

// NewStaticLookup creates an empty StaticLookup
func NewStaticLookup() *StaticLookup {
	return &StaticLookup{tables: make(map[string]map[string]ast.Value)}
}

// Set binds key to v in table
func (s *StaticLookup) Set(table, key string, v ast.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]ast.Value)
		s.tables[table] = t
	}
	t[key] = v
}

func (s *StaticLookup) Lookup(key, table string) (ast.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tables[table][key]
	if !ok {
		return ast.Null, ErrNotFound
	}
	return v, nil
}
