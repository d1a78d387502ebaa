package dictionary

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrDuplicateName     = errors.New("attribute name already exists")
)

// ListOptions provides filtering for dictionary attributes
type ListOptions struct {
	Source SourceKind
	Names  []string
	Offset int
	Limit  int
}

// Repository defines the contract for storing attribute definitions
type Repository interface {
	// CreateAttribute adds a new definition. The name must be unused.
	CreateAttribute(ctx context.Context, def *AttributeDefinition) error

	// GetAttributeByID retrieves a definition by its unique identifier
	GetAttributeByID(ctx context.Context, attributeID string) (*AttributeDefinition, error)

	// GetAttributeByName retrieves a definition by its name
	GetAttributeByName(ctx context.Context, name string) (*AttributeDefinition, error)

	// UpdateAttribute replaces a definition and bumps its version
	UpdateAttribute(ctx context.Context, def *AttributeDefinition) error

	// DeleteAttribute removes a definition
	DeleteAttribute(ctx context.Context, attributeID string) error

	// ListAttributes retrieves definitions ordered by name
	ListAttributes(ctx context.Context, opts *ListOptions) ([]*AttributeDefinition, error)

	// CountAttributes returns the number of definitions matching opts
	CountAttributes(ctx context.Context, opts *ListOptions) (int, error)
}

// Matches reports whether def passes the filters. Paging is not considered.
func (o *ListOptions) Matches(def *AttributeDefinition) bool {
	if o == nil {
		return true
	}
	if o.Source != "" && def.Source != o.Source {
		return false
	}
	if len(o.Names) > 0 {
		for _, n := range o.Names {
			if n == def.Name {
				return true
			}
		}
		return false
	}
	return true
}
