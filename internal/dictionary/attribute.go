package dictionary

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"derived-dsl/internal/ast"
)

// SourceKind tells where an attribute's value comes from
type SourceKind string

const (
	// SourceBusiness values are supplied by the caller as facts
	SourceBusiness SourceKind = "business"
	// SourceDerived values are computed from rules
	SourceDerived SourceKind = "derived"
	// SourceSystem values are supplied by the platform, like business facts
	SourceSystem SourceKind = "system"
)

// ParseSourceKind converts a stored source name
func ParseSourceKind(s string) (SourceKind, error) {
	switch k := SourceKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SourceBusiness, SourceDerived, SourceSystem:
		return k, nil
	case "":
		return SourceDerived, nil
	}
	return "", fmt.Errorf("unknown attribute source %q", s)
}

// AttributeDefinition is a dictionary attribute together with the rules that
// derive it. Rules hold DSL text: either a full rule statement
// (RULE name IF ... THEN name = ...) or a bare expression that always applies.
// Rules are tried in order and the first match wins.
type AttributeDefinition struct {
	AttributeID  string     `json:"attribute_id" db:"attribute_id"`
	Name         string     `json:"name" db:"name"`
	Type         string     `json:"type" db:"value_type"`
	Source       SourceKind `json:"source" db:"source"`
	Description  string     `json:"description,omitempty" db:"description"`
	Dependencies []string   `json:"dependencies,omitempty" db:"-"`
	Rules        []string   `json:"rules,omitempty" db:"-"`
	SourceHash   string     `json:"source_hash" db:"source_hash"`
	Version      int        `json:"version" db:"version"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

var attributeNamespace = uuid.MustParse("5d4e2b1c-8a7f-4c3e-9b6d-0f1a2e3c4d5b")

// StableID returns the attribute ID derived from its name, so definitions
// loaded from files keep the same ID across loads.
func StableID(name string) string {
	return uuid.NewSHA1(attributeNamespace, []byte(name)).String()
}

// Kind returns the declared value type
func (a *AttributeDefinition) Kind() (ast.ValueKind, error) {
	return ast.ParseValueKind(a.Type)
}

// IsDerived reports whether the attribute is computed from rules
func (a *AttributeDefinition) IsDerived() bool {
	return a.Source == SourceDerived
}

// Validate checks the definition's own constraints. Rule text is checked
// when the definition is compiled into a Catalog.
func (a *AttributeDefinition) Validate() error {
	if !isAttributeName(a.Name) {
		return fmt.Errorf("invalid attribute name %q", a.Name)
	}
	kind, err := a.Kind()
	if err != nil {
		return fmt.Errorf("attribute %s: %w", a.Name, err)
	}
	if kind == ast.KindNull {
		return fmt.Errorf("attribute %s cannot be declared NULL", a.Name)
	}
	switch a.Source {
	case SourceDerived:
		if len(a.Rules) == 0 {
			return fmt.Errorf("derived attribute %s has no rules", a.Name)
		}
	case SourceBusiness, SourceSystem:
		if len(a.Rules) > 0 {
			return fmt.Errorf("%s attribute %s cannot have rules", a.Source, a.Name)
		}
	default:
		return fmt.Errorf("attribute %s has invalid source %q", a.Name, a.Source)
	}
	seen := make(map[string]bool, len(a.Dependencies))
	for _, dep := range a.Dependencies {
		if !isAttributeName(dep) {
			return fmt.Errorf("attribute %s has invalid dependency %q", a.Name, dep)
		}
		if seen[dep] {
			return fmt.Errorf("attribute %s lists dependency %s twice", a.Name, dep)
		}
		seen[dep] = true
	}
	return nil
}

// ComputeHash hashes everything that affects how the attribute evaluates.
// Compiled artifacts record it so a stale artifact is never used.
func (a *AttributeDefinition) ComputeHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", a.Name, strings.ToUpper(a.Type), a.Source)
	for _, dep := range a.Dependencies {
		fmt.Fprintf(h, "dep:%s\x00", dep)
	}
	for _, rule := range a.Rules {
		fmt.Fprintf(h, "rule:%s\x00", strings.TrimSpace(rule))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Stamp fills in the ID and source hash
func (a *AttributeDefinition) Stamp() {
	if a.AttributeID == "" {
		a.AttributeID = StableID(a.Name)
	}
	a.SourceHash = a.ComputeHash()
}

// ToJSON converts the definition to a JSON string
func (a *AttributeDefinition) ToJSON() (string, error) {
	jsonBytes, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

func isAttributeName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
