package resolver

import (
	"errors"
	"fmt"
	"strings"

	"derived-dsl/internal/ast"
)

// ErrDepthExceeded is returned when a dependency chain is deeper than the
// resolver allows
var ErrDepthExceeded = errors.New("dependency chain exceeds maximum depth")

// CyclicDependencyError names the full cycle, starting and ending with the
// same attribute
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Path, " -> "))
}

// ResolutionError wraps a failure to compute Attribute. Chain lists the
// attributes being resolved at the time, outermost first.
type ResolutionError struct {
	Attribute string
	Chain     []string
	Err       error
}

func (e *ResolutionError) Error() string {
	if len(e.Chain) > 1 {
		return fmt.Sprintf("failed to resolve %s (via %s): %v", e.Attribute, strings.Join(e.Chain, " -> "), e.Err)
	}
	return fmt.Sprintf("failed to resolve %s: %v", e.Attribute, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// DeclaredTypeError reports a rule result that does not fit the attribute's
// declared type
type DeclaredTypeError struct {
	Attribute string
	Declared  ast.ValueKind
	Got       ast.ValueKind
}

func (e *DeclaredTypeError) Error() string {
	return fmt.Sprintf("attribute %s is declared %s but its rules produced %s", e.Attribute, e.Declared, e.Got)
}
