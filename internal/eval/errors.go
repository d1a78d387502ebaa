package eval

import (
	"errors"
	"fmt"
	"strings"

	"derived-dsl/internal/ast"
)

// ErrNotFound is returned by a Lookup when the key is absent
var ErrNotFound = errors.New("lookup key not found")

// UndefinedAttributeError is returned when an identifier has no binding
type UndefinedAttributeError struct {
	Name string
}

func (e *UndefinedAttributeError) Error() string {
	return fmt.Sprintf("undefined attribute: %s", e.Name)
}

// TypeMismatchError is returned when an operator or condition receives
// operands of the wrong kind
type TypeMismatchError struct {
	Op    string
	Left  ast.ValueKind
	Right ast.ValueKind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: %s %s %s", e.Left, e.Op, e.Right)
}

// UnknownFunctionError is returned for a call to an unregistered function
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function: %s", e.Name)
}

// CastError is returned when a value cannot be converted
type CastError struct {
	Value  ast.Value
	Target ast.ValueKind
	Reason string
}

func (e *CastError) Error() string {
	msg := fmt.Sprintf("cannot cast %s to %s", e.Value, e.Target)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// LookupFailedError is returned when LOOKUP cannot resolve a key
type LookupFailedError struct {
	Key   string
	Table string
	Err   error
}

func (e *LookupFailedError) Error() string {
	return fmt.Sprintf("lookup of %q in %s failed: %v", e.Key, e.Table, e.Err)
}

func (e *LookupFailedError) Unwrap() error { return e.Err }

// UnmatchedConditionError is returned when no rule body of an attribute applies
type UnmatchedConditionError struct {
	Attribute string
}

func (e *UnmatchedConditionError) Error() string {
	return fmt.Sprintf("no rule matched for attribute %s", e.Attribute)
}

// ArgumentError is returned when a built-in rejects one of its arguments
type ArgumentError struct {
	Function string
	Index    int // 1-based
	Message  string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s argument %d: %s", e.Function, e.Index, e.Message)
}

// DivisionByZeroError is returned for x / 0
type DivisionByZeroError struct{}

func (e *DivisionByZeroError) Error() string { return "division by zero" }

// OverflowError is returned when an Integer result does not fit in 64 bits
type OverflowError struct {
	Op       string
	Operands []ast.Value
}

func (e *OverflowError) Error() string {
	parts := make([]string, len(e.Operands))
	for i, v := range e.Operands {
		parts[i] = v.String()
	}
	if len(parts) == 2 {
		return fmt.Sprintf("integer overflow: %s %s %s", parts[0], e.Op, parts[1])
	}
	return fmt.Sprintf("integer overflow: %s(%s)", e.Op, strings.Join(parts, ", "))
}
