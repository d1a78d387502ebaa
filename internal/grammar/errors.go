package grammar

import (
	"fmt"
	"strings"
)

// GrammarErrorKind classifies a problem found while compiling grammar rows
type GrammarErrorKind string

const (
	ErrUnresolvedSymbol GrammarErrorKind = "unresolved_symbol"
	ErrDuplicateName    GrammarErrorKind = "duplicate_name"
	ErrUnreachableRoot  GrammarErrorKind = "unreachable_root"
	ErrMissingRoot      GrammarErrorKind = "missing_root"
	ErrLeftRecursion    GrammarErrorKind = "left_recursion"
	ErrUnreachableRule  GrammarErrorKind = "unreachable_rule"
	ErrInvalidPattern   GrammarErrorKind = "invalid_pattern"
	ErrInvalidExtension GrammarErrorKind = "invalid_extension"
)

// GrammarError is returned when stored grammar data cannot be compiled
type GrammarError struct {
	Kind    GrammarErrorKind
	Rule    string
	Symbol  string
	Message string
}

func (e *GrammarError) Error() string {
	var sb strings.Builder
	sb.WriteString("grammar error (")
	sb.WriteString(string(e.Kind))
	sb.WriteString(")")
	if e.Rule != "" {
		sb.WriteString(" in rule ")
		sb.WriteString(e.Rule)
	}
	if e.Symbol != "" {
		fmt.Fprintf(&sb, " [%s]", e.Symbol)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// ParseError represents a parsing error with position information
type ParseError struct {
	Offset   int
	Line     int
	Column   int
	Expected []string
	Found    string
	Message  string
}

func (e *ParseError) Error() string {
	msg := e.Message
	if msg == "" {
		switch len(e.Expected) {
		case 0:
			msg = fmt.Sprintf("unexpected %s", e.Found)
		case 1:
			msg = fmt.Sprintf("expected %s, found %s", e.Expected[0], e.Found)
		default:
			msg = fmt.Sprintf("expected one of %s, found %s", strings.Join(e.Expected, ", "), e.Found)
		}
	}
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, msg)
}

// position converts a byte offset into a 1-based line and column
func position(input string, offset int) (line, col int) {
	line, col = 1, 1
	for i, r := range input {
		if i >= offset {
			break
		}
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

// describeAt renders the input found at offset for error messages
func describeAt(input string, offset int) string {
	if offset >= len(input) {
		return "end of input"
	}
	rest := input[offset:]
	if i := strings.IndexAny(rest, " \t\r\n"); i > 0 {
		rest = rest[:i]
	}
	const maxFound = 16
	if len(rest) > maxFound {
		rest = rest[:maxFound] + "..."
	}
	return fmt.Sprintf("%q", rest)
}
