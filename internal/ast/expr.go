package ast

import (
	"fmt"
	"strings"
)

// Operator is the closed set of binary operations understood by the evaluator.
type Operator int

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpConcat
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
)

var operatorNames = [...]string{"Add", "Sub", "Mul", "Div", "Concat", "Eq", "Neq", "Lt", "Lte", "Gt", "Gte", "And", "Or"}

var operatorSymbols = [...]string{"+", "-", "*", "/", "&", "==", "!=", "<", "<=", ">", ">=", "AND", "OR"}

// String returns the operator's name (Add, Sub, ...)
func (o Operator) String() string {
	if int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// Symbol returns the canonical DSL spelling of the operator
func (o Operator) Symbol() string {
	if int(o) < len(operatorSymbols) {
		return operatorSymbols[o]
	}
	return "?"
}

// ParseOperator maps an operator name such as "Add" (case-insensitive) to an Operator.
func ParseOperator(name string) (Operator, error) {
	for i, n := range operatorNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Operator(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operator: %s", name)
}

// IsArithmetic reports whether o is one of + - * /
func (o Operator) IsArithmetic() bool {
	return o == OpAdd || o == OpSub || o == OpMul || o == OpDiv
}

// IsOrdering reports whether o is one of < <= > >=
func (o Operator) IsOrdering() bool {
	return o == OpLt || o == OpLte || o == OpGt || o == OpGte
}

// Expression is implemented by every AST node variant.
type Expression interface {
	exprNode()
}

// Literal is a constant value
type Literal struct {
	Value Value
}

// Identifier references an attribute in the fact environment
type Identifier struct {
	Name string
}

// BinaryOp applies Op to Left and Right
type BinaryOp struct {
	Op    Operator
	Left  Expression
	Right Expression
}

// FunctionCall invokes a built-in function by name
type FunctionCall struct {
	Name string
	Args []Expression
}

// Cast converts Expr to Target
type Cast struct {
	Expr   Expression
	Target ValueKind
}

func (*Literal) exprNode()      {}
func (*Identifier) exprNode()   {}
func (*BinaryOp) exprNode()     {}
func (*FunctionCall) exprNode() {}
func (*Cast) exprNode()         {}

// Assignment is the `target = expr` part of a rule statement
type Assignment struct {
	Target string
	Expr   Expression
}

// RuleStatement is a parsed `RULE name IF cond THEN x = e [ELSE x = e]`.
type RuleStatement struct {
	Name      string
	Condition Expression
	Then      Assignment
	Else      *Assignment
}

// Walk visits expr and its children depth-first, left to right. Returning
// false from fn stops descent into that node's children.
func Walk(expr Expression, fn func(Expression) bool) {
	if expr == nil || !fn(expr) {
		return
	}
	switch e := expr.(type) {
	case *BinaryOp:
		Walk(e.Left, fn)
		Walk(e.Right, fn)
	case *FunctionCall:
		for _, a := range e.Args {
			Walk(a, fn)
		}
	case *Cast:
		Walk(e.Expr, fn)
	}
}

// Identifiers returns the distinct attribute names referenced by the
// expressions, in first-seen order.
func Identifiers(exprs ...Expression) []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, expr := range exprs {
		Walk(expr, func(e Expression) bool {
			if id, ok := e.(*Identifier); ok && !seen[id.Name] {
				seen[id.Name] = true
				names = append(names, id.Name)
			}
			return true
		})
	}
	return names
}

// Format renders expr as canonical DSL text. Binary operations are fully
// parenthesised so the output reparses to the same tree under any grammar
// that keeps the default operator symbols.
func Format(expr Expression) string {
	var sb strings.Builder
	format(&sb, expr)
	return sb.String()
}

func format(sb *strings.Builder, expr Expression) {
	switch e := expr.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *Literal:
		sb.WriteString(e.Value.String())
	case *Identifier:
		sb.WriteString(e.Name)
	case *BinaryOp:
		sb.WriteByte('(')
		format(sb, e.Left)
		sb.WriteByte(' ')
		sb.WriteString(e.Op.Symbol())
		sb.WriteByte(' ')
		format(sb, e.Right)
		sb.WriteByte(')')
	case *FunctionCall:
		sb.WriteString(e.Name)
		sb.WriteByte('(')
		for i, a := range e.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, a)
		}
		sb.WriteByte(')')
	case *Cast:
		sb.WriteString("CAST(")
		format(sb, e.Expr)
		sb.WriteString(" AS ")
		sb.WriteString(e.Target.String())
		sb.WriteByte(')')
	default:
		fmt.Fprintf(sb, "<%T>", expr)
	}
}

// String renders the statement in canonical form
func (r *RuleStatement) String() string {
	var sb strings.Builder
	sb.WriteString("RULE ")
	sb.WriteString(r.Name)
	sb.WriteString(" IF ")
	format(&sb, r.Condition)
	sb.WriteString(" THEN ")
	sb.WriteString(r.Then.Target)
	sb.WriteString(" = ")
	format(&sb, r.Then.Expr)
	if r.Else != nil {
		sb.WriteString(" ELSE ")
		sb.WriteString(r.Else.Target)
		sb.WriteString(" = ")
		format(&sb, r.Else.Expr)
	}
	return sb.String()
}

// RuleBody is one conditional rule of a derived attribute. A nil Condition
// always matches; a nil Otherwise means a false condition falls through to
// the next body.
type RuleBody struct {
	Condition Expression
	Then      Expression
	Otherwise Expression
}

// Body converts a parsed statement into a RuleBody
func (r *RuleStatement) Body() RuleBody {
	body := RuleBody{Condition: r.Condition, Then: r.Then.Expr}
	if r.Else != nil {
		body.Otherwise = r.Else.Expr
	}
	return body
}

// String renders the body the way rule statements are written, without the
// RULE header
func (b RuleBody) String() string {
	var sb strings.Builder
	if b.Condition != nil {
		sb.WriteString("IF ")
		format(&sb, b.Condition)
		sb.WriteString(" THEN ")
	}
	format(&sb, b.Then)
	if b.Otherwise != nil {
		sb.WriteString(" ELSE ")
		format(&sb, b.Otherwise)
	}
	return sb.String()
}
