package grammar

import (
	"fmt"
	"strconv"
	"strings"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/vocabulary"
)

// Parse parses source as a single expression
func Parse(source string, spec *ParserSpec) (ast.Expression, error) {
	tree, err := parseTree(source, spec)
	if err != nil {
		return nil, err
	}
	b := &astBuilder{spec: spec, input: source}
	top, err := b.top(tree)
	if err != nil {
		return nil, err
	}
	if top.Category == vocabulary.CategoryStatement {
		return nil, b.errorAt(top, "expected an expression, found a rule statement")
	}
	return b.expr(top)
}

// ParseRule parses source as a RULE statement
func ParseRule(source string, spec *ParserSpec) (*ast.RuleStatement, error) {
	tree, err := parseTree(source, spec)
	if err != nil {
		return nil, err
	}
	b := &astBuilder{spec: spec, input: source}
	top, err := b.top(tree)
	if err != nil {
		return nil, err
	}
	if top.Category != vocabulary.CategoryStatement {
		return nil, b.errorAt(top, "expected a rule statement")
	}
	return b.statement(top)
}

// ParseTree exposes the concrete parse tree, mainly for the CLI
func ParseTree(source string, spec *ParserSpec) (*Node, error) {
	return parseTree(source, spec)
}

// astBuilder maps parse nodes to AST nodes by rule category
type astBuilder struct {
	spec  *ParserSpec
	input string
}

func (b *astBuilder) errorAt(n *Node, format string, args ...interface{}) *ParseError {
	line, col := position(b.input, n.Offset)
	return &ParseError{
		Offset:  n.Offset,
		Line:    line,
		Column:  col,
		Found:   describeAt(b.input, n.Offset),
		Message: fmt.Sprintf(format, args...),
	}
}

// top unwraps the root node down to its statement or expression child
func (b *astBuilder) top(n *Node) (*Node, error) {
	for n.Category == vocabulary.CategoryRoot || n.Category == vocabulary.CategoryFragment {
		if len(n.Children) != 1 {
			return nil, b.errorAt(n, "rule %s produced %d top-level nodes", n.Rule, len(n.Children))
		}
		n = n.Children[0]
	}
	return n, nil
}

func (b *astBuilder) expr(n *Node) (ast.Expression, error) {
	switch n.Category {
	case vocabulary.CategoryLiteral:
		v, err := b.literal(n)
		if err != nil {
			return nil, err
		}
		return &ast.Literal{Value: v}, nil
	case vocabulary.CategoryIdentifier:
		return &ast.Identifier{Name: n.Text}, nil
	case vocabulary.CategoryFunction:
		return b.function(n)
	case vocabulary.CategoryCast:
		return b.cast(n)
	case vocabulary.CategoryExpression, vocabulary.CategoryFragment:
		return b.fold(n, n.Children)
	default:
		return nil, b.errorAt(n, "rule %s (%s) cannot appear in an expression", n.Rule, n.Category)
	}
}

// fold builds a left-associative chain from [operand, op, operand, ...]
func (b *astBuilder) fold(n *Node, children []*Node) (ast.Expression, error) {
	if len(children) == 0 {
		return nil, b.errorAt(n, "empty %s", n.Rule)
	}
	left, err := b.expr(children[0])
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(children); i += 2 {
		opNode := children[i]
		if opNode.Category != vocabulary.CategoryOperator || i+1 >= len(children) {
			return nil, b.errorAt(opNode, "expected operator and operand in %s", n.Rule)
		}
		op, ok := b.spec.Operator(opNode.Text)
		if !ok {
			return nil, b.errorAt(opNode, "unknown operator %s", opNode.Text)
		}
		right, err := b.expr(children[i+1])
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (b *astBuilder) literal(n *Node) (ast.Value, error) {
	text := n.Text
	upper := strings.ToUpper(text)
	switch {
	case strings.HasPrefix(text, `"`) || strings.HasPrefix(text, `'`):
		if len(text) < 2 || text[len(text)-1] != text[0] {
			return ast.Null, b.errorAt(n, "unterminated string literal")
		}
		return ast.Str(unescape(text[1 : len(text)-1])), nil
	case upper == "TRUE":
		return ast.Bool(true), nil
	case upper == "FALSE":
		return ast.Bool(false), nil
	case upper == "NULL":
		return ast.Null, nil
	case strings.ContainsAny(text, ".eE"):
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return ast.Null, b.errorAt(n, "invalid float literal %s", text)
		}
		return ast.Float(f), nil
	default:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return ast.Null, b.errorAt(n, "integer literal %s out of range", text)
		}
		return ast.Int(i), nil
	}
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

func (b *astBuilder) function(n *Node) (ast.Expression, error) {
	if len(n.Children) == 0 || n.Children[0].Category != vocabulary.CategoryFunctionName {
		return nil, b.errorAt(n, "function call without a name")
	}
	nameNode := n.Children[0]
	sig, ok := b.spec.Function(nameNode.Text)
	if !ok {
		return nil, b.errorAt(nameNode, "unknown function %s", nameNode.Text)
	}
	args := make([]ast.Expression, 0, len(n.Children)-1)
	for _, c := range n.Children[1:] {
		arg, err := b.expr(c)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	if !sig.Accepts(len(args)) {
		return nil, b.errorAt(nameNode, "%s called with %d arguments; signature is %s", sig.Name, len(args), sig)
	}
	return &ast.FunctionCall{Name: sig.Name, Args: args}, nil
}

func (b *astBuilder) cast(n *Node) (ast.Expression, error) {
	if len(n.Children) != 2 || n.Children[1].Category != vocabulary.CategoryType {
		return nil, b.errorAt(n, "cast requires an expression and a target type")
	}
	inner, err := b.expr(n.Children[0])
	if err != nil {
		return nil, err
	}
	target, err := ast.ParseValueKind(n.Children[1].Text)
	if err != nil || target == ast.KindNull {
		return nil, b.errorAt(n.Children[1], "invalid cast target %s", n.Children[1].Text)
	}
	return &ast.Cast{Expr: inner, Target: target}, nil
}

// statement expects [identifier, condition, (connector, condition)*, assignment, assignment?]
func (b *astBuilder) statement(n *Node) (*ast.RuleStatement, error) {
	children := n.Children
	if len(children) < 3 || children[0].Category != vocabulary.CategoryIdentifier {
		return nil, b.errorAt(n, "malformed rule statement")
	}
	stmt := &ast.RuleStatement{Name: children[0].Text}

	var conds []*Node
	i := 1
	for ; i < len(children) && children[i].Category != vocabulary.CategoryAssignment; i++ {
		conds = append(conds, children[i])
	}
	cond, err := b.fold(n, conds)
	if err != nil {
		return nil, err
	}
	stmt.Condition = cond

	var assigns []ast.Assignment
	for ; i < len(children); i++ {
		a, err := b.assignment(children[i])
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, a)
	}
	switch len(assigns) {
	case 1:
		stmt.Then = assigns[0]
	case 2:
		stmt.Then = assigns[0]
		stmt.Else = &assigns[1]
	default:
		return nil, b.errorAt(n, "rule statement needs a THEN assignment and at most one ELSE")
	}
	return stmt, nil
}

func (b *astBuilder) assignment(n *Node) (ast.Assignment, error) {
	if n.Category != vocabulary.CategoryAssignment || len(n.Children) != 2 ||
		n.Children[0].Category != vocabulary.CategoryIdentifier {
		return ast.Assignment{}, b.errorAt(n, "malformed assignment")
	}
	e, err := b.expr(n.Children[1])
	if err != nil {
		return ast.Assignment{}, err
	}
	return ast.Assignment{Target: n.Children[0].Text, Expr: e}, nil
}
