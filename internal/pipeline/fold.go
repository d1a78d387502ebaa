package pipeline

import (
	"derived-dsl/internal/ast"
	"derived-dsl/internal/eval"
)

// Fold replaces constant subexpressions with their values. A subexpression
// whose evaluation fails is kept as written so evaluation reports the same
// error at run time.
func Fold(expr ast.Expression) ast.Expression {
	switch n := expr.(type) {
	case *ast.BinaryOp:
		left, right := Fold(n.Left), Fold(n.Right)
		l, lok := left.(*ast.Literal)
		r, rok := right.(*ast.Literal)
		if lok && rok {
			if v, err := eval.Apply(n.Op, l.Value, r.Value); err == nil {
				return &ast.Literal{Value: v}
			}
		}
		return &ast.BinaryOp{Op: n.Op, Left: left, Right: right}
	case *ast.FunctionCall:
		args := make([]ast.Expression, len(n.Args))
		constant := eval.IsPure(n.Name)
		for i, a := range n.Args {
			args[i] = Fold(a)
			if _, ok := args[i].(*ast.Literal); !ok {
				constant = false
			}
		}
		call := &ast.FunctionCall{Name: n.Name, Args: args}
		if constant {
			if v, err := eval.Evaluate(call, nil); err == nil {
				return &ast.Literal{Value: v}
			}
		}
		return call
	case *ast.Cast:
		inner := Fold(n.Expr)
		if lit, ok := inner.(*ast.Literal); ok {
			if v, err := eval.Cast(lit.Value, n.Target); err == nil {
				return &ast.Literal{Value: v}
			}
		}
		return &ast.Cast{Expr: inner, Target: n.Target}
	}
	return expr
}

// FoldRules folds every body. A condition that folds to TRUE makes the body
// unconditional; one that folds to FALSE either selects Otherwise or drops
// the body, which then could never match.
func FoldRules(bodies []ast.RuleBody) []ast.RuleBody {
	out := make([]ast.RuleBody, 0, len(bodies))
	for _, b := range bodies {
		folded := ast.RuleBody{Then: Fold(b.Then)}
		if b.Otherwise != nil {
			folded.Otherwise = Fold(b.Otherwise)
		}
		if b.Condition == nil {
			out = append(out, folded)
			continue
		}
		cond := Fold(b.Condition)
		lit, ok := cond.(*ast.Literal)
		switch {
		case ok && lit.Value.Kind == ast.KindBoolean && lit.Value.Bool:
			out = append(out, ast.RuleBody{Then: folded.Then})
		case ok && lit.Value.Kind == ast.KindBoolean:
			if folded.Otherwise != nil {
				out = append(out, ast.RuleBody{Then: folded.Otherwise})
			}
		default:
			folded.Condition = cond
			out = append(out, folded)
		}
	}
	return out
}
