// Package eval evaluates DSL expressions and rule bodies against a fact
// environment.
package eval

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"derived-dsl/internal/ast"
)

// Facts is the environment of known attribute values
type Facts map[string]ast.Value

// Clone returns an independent copy of f
func (f Facts) Clone() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Names returns the bound attribute names, sorted
func (f Facts) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Function is a built-in implementation. Arguments are already evaluated.
type Function func(args []ast.Value) (ast.Value, error)

// Evaluator evaluates expressions. It holds no per-call state and is safe
// for concurrent use once constructed.
type Evaluator struct {
	lookup    Lookup
	functions map[string]Function
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithLookup installs the collaborator used by LOOKUP
func WithLookup(l Lookup) Option {
	return func(e *Evaluator) { e.lookup = l }
}

// WithFunction registers or replaces a function. Names are case-insensitive.
func WithFunction(name string, fn Function) Option {
	return func(e *Evaluator) { e.functions[strings.ToUpper(name)] = fn }
}

// New creates an Evaluator with the built-in function table
func New(opts ...Option) *Evaluator {
	e := &Evaluator{functions: builtins()}
	e.functions["LOOKUP"] = e.lookupFunc
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEvaluator = New()

// Evaluate evaluates expr with the built-in functions and no lookup collaborator
func Evaluate(expr ast.Expression, facts Facts) (ast.Value, error) {
	return defaultEvaluator.Evaluate(expr, facts)
}

// HasFunction reports whether name is callable
func (e *Evaluator) HasFunction(name string) bool {
	_, ok := e.functions[strings.ToUpper(name)]
	return ok
}

// Evaluate reduces expr to a value
func (e *Evaluator) Evaluate(expr ast.Expression, facts Facts) (ast.Value, error) {
	switch n := expr.(type) {
	case *ast.Literal:
		return n.Value, nil
	case *ast.Identifier:
		v, ok := facts[n.Name]
		if !ok {
			return ast.Null, &UndefinedAttributeError{Name: n.Name}
		}
		return v, nil
	case *ast.BinaryOp:
		left, err := e.Evaluate(n.Left, facts)
		if err != nil {
			return ast.Null, err
		}
		right, err := e.Evaluate(n.Right, facts)
		if err != nil {
			return ast.Null, err
		}
		return Apply(n.Op, left, right)
	case *ast.FunctionCall:
		fn, ok := e.functions[strings.ToUpper(n.Name)]
		if !ok {
			return ast.Null, &UnknownFunctionError{Name: n.Name}
		}
		args := make([]ast.Value, len(n.Args))
		for i, a := range n.Args {
			v, err := e.Evaluate(a, facts)
			if err != nil {
				return ast.Null, err
			}
			args[i] = v
		}
		return fn(args)
	case *ast.Cast:
		v, err := e.Evaluate(n.Expr, facts)
		if err != nil {
			return ast.Null, err
		}
		return Cast(v, n.Target)
	case nil:
		return ast.Null, fmt.Errorf("evaluate: nil expression")
	default:
		return ast.Null, fmt.Errorf("evaluate: unsupported node %T", expr)
	}
}

// Apply applies a binary operator to two evaluated operands
func Apply(op ast.Operator, left, right ast.Value) (ast.Value, error) {
	mismatch := func() (ast.Value, error) {
		return ast.Null, &TypeMismatchError{Op: op.Symbol(), Left: left.Kind, Right: right.Kind}
	}

	switch {
	case op.IsArithmetic():
		if !left.Kind.IsNumeric() || !right.Kind.IsNumeric() {
			return mismatch()
		}
		return arithmetic(op, left, right)

	case op == ast.OpConcat:
		if !stringable(left) || !stringable(right) {
			return mismatch()
		}
		return ast.Str(left.Text() + right.Text()), nil

	case op == ast.OpEq || op == ast.OpNeq:
		eq := equal(left, right)
		if op == ast.OpNeq {
			eq = !eq
		}
		return ast.Bool(eq), nil

	case op.IsOrdering():
		cmp, ok := compare(left, right)
		if !ok {
			return mismatch()
		}
		switch op {
		case ast.OpLt:
			return ast.Bool(cmp < 0), nil
		case ast.OpLte:
			return ast.Bool(cmp <= 0), nil
		case ast.OpGt:
			return ast.Bool(cmp > 0), nil
		default:
			return ast.Bool(cmp >= 0), nil
		}

	case op == ast.OpAnd || op == ast.OpOr:
		if left.Kind != ast.KindBoolean || right.Kind != ast.KindBoolean {
			return mismatch()
		}
		if op == ast.OpAnd {
			return ast.Bool(left.Bool && right.Bool), nil
		}
		return ast.Bool(left.Bool || right.Bool), nil
	}
	return ast.Null, fmt.Errorf("apply: unsupported operator %s", op)
}

func arithmetic(op ast.Operator, left, right ast.Value) (ast.Value, error) {
	if left.Kind == ast.KindInteger && right.Kind == ast.KindInteger {
		a, b := left.Int, right.Int
		overflow := &OverflowError{Op: op.Symbol(), Operands: []ast.Value{left, right}}
		switch op {
		case ast.OpAdd:
			c := a + b
			if (c > a) != (b > 0) {
				return ast.Null, overflow
			}
			return ast.Int(c), nil
		case ast.OpSub:
			c := a - b
			if (c < a) != (b > 0) {
				return ast.Null, overflow
			}
			return ast.Int(c), nil
		case ast.OpMul:
			if a == 0 || b == 0 {
				return ast.Int(0), nil
			}
			c := a * b
			if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
				return ast.Null, overflow
			}
			return ast.Int(c), nil
		default:
			if b == 0 {
				return ast.Null, &DivisionByZeroError{}
			}
			if a == math.MinInt64 && b == -1 {
				return ast.Null, overflow
			}
			// truncates toward zero
			return ast.Int(a / b), nil
		}
	}

	a, _ := left.AsFloat()
	b, _ := right.AsFloat()
	switch op {
	case ast.OpAdd:
		return ast.Float(a + b), nil
	case ast.OpSub:
		return ast.Float(a - b), nil
	case ast.OpMul:
		return ast.Float(a * b), nil
	default:
		if b == 0 {
			return ast.Null, &DivisionByZeroError{}
		}
		return ast.Float(a / b), nil
	}
}

func stringable(v ast.Value) bool {
	return v.Kind != ast.KindNull
}

// equal compares structurally, treating Integer and Float as one numeric kind
func equal(left, right ast.Value) bool {
	if left.Kind.IsNumeric() && right.Kind.IsNumeric() && left.Kind != right.Kind {
		a, _ := left.AsFloat()
		b, _ := right.AsFloat()
		return a == b
	}
	return left.Equal(right)
}

// compare orders two numerics or two strings
func compare(left, right ast.Value) (int, bool) {
	switch {
	case left.Kind == ast.KindInteger && right.Kind == ast.KindInteger:
		switch {
		case left.Int < right.Int:
			return -1, true
		case left.Int > right.Int:
			return 1, true
		}
		return 0, true
	case left.Kind.IsNumeric() && right.Kind.IsNumeric():
		a, _ := left.AsFloat()
		b, _ := right.AsFloat()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	case left.Kind == ast.KindString && right.Kind == ast.KindString:
		return strings.Compare(left.Str, right.Str), true
	}
	return 0, false
}

// Cast converts v to target
func Cast(v ast.Value, target ast.ValueKind) (ast.Value, error) {
	fail := func(reason string) (ast.Value, error) {
		return ast.Null, &CastError{Value: v, Target: target, Reason: reason}
	}
	if v.Kind == target {
		return v, nil
	}
	if v.IsNull() {
		return fail("value is NULL")
	}

	switch target {
	case ast.KindInteger:
		switch v.Kind {
		case ast.KindFloat:
			if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) || math.Abs(v.Float) >= math.MaxInt64 {
				return fail("out of range")
			}
			return ast.Int(int64(v.Float)), nil
		case ast.KindString:
			i, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
			if err != nil {
				return fail("not an integer")
			}
			return ast.Int(i), nil
		case ast.KindBoolean:
			if v.Bool {
				return ast.Int(1), nil
			}
			return ast.Int(0), nil
		}
	case ast.KindFloat:
		switch v.Kind {
		case ast.KindInteger:
			return ast.Float(float64(v.Int)), nil
		case ast.KindString:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
			if err != nil {
				return fail("not a number")
			}
			return ast.Float(f), nil
		case ast.KindBoolean:
			if v.Bool {
				return ast.Float(1), nil
			}
			return ast.Float(0), nil
		}
	case ast.KindString:
		return ast.Str(v.Text()), nil
	case ast.KindBoolean:
		switch v.Kind {
		case ast.KindString:
			switch strings.ToLower(strings.TrimSpace(v.Str)) {
			case "true":
				return ast.Bool(true), nil
			case "false":
				return ast.Bool(false), nil
			}
			return fail("not a boolean")
		case ast.KindInteger:
			if v.Int == 0 || v.Int == 1 {
				return ast.Bool(v.Int == 1), nil
			}
			return fail("only 0 and 1 convert to BOOLEAN")
		}
	}
	return fail("unsupported conversion")
}
