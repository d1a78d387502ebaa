package eval

import (
	"derived-dsl/internal/ast"
)

// EvaluateRule evaluates one rule body. matched is false when the condition
// is false and the body has no Otherwise branch.
func (e *Evaluator) EvaluateRule(body ast.RuleBody, facts Facts) (v ast.Value, matched bool, err error) {
	if body.Condition != nil {
		cond, err := e.Evaluate(body.Condition, facts)
		if err != nil {
			return ast.Null, false, err
		}
		if cond.Kind != ast.KindBoolean {
			return ast.Null, false, &TypeMismatchError{Op: "IF", Left: cond.Kind, Right: ast.KindBoolean}
		}
		if !cond.Bool {
			if body.Otherwise == nil {
				return ast.Null, false, nil
			}
			v, err := e.Evaluate(body.Otherwise, facts)
			return v, err == nil, err
		}
	}
	v, err = e.Evaluate(body.Then, facts)
	return v, err == nil, err
}

// EvaluateRules evaluates an attribute's rule bodies in declaration order; the
// first body that matches determines the value.
func (e *Evaluator) EvaluateRules(attribute string, rules []ast.RuleBody, facts Facts) (ast.Value, error) {
	for _, body := range rules {
		v, matched, err := e.EvaluateRule(body, facts)
		if err != nil {
			return ast.Null, err
		}
		if matched {
			return v, nil
		}
	}
	return ast.Null, &UnmatchedConditionError{Attribute: attribute}
}
