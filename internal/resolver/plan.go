package resolver

import (
	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/eval"
)

// ExecutionPlan is the order in which Resolve would evaluate attributes
type ExecutionPlan struct {
	// Order lists the derived attributes to evaluate, prerequisites first
	Order []string
	// Inputs lists the attributes the plan needs but no rule computes. They
	// must be supplied as facts.
	Inputs []string
}

// Plan returns the evaluation order for targets without evaluating
// anything. Attributes already in facts are left out.
func (r *Resolver) Plan(targets []string, facts eval.Facts) (*ExecutionPlan, error) {
	plan := &ExecutionPlan{}
	seen := make(map[string]bool)
	w := &walker{
		catalog:  r.catalog,
		maxDepth: r.maxDepth,
		known: func(name string) bool {
			if _, ok := facts[name]; ok {
				return true
			}
			return seen[name]
		},
		missing: func(name string, _ []string) error {
			seen[name] = true
			plan.Inputs = append(plan.Inputs, name)
			return nil
		},
		finish: func(idx int, _ []string) error {
			name := r.catalog.At(idx).Definition.Name
			seen[name] = true
			plan.Order = append(plan.Order, name)
			return nil
		},
	}
	if err := w.run(targets); err != nil {
		return nil, err
	}
	return plan, nil
}

// Plan is a convenience wrapper for New(catalog, nil).Plan
func Plan(targets []string, facts eval.Facts, catalog *dictionary.Catalog) (*ExecutionPlan, error) {
	return New(catalog, nil).Plan(targets, facts)
}
