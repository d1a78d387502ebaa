package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/pipeline"
)

// DefineResult reports what Define did with one definition
type DefineResult struct {
	Definition *dictionary.AttributeDefinition
	Created    bool
	Changed    bool
	Job        *pipeline.CompilationJob
}

// Define stores defs, creating new attributes and updating existing ones by
// name, queues compilation of every new or changed derived attribute and
// rebuilds the catalog once. A definition whose rules do not parse with the
// current grammar is rejected before anything is written.
func (e *Engine) Define(ctx context.Context, defs ...*dictionary.AttributeDefinition) ([]DefineResult, error) {
	if err := e.registry.Err(); err != nil {
		return nil, err
	}
	spec := e.registry.Current()
	if spec == nil {
		return nil, fmt.Errorf("no grammar loaded")
	}
	var errs error
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for i, src := range def.Rules {
			if _, err := dictionary.ParseRuleSource(def.Name, src, spec); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("attribute %s rule %d: %w", def.Name, i+1, err))
			}
		}
	}
	if errs != nil {
		return nil, errs
	}

	results := make([]DefineResult, 0, len(defs))
	for _, def := range defs {
		res, err := e.defineOne(ctx, def)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	if _, err := e.Refresh(ctx); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Engine) defineOne(ctx context.Context, def *dictionary.AttributeDefinition) (DefineResult, error) {
	res := DefineResult{Definition: def}

	existing, err := e.store.GetAttributeByName(ctx, def.Name)
	switch {
	case errors.Is(err, dictionary.ErrAttributeNotFound):
		def.AttributeID = ""
		if err := e.store.CreateAttribute(ctx, def); err != nil {
			return res, err
		}
		res.Created, res.Changed = true, true
		if def.IsDerived() && e.service != nil {
			res.Job, err = e.service.OnRuleCreated(ctx, def.AttributeID)
		}
	case err != nil:
		return res, err
	default:
		def.AttributeID = existing.AttributeID
		if err := e.store.UpdateAttribute(ctx, def); err != nil {
			return res, err
		}
		res.Changed = def.Version != existing.Version
		if res.Changed && def.IsDerived() && e.service != nil {
			res.Job, err = e.service.OnRuleEdited(ctx, def.AttributeID)
		}
	}
	if err != nil {
		return res, err
	}

	if res.Changed {
		e.resetHeat(def.Name)
	}
	e.log.Infow("attribute defined", "attribute", def.Name, "version", def.Version,
		"created", res.Created, "changed", res.Changed)
	return res, nil
}

// Delete removes the attribute named name, cancels its compilation jobs and
// rebuilds the catalog
func (e *Engine) Delete(ctx context.Context, name string) error {
	def, err := e.store.GetAttributeByName(ctx, name)
	if err != nil {
		return err
	}
	if err := e.store.DeleteAttribute(ctx, def.AttributeID); err != nil {
		return err
	}
	if e.service != nil {
		if err := e.service.OnRuleDeleted(ctx, def.AttributeID); err != nil {
			return err
		}
	}
	e.resetHeat(name)
	_, err = e.Refresh(ctx)
	return err
}

func (e *Engine) resetHeat(name string) {
	e.hotMu.Lock()
	defer e.hotMu.Unlock()
	delete(e.counts, name)
	delete(e.promoted, name)
}
