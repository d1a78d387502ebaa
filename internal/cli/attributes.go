package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/dictionary/seed"
	"derived-dsl/internal/dictionary/seed/ubo"
	"derived-dsl/internal/eval"
	"derived-dsl/internal/grammar"
	"derived-dsl/internal/resolver"
)

var seedSets = map[string]func() []*dictionary.AttributeDefinition{
	"kyc": seed.GenerateKYCAttributes,
	"ubo": ubo.GenerateUBOAttributes,
}

func (a *app) defineCommand() *cobra.Command {
	var (
		files []string
		seeds []string
	)

	cmd := &cobra.Command{
		Use:   "define",
		Short: "Store attribute definitions from HCL files and queue their compilation",
		Long: `Load attribute blocks from HCL (or HCL JSON) definition files. New attributes
are created, changed ones updated with a version bump, and every new or
changed derived attribute is queued for compilation. Nothing is written
when any rule fails to parse.

The built-in kyc and ubo dictionaries can be stored with --seed.

Examples:
  dsl define --file kyc.hcl
  dsl define --file 'defs/**/*.hcl' --file extra.json
  dsl define --seed kyc --seed ubo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 && len(seeds) == 0 {
				return fmt.Errorf("at least one of --file or --seed is required")
			}
			var defs []*dictionary.AttributeDefinition
			for _, name := range seeds {
				generate, ok := seedSets[strings.ToLower(name)]
				if !ok {
					return fmt.Errorf("unknown seed dictionary %q (want kyc or ubo)", name)
				}
				defs = append(defs, generate()...)
			}
			if len(files) > 0 {
				loaded, err := dictionary.LoadDefinitions(files...)
				if err != nil {
					return err
				}
				if len(loaded) == 0 {
					return fmt.Errorf("no attribute definitions found in %s", strings.Join(files, ", "))
				}
				defs = append(defs, loaded...)
			}

			eng, err := a.startEngine(cmd.Context())
			if err != nil {
				return err
			}
			results, err := eng.Define(cmd.Context(), defs...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				status := "unchanged"
				switch {
				case r.Created:
					status = "created"
				case r.Changed:
					status = "updated"
				}
				line := fmt.Sprintf("%s v%d %s", r.Definition.Name, r.Definition.Version, status)
				if r.Job != nil {
					line += fmt.Sprintf(" (job %s, priority %d)", r.Job.JobID, r.Job.Priority)
				}
				success(out, "%s", line)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&files, "file", nil, "Definition file or doublestar glob (repeatable)")
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "Built-in dictionary to store: kyc or ubo (repeatable)")
	return cmd
}

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <attribute>",
		Short: "Delete an attribute and cancel its compilation jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.startEngine(cmd.Context())
			if err != nil {
				return err
			}
			if err := eng.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Deleted %s", args[0])
			return nil
		},
	}
}

// fileCatalog compiles definitions straight from files, bypassing the store's
// attributes
func (a *app) fileCatalog(ctx context.Context, patterns []string) (*dictionary.Catalog, error) {
	if err := a.open(ctx); err != nil {
		return nil, err
	}
	spec, err := grammar.NewRegistry(a.store, a.log).Reload(ctx)
	if err != nil {
		return nil, err
	}
	defs, err := dictionary.LoadDefinitions(patterns...)
	if err != nil {
		return nil, err
	}
	return dictionary.NewCatalog(defs, spec)
}

func (a *app) resolveCommand() *cobra.Command {
	var (
		factsFile string
		defs      []string
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <attribute>...",
		Short: "Compute derived attributes and everything they depend on",
		Long: `Resolve targets against the stored definitions, or against definition
files when --defs is given. Prerequisites are computed first; a cycle is
reported with its full path.

Examples:
  dsl resolve kyc_risk_rating --facts investor.json
  dsl resolve kyc_risk_rating --facts investor.hcl --defs 'defs/*.hcl' --all`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			facts, err := loadFacts(factsFile)
			if err != nil {
				return err
			}

			var env eval.Facts
			if len(defs) > 0 {
				catalog, err := a.fileCatalog(ctx, defs)
				if err != nil {
					return err
				}
				env, err = resolver.ResolveChain(args, facts, catalog, nil)
				if err != nil {
					return err
				}
			} else {
				eng, err := a.startEngine(ctx)
				if err != nil {
					return err
				}
				env, err = eng.Resolve(ctx, args, facts)
				if err != nil {
					return err
				}
			}

			if all {
				printFacts(cmd.OutOrStdout(), env, nil)
			} else {
				printFacts(cmd.OutOrStdout(), env, args)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&factsFile, "facts", "", "JSON or HCL facts file")
	cmd.Flags().StringSliceVar(&defs, "defs", nil, "Definition files or globs to use instead of the store")
	cmd.Flags().BoolVar(&all, "all", false, "Print every fact, not just the targets")
	return cmd
}

func (a *app) planCommand() *cobra.Command {
	var (
		factsFile string
		defs      []string
	)

	cmd := &cobra.Command{
		Use:   "plan <attribute>...",
		Short: "Show the order in which attributes would be computed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			facts, err := loadFacts(factsFile)
			if err != nil {
				return err
			}

			var plan *resolver.ExecutionPlan
			if len(defs) > 0 {
				catalog, err := a.fileCatalog(ctx, defs)
				if err != nil {
					return err
				}
				plan, err = resolver.Plan(args, facts, catalog)
				if err != nil {
					return err
				}
			} else {
				eng, err := a.startEngine(ctx)
				if err != nil {
					return err
				}
				plan, err = eng.Plan(args, facts)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			heading(out, "Evaluation order")
			for i, name := range plan.Order {
				fmt.Fprintf(out, "  %d. %s\n", i+1, name)
			}
			if len(plan.Inputs) > 0 {
				heading(out, "Required inputs")
				for _, name := range plan.Inputs {
					fmt.Fprintf(out, "  - %s\n", name)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&factsFile, "facts", "", "Facts already known; they are left out of the plan")
	cmd.Flags().StringSliceVar(&defs, "defs", nil, "Definition files or globs to use instead of the store")
	return cmd
}
