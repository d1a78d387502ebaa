package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"derived-dsl/internal/grammar"
	"derived-dsl/internal/vocabulary"
)

func (a *app) grammarCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grammar",
		Short: "Inspect and extend the stored grammar",
		Long: `The parser is compiled from grammar rows in the database. Adding an
operator, function or keyword row changes the language without a rebuild.

Examples:
  dsl grammar seed
  dsl grammar list --extensions
  dsl grammar check
  dsl grammar add-extension --name DOUBLE --kind function --signature 'DOUBLE(x)'`,
	}
	cmd.AddCommand(
		a.grammarSeedCommand(),
		a.grammarListCommand(),
		a.grammarCheckCommand(),
		a.grammarAddExtensionCommand(),
	)
	return cmd
}

func (a *app) grammarSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the default grammar rows that are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := vocabulary.SeedDefaultGrammar(ctx, a.store); err != nil {
				return err
			}
			rules, exts, err := vocabulary.ActiveGrammar(ctx, a.store)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Grammar seeded: %d active rules, %d active extensions", len(rules), len(exts))
			return nil
		},
	}
}

func (a *app) grammarListCommand() *cobra.Command {
	var (
		extensions bool
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List grammar rules or extensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			var active *bool
			if !all {
				t := true
				active = &t
			}

			tw := table(cmd.OutOrStdout())
			if extensions {
				exts, err := a.store.ListGrammarExtensions(ctx, active)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "KIND\tNAME\tCATEGORY\tSIGNATURE\tACTIVE")
				for _, e := range exts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", e.Kind, e.Name, e.Category, e.Signature, e.Active)
				}
				return tw.Flush()
			}

			rules, err := a.store.ListGrammarRules(ctx, active)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "RULE\tKIND\tCATEGORY\tPATTERN\tACTIVE")
			for _, r := range rules {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", r.RuleName, r.Kind, r.Category, r.Pattern, r.Active)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&extensions, "extensions", false, "List operator, function and keyword extensions instead of rules")
	cmd.Flags().BoolVar(&all, "all", false, "Include inactive rows")
	return cmd
}

func (a *app) grammarCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compile the active grammar and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			rules, exts, err := vocabulary.ActiveGrammar(ctx, a.store)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			spec, err := grammar.CompileGrammar(rules, exts)
			if err != nil {
				problems := grammar.GrammarErrors(err)
				if len(problems) == 0 {
					return err
				}
				for _, p := range problems {
					failure(out, "%s", p.Error())
				}
				return fmt.Errorf("grammar has %d errors", len(problems))
			}

			success(out, "Grammar compiles: %d rules, %d functions (fingerprint %.12s)",
				len(spec.RuleNames()), len(spec.Functions()), spec.Fingerprint())
			return nil
		},
	}
}

func (a *app) grammarAddExtensionCommand() *cobra.Command {
	var (
		name        string
		kind        string
		category    string
		signature   string
		description string
	)

	cmd := &cobra.Command{
		Use:   "add-extension",
		Short: "Add an operator, function or keyword to the grammar",
		Long: `Insert a grammar extension row. The grammar is recompiled with the new row
and the row is removed again if the result does not compile.

The category defaults to function_name for functions and keyword for keywords.
Operators must name their precedence level: or_op, and_op, comparison_op,
additive_op or multiplicative_op. An operator's signature is the operation it
performs (Add, Sub, Mul, Div, Concat, Eq, Neq, Lt, Lte, Gt, Gte, And, Or).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}

			ext := &vocabulary.GrammarExtension{
				Name:      name,
				Kind:      vocabulary.ExtensionKind(strings.ToLower(kind)),
				Category:  category,
				Signature: signature,
				Active:    true,
			}
			if ext.Category == "" {
				switch ext.Kind {
				case vocabulary.ExtensionFunction:
					ext.Category = string(vocabulary.CategoryFunctionName)
				case vocabulary.ExtensionKeyword:
					ext.Category = string(vocabulary.CategoryKeyword)
				}
			}
			if description != "" {
				ext.Description = &description
			}
			if err := a.store.CreateGrammarExtension(ctx, ext); err != nil {
				return err
			}

			rules, exts, err := vocabulary.ActiveGrammar(ctx, a.store)
			if err != nil {
				return err
			}
			if _, compileErr := grammar.CompileGrammar(rules, exts); compileErr != nil {
				if err := a.store.DeleteGrammarExtension(ctx, ext.ExtensionID); err != nil {
					a.log.Errorw("failed to remove rejected extension", "extension_id", ext.ExtensionID, "error", err)
				}
				return fmt.Errorf("extension %s rejected: %w", name, compileErr)
			}

			success(cmd.OutOrStdout(), "Added %s %s (%s)", ext.Kind, ext.Name, ext.ExtensionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Symbol, function or keyword name (required)")
	cmd.Flags().StringVar(&kind, "kind", "function", "Extension kind: operator, function or keyword")
	cmd.Flags().StringVar(&category, "category", "", "Grammar category the symbol joins")
	cmd.Flags().StringVar(&signature, "signature", "", "Function signature such as NAME(a, [b]) or operator operation")
	cmd.Flags().StringVar(&description, "description", "", "Free text description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
