package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"derived-dsl/internal/ast"
	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/eval"
)

// loadFacts reads a JSON or HCL facts file; an empty path gives no facts
func loadFacts(path string) (eval.Facts, error) {
	if path == "" {
		return eval.Facts{}, nil
	}
	facts, err := dictionary.LoadFacts(path)
	if err != nil {
		return nil, err
	}
	return eval.Facts(facts), nil
}

func isRuleStatement(source string) bool {
	fields := strings.Fields(source)
	return len(fields) > 0 && strings.EqualFold(fields[0], "RULE")
}

func (a *app) parseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <source>",
		Short: "Parse an expression or rule statement and print its canonical form",
		Long: `Parse DSL text with the current grammar. The canonical form parenthesizes
every binary operation, so it shows exactly how precedence was applied.

Examples:
  dsl parse '100 + 50 * 2'
  dsl parse 'RULE high IF score > 70 THEN band = "HIGH" ELSE band = "LOW"'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.startEngine(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if isRuleStatement(args[0]) {
				stmt, err := eng.ParseRule(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, stmt.String())
				return nil
			}
			expr, err := eng.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, ast.Format(expr))
			return nil
		},
	}
}

func (a *app) evalCommand() *cobra.Command {
	var factsFile string

	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate an expression against a facts file",
		Long: `Evaluate one expression. Facts come from a JSON object or an HCL file
with one attribute per fact.

Examples:
  dsl eval 'UPPER(name) & "!"' --facts facts.json
  dsl eval 'CAST(7 AS FLOAT) / 2'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			facts, err := loadFacts(factsFile)
			if err != nil {
				return err
			}
			eng, err := a.startEngine(cmd.Context())
			if err != nil {
				return err
			}
			v, err := eng.Evaluate(args[0], facts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&factsFile, "facts", "", "JSON or HCL facts file")
	return cmd
}
