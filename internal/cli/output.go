package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"

	"derived-dsl/internal/eval"
)

func success(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func failure(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", color.RedString("✗"), fmt.Sprintf(format, args...))
}

func heading(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(title))
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// printFacts writes name = value lines sorted by name. only limits the
// output to those names when non-empty.
func printFacts(w io.Writer, facts eval.Facts, only []string) {
	names := only
	if len(names) == 0 {
		names = facts.Names()
	} else {
		names = append([]string(nil), only...)
		sort.Strings(names)
	}
	tw := table(w)
	for _, n := range names {
		v, ok := facts[n]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t= %s\n", color.YellowString(n), v.String())
	}
	tw.Flush()
}
