package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/internal/entrypoint"
	"github.com/fluxbase-eu/fluxpack/internal/handlers"
)

var entryCmd = &cobra.Command{
	Use:   "entry [file] [export] [kind]",
	Short: "Print the generated entry point of a handler",
	Long: `Print the synthetic module that wraps one handler export with its runtime adapter.
The file path is taken relative to the project directory.

Examples:
  fluxpack entry src/orders.ts create http
  fluxpack entry src/site.ts default site`,
	Args:              cobra.ExactArgs(3),
	ValidArgsFunction: completeEntryArgs,
	RunE:              runEntry,
}

// completeEntryArgs completes the kind argument
func completeEntryArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 2 {
		return nil, cobra.ShellCompDirectiveDefault
	}
	var kinds []string
	for _, k := range handlers.Kinds() {
		kinds = append(kinds, string(k))
	}
	return kinds, cobra.ShellCompDirectiveNoFileComp
}

func runEntry(cmd *cobra.Command, args []string) error {
	kind, err := handlers.ParseKind(args[2])
	if err != nil {
		return err
	}
	text, err := entrypoint.Generate(filepath.ToSlash(args[0]), args[1], kind)
	if err != nil {
		return err
	}

	if formatter.Structured() {
		return formatter.Print(map[string]string{"entry": text})
	}
	_, _ = fmt.Fprint(formatter.Writer, text)
	return nil
}
