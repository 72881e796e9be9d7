package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/pipeline"
)

var discoverCmd = &cobra.Command{
	Use:     "discover",
	Aliases: []string{"ls", "list"},
	Short:   "List the handlers declared in the project",
	Long: `Statically extract every handler declaration matched by the handlers patterns.

Handler source is never executed. Files with malformed declarations are reported as
warnings and the rest of the project is still listed.

Examples:
  fluxpack discover
  fluxpack discover -o json
  fluxpack discover --project ./services/orders`,
	Args:    cobra.NoArgs,
	PreRunE: requireConfig,
	RunE:    runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	targets, problems, err := pipeline.Discover(cfg.ProjectDir, cfg.Handlers)
	if err != nil {
		return err
	}
	for _, p := range problems {
		formatter.PrintWarning(p.Error())
	}

	if formatter.Structured() {
		return formatter.Print(targets)
	}
	if len(targets) == 0 {
		formatter.PrintSuccess("No handlers found")
		return nil
	}

	data := output.TableData{Headers: []string{"NAME", "KIND", "EXPORT", "SOURCE", "HANDLER", "DEPS"}}
	for _, t := range targets {
		d := t.Descriptor
		data.Rows = append(data.Rows, []string{
			t.Name,
			string(d.Kind),
			d.ExportName,
			d.SourcePath,
			fmt.Sprintf("%t", d.HasHandler),
			strings.Join(d.DepsKeys, ","),
		})
	}
	formatter.PrintTable(data)
	return nil
}
