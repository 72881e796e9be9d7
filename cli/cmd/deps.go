package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/deps"
)

var depsAll bool

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Show the production dependency closure",
	Long: `Resolve the transitive closure of the project's production dependencies from node_modules.

Packages that are not installed are listed as skipped; they never fail the command.

Examples:
  fluxpack deps
  fluxpack deps --all
  fluxpack deps why debug`,
	Args:    cobra.NoArgs,
	PreRunE: requireConfig,
	RunE:    runDeps,
}

var depsWhyCmd = &cobra.Command{
	Use:   "why [package]",
	Short: "Explain why a package is in the closure",
	Long: `Print the shortest dependency chain from the project to a package.

Examples:
  fluxpack deps why ms`,
	Args:    cobra.ExactArgs(1),
	PreRunE: requireConfig,
	RunE:    runDepsWhy,
}

func init() {
	depsCmd.Flags().BoolVar(&depsAll, "all", false, "also list where conflicting copies were found")
	depsCmd.AddCommand(depsWhyCmd)
}

func collectClosure(cmd *cobra.Command) (*deps.Closure, error) {
	m, err := deps.ReadManifest(cfg.ProjectDir)
	if errors.Is(err, deps.ErrNoManifest) {
		return nil, fmt.Errorf("%w: run fluxpack from a Node.js project or pass --project", err)
	}
	if err != nil {
		return nil, err
	}
	c := &deps.Collector{Concurrency: cfg.Concurrency}
	return c.Collect(cmd.Context(), cfg.ProjectDir, m.ProductionDependencies())
}

func runDeps(cmd *cobra.Command, args []string) error {
	cl, err := collectClosure(cmd)
	if err != nil {
		return err
	}

	if formatter.Structured() {
		return formatter.Print(cl)
	}

	data := output.TableData{Headers: []string{"PACKAGE", "VERSION", "STATUS", "PATH"}}
	skipped := make(map[string]bool, len(cl.Skipped))
	for _, name := range cl.Skipped {
		skipped[name] = true
	}
	for _, name := range cl.Packages {
		if skipped[name] {
			data.Rows = append(data.Rows, []string{name, "", "skipped", ""})
			continue
		}
		status := "included"
		if len(cl.Conflicts[name]) > 0 {
			status = fmt.Sprintf("included (%d copies)", len(cl.Conflicts[name]))
		}
		data.Rows = append(data.Rows, []string{name, cl.Versions[name], status, relPath(cl.ProjectDir, cl.ResolvedPaths[name])})
	}
	formatter.PrintTable(data)

	if depsAll && len(cl.Conflicts) > 0 {
		formatter.PrintSuccess("\nConflicting copies (first is packaged):")
		for _, name := range cl.Packages {
			dirs := cl.Conflicts[name]
			if len(dirs) == 0 {
				continue
			}
			formatter.PrintSuccess("  " + name)
			chosen := cl.ResolvedPaths[name]
			formatter.PrintSuccess("    " + relPath(cl.ProjectDir, chosen))
			for _, dir := range dirs {
				if dir != chosen {
					formatter.PrintSuccess("    " + relPath(cl.ProjectDir, dir))
				}
			}
		}
	}
	return nil
}

func runDepsWhy(cmd *cobra.Command, args []string) error {
	cl, err := collectClosure(cmd)
	if err != nil {
		return err
	}
	chain := cl.Why(args[0])
	if chain == nil {
		return fmt.Errorf("%s is not a production dependency of this project", args[0])
	}

	if formatter.Structured() {
		return formatter.Print(map[string]interface{}{"package": args[0], "chain": chain})
	}
	formatter.PrintSuccess(strings.Join(append([]string{deps.RootVertex}, chain...), " > "))
	return nil
}

func relPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
