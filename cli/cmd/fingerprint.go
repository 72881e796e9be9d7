package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/artifacts"
	"github.com/fluxbase-eu/fluxpack/internal/fingerprint"
)

var fingerprintPairs bool

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the dependency fingerprint of the project",
	Long: `Print the cache key of the dependency layer: a SHA-256 over the sorted (name, version)
pairs of the production closure, with versions taken from the lockfile when it records them.

Examples:
  fluxpack fingerprint
  fluxpack fingerprint --pairs`,
	Args:    cobra.NoArgs,
	PreRunE: requireConfig,
	RunE:    runFingerprint,
}

func init() {
	fingerprintCmd.Flags().BoolVar(&fingerprintPairs, "pairs", false, "list the hashed (name, version) pairs")
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	cl, err := collectClosure(cmd)
	if err != nil {
		return err
	}
	pairs, err := fingerprint.FromClosure(cfg.ProjectDir, cl)
	if err != nil {
		return err
	}
	digest := fingerprint.Digest(pairs)

	cached := false
	store, err := artifacts.New(&cfg.Cache)
	if err != nil {
		return err
	}
	if store != nil {
		cached, err = artifacts.NewLayerCache(store, cfg.Cache.Prefix).Cached(cmd.Context(), digest)
		if err != nil {
			formatter.PrintWarning("layer cache unavailable: " + err.Error())
		}
	}

	if formatter.Structured() {
		result := map[string]interface{}{"fingerprint": digest, "cached": cached}
		if fingerprintPairs {
			result["pairs"] = pairs
		}
		return formatter.Print(result)
	}

	if fingerprintPairs {
		data := output.TableData{Headers: []string{"PACKAGE", "VERSION"}}
		for _, p := range pairs {
			data.Rows = append(data.Rows, []string{p.Name, p.Version})
		}
		formatter.PrintTable(data)
	}
	formatter.PrintSuccess(digest)
	if store != nil && cached {
		formatter.PrintSuccess("layer is cached")
	}
	return nil
}
