// Package cmd provides the Cobra commands for the fluxpack CLI.
package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile    string
	projectDir string
	outputFmt  string
	noHeaders  bool
	quiet      bool
	debug      bool

	// Shared across commands
	cfg       *config.Config
	formatter *output.Formatter
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fluxpack",
	Short: "fluxpack - package serverless handlers for deployment",
	Long: `fluxpack turns declarative handler definitions into deployable function packages.

It reads the configuration of every defineHttp, defineTable, defineQueue, defineSchedule,
defineBucket and defineSite export without running your code, bundles one entry point per
handler, and packages the production dependencies into a shared, cacheable layer.

Get started:
  fluxpack discover      List the handlers declared in the project
  fluxpack build         Build function packages and the dependency layer
  fluxpack --help        Show available commands`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silence errors only when --quiet is used
		cmd.SilenceErrors = quiet
		return initFormatter(cmd)
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./fluxpack.yaml or ./config/fluxpack.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "C", "",
		"project directory (overrides project_dir)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(cacheCmd)
}

func initFormatter(cmd *cobra.Command) error {
	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}
	formatter = output.NewFormatter(format, noHeaders, quiet)
	formatter.Writer = cmd.OutOrStdout()
	formatter.ErrWriter = cmd.ErrOrStderr()
	setLogLevel(debug)
	return nil
}

// requireConfig loads the project configuration for use in PreRunE
func requireConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if projectDir != "" {
		loaded.ProjectDir = projectDir
	}
	loaded.Cache.LocalPath = loaded.ProjectPath(loaded.Cache.LocalPath)
	cfg = loaded
	setLogLevel(debug || cfg.Debug)
	return nil
}

func setLogLevel(verbose bool) {
	switch {
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case quiet:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
