package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/cli/util"
	"github.com/fluxbase-eu/fluxpack/internal/artifacts"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/pipeline"
)

var (
	buildHandlers   []string
	buildAnalyze    bool
	buildAnalyzeAll bool
	buildMinify     bool
	buildSourcemap  bool
	buildNoLayer    bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build function packages and the dependency layer",
	Long: `Build one deterministic zip per handler and a shared layer holding the production
dependencies. The layer is reused from the cache when the dependency fingerprint is unchanged.

Output is written to out_dir (default .fluxpack):
  functions/<name>.zip   bundled handler code plus its static assets
  layer.zip              nodejs/node_modules/... for every installed production dependency
  manifest.json          descriptors, sizes and checksums

Examples:
  fluxpack build
  fluxpack build --handler orders-create --analyze
  fluxpack build --minify -o json`,
	Args:    cobra.NoArgs,
	PreRunE: requireConfig,
	RunE:    runBuild,
}

func init() {
	buildCmd.Flags().StringSliceVar(&buildHandlers, "handler", nil, "only build the named functions (repeatable)")
	buildCmd.Flags().BoolVar(&buildAnalyze, "analyze", false, "print a size breakdown of every bundle")
	buildCmd.Flags().BoolVar(&buildAnalyzeAll, "analyze-all", false, "like --analyze, listing every input file")
	buildCmd.Flags().BoolVar(&buildMinify, "minify", false, "minify bundled code (overrides bundle.minify)")
	buildCmd.Flags().BoolVar(&buildSourcemap, "sourcemap", false, "inline source maps (overrides bundle.sourcemap)")
	buildCmd.Flags().BoolVar(&buildNoLayer, "no-layer", false, "bundle dependencies into every function instead of a layer")
}

func runBuild(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("minify") {
		cfg.Bundle.Minify = buildMinify
	}
	if cmd.Flags().Changed("sourcemap") {
		cfg.Bundle.Sourcemap = buildSourcemap
	}
	if buildNoLayer {
		cfg.Layer.Enabled = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	builder := pipeline.NewBuilder(cfg)
	builder.Tracer = tracer
	builder.Only = buildHandlers
	if cfg.Metrics.Textfile != "" {
		builder.Metrics = observability.NewBuildMetrics()
	}

	store, err := artifacts.New(&cfg.Cache)
	if err != nil {
		formatter.PrintWarning("layer cache unavailable, building without it: " + err.Error())
	}
	if store != nil {
		builder.Cache = artifacts.NewLayerCache(store, cfg.Cache.Prefix)
	}

	started := time.Now()
	res, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	for _, p := range res.Problems {
		formatter.PrintWarning(p.Error())
	}
	if tracer.IsEnabled() && res.TraceID != "" {
		log.Info().Str("trace_id", res.TraceID).Msg("Build traced")
	}

	if formatter.Structured() {
		return formatter.Print(res)
	}

	if buildAnalyze || buildAnalyzeAll {
		printAnalysis(res)
	}
	printBuildResult(res, time.Since(started))
	return nil
}

func printAnalysis(res *pipeline.Result) {
	var all []bundler.NamedAnalysis
	for _, f := range res.Functions {
		if f.Analysis == nil {
			continue
		}
		a := bundler.NamedAnalysis{Name: f.Name, Externals: f.Externals, Analysis: f.Analysis}
		bundler.WriteAnalysis(formatter.Writer, a, buildAnalyzeAll)
		all = append(all, a)
	}
	bundler.WriteSummary(formatter.Writer, all)
}

func printBuildResult(res *pipeline.Result, elapsed time.Duration) {
	data := output.TableData{Headers: []string{"FUNCTION", "KIND", "CODE", "PACKAGE", "SHA256"}}
	for _, f := range res.Functions {
		data.Rows = append(data.Rows, []string{
			f.Name,
			string(f.Descriptor.Kind),
			bundler.FormatBytes(f.CodeSize),
			bundler.FormatBytes(f.Size),
			util.ShortHash(f.SHA256),
		})
	}
	if len(data.Rows) > 0 {
		formatter.PrintTable(data)
	}

	if res.Layer != nil {
		state := "built"
		if res.LayerReused {
			state = "reused from cache"
		}
		formatter.PrintSuccess(fmt.Sprintf("\nLayer: %d packages, %s (%s, fingerprint %s)",
			len(res.Layer.Packages), bundler.FormatBytes(res.Layer.Size), state, util.ShortHash(res.Fingerprint)))
	}
	formatter.PrintSuccess(fmt.Sprintf("Built %d functions in %s", len(res.Functions), elapsed.Round(time.Millisecond)))
}
