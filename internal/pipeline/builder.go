package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/fluxpack/internal/archive"
	"github.com/fluxbase-eu/fluxpack/internal/artifacts"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/deps"
	"github.com/fluxbase-eu/fluxpack/internal/entrypoint"
	"github.com/fluxbase-eu/fluxpack/internal/extract"
	"github.com/fluxbase-eu/fluxpack/internal/fingerprint"
	"github.com/fluxbase-eu/fluxpack/internal/handlers"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
)

// Output layout under the out directory
const (
	FunctionsDir = "functions"
	LayerFile    = "layer.zip"
	ManifestName = "manifest.json"
)

// Builder runs a full build of one project. Cache, Metrics and Tracer are optional.
type Builder struct {
	Config  *config.Config
	Cache   *artifacts.LayerCache
	Metrics *observability.BuildMetrics
	Tracer  *observability.Tracer

	// Only restricts the build to the named functions
	Only []string

	bundler *bundler.Bundler
}

// NewBuilder creates a builder for cfg
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{Config: cfg, bundler: bundler.New()}
}

// FunctionResult describes one written function package
type FunctionResult struct {
	Name       string             `json:"name"`
	Descriptor extract.Descriptor `json:"descriptor"`
	Path       string             `json:"path"`
	SHA256     string             `json:"sha256"`
	Size       int                `json:"size"`
	CodeSize   int                `json:"code_size"`
	Externals  []string           `json:"externals"`
	Analysis   *bundler.Analysis  `json:"-"`
}

// LayerResult describes the written dependency layer
type LayerResult struct {
	Path     string   `json:"path"`
	SHA256   string   `json:"sha256"`
	Size     int      `json:"size"`
	Packages []string `json:"packages"`
	Skipped  []string `json:"skipped,omitempty"`
}

// Result is the outcome of a build
type Result struct {
	BuildID     string               `json:"build_id"`
	TraceID     string               `json:"trace_id,omitempty"`
	Fingerprint string               `json:"fingerprint"`
	LayerReused bool                 `json:"layer_reused"`
	Functions   []FunctionResult     `json:"functions"`
	Resources   []extract.Descriptor `json:"resources"`
	Layer       *LayerResult         `json:"layer,omitempty"`
	Problems    []*FileError         `json:"-"`
}

// OutDir returns the absolute output directory; a relative out_dir is taken from the project
func (b *Builder) OutDir() (string, error) {
	return filepath.Abs(b.Config.ProjectPath(b.Config.OutDir))
}

// Build discovers handlers, packages every deployable one and the dependency layer, and writes
// the manifest. Function packages and the layer are built concurrently; the result lists
// functions in discovery order.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	started := time.Now()
	ctx, span := b.Tracer.StartSpan(ctx, observability.SpanBuild)
	res, err := b.build(ctx)
	observability.EndSpan(span, err)
	b.Metrics.MarkFinished(time.Now())
	b.Metrics.ObserveStage(observability.StageTotal, time.Since(started))

	if path := b.Config.Metrics.Textfile; path != "" && b.Metrics != nil {
		if werr := b.Metrics.WriteTextfile(path); werr != nil {
			log.Warn().Err(werr).Str("file", path).Msg("Failed to write build metrics")
		}
	}
	return res, err
}

func (b *Builder) build(ctx context.Context) (*Result, error) {
	cfg := b.Config
	if b.bundler == nil {
		b.bundler = bundler.New()
	}
	projectDir, err := filepath.Abs(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	outDir, err := b.OutDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	stage := time.Now()
	all, problems, err := discover(ctx, b.Tracer, projectDir, cfg.Handlers)
	if err != nil {
		return nil, err
	}
	targets, err := Select(all, b.Only)
	if err != nil {
		return nil, err
	}
	b.Metrics.ObserveStage(observability.StageExtract, time.Since(stage))

	res := &Result{BuildID: uuid.NewString(), TraceID: observability.ExtractTraceID(ctx), Problems: problems}
	observability.SetSpanAttributes(ctx,
		attribute.String("build_id", res.BuildID),
		attribute.Int("targets", len(targets)),
		attribute.Int("problems", len(problems)),
	)
	var functions []Target
	for _, t := range targets {
		if t.Deployable() {
			functions = append(functions, t)
		} else {
			res.Resources = append(res.Resources, t.Descriptor)
		}
	}

	closure, err := b.collect(ctx, projectDir)
	if err != nil {
		return nil, err
	}

	externals := []string{handlers.RuntimePackage}
	if cfg.Layer.Enabled {
		externals = append(externals, closure.Packages...)
	}
	externals = append(externals, cfg.Bundle.External...)

	if err := prepareOutDir(outDir, len(b.Only) == 0); err != nil {
		return nil, err
	}

	res.Functions = make([]FunctionResult, len(functions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	if cfg.Layer.Enabled {
		g.Go(func() error {
			return b.buildLayer(gctx, projectDir, outDir, closure, res)
		})
	}
	for i, t := range functions {
		i, t := i, t
		g.Go(func() error {
			fr, err := b.buildFunction(gctx, projectDir, outDir, t, externals)
			b.Metrics.RecordTarget(string(t.Descriptor.Kind), err)
			if err != nil {
				return fmt.Errorf("failed to build %s: %w", t.Name, err)
			}
			res.Functions[i] = *fr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := writeManifest(filepath.Join(outDir, ManifestName), res); err != nil {
		return nil, err
	}

	log.Info().
		Int("functions", len(res.Functions)).
		Int("resources", len(res.Resources)).
		Bool("layer_reused", res.LayerReused).
		Str("out", outDir).
		Msg("Build complete")
	return res, nil
}

// collect resolves the project's production dependency closure. A project without package.json
// has an empty closure.
func (b *Builder) collect(ctx context.Context, projectDir string) (*deps.Closure, error) {
	stage := time.Now()
	ctx, span := b.Tracer.StartSpan(ctx, observability.SpanDepsClosure)

	var roots []string
	m, err := deps.ReadManifest(projectDir)
	switch {
	case errors.Is(err, deps.ErrNoManifest):
		log.Warn().Str("dir", projectDir).Msg("No package.json, building without dependencies")
	case err != nil:
		observability.EndSpan(span, err)
		return nil, err
	default:
		roots = m.ProductionDependencies()
	}

	cl, err := (&deps.Collector{Concurrency: b.Config.Concurrency}).Collect(ctx, projectDir, roots)
	if err == nil {
		observability.SetSpanAttributes(ctx, attribute.Int("packages", len(cl.Packages)), attribute.Int("skipped", len(cl.Skipped)))
		for _, name := range cl.Skipped {
			log.Warn().Str("package", name).Msg("Dependency is not installed, leaving it out of the layer")
		}
	}
	observability.EndSpan(span, err)
	b.Metrics.ObserveStage(observability.StageDeps, time.Since(stage))
	return cl, err
}

func (b *Builder) buildFunction(ctx context.Context, projectDir, outDir string, t Target, externals []string) (*FunctionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := t.Descriptor

	stage := time.Now()
	_, span := b.Tracer.StartSpan(ctx, observability.SpanBundle, attribute.String("function", t.Name))
	entry, err := entrypoint.Generate(d.SourcePath, d.ExportName, d.Kind)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}
	artifact, err := b.bundler.Bundle(entry, projectDir, externals, b.Config.Bundle.Options)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	b.Metrics.ObserveStage(observability.StageBundle, time.Since(stage))
	b.Metrics.RecordBundle(string(d.Kind), len(artifact.Code))

	stage = time.Now()
	_, span = b.Tracer.StartSpan(ctx, observability.SpanArchiveFunction, attribute.String("function", t.Name))
	statics, err := archive.StaticEntries(projectDir, d.StaticGlobs)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}
	data, err := archive.FunctionPackage([]byte(artifact.Code), bundler.OutputName, statics)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}
	path := filepath.Join(outDir, FunctionsDir, t.Name+".zip")
	err = os.WriteFile(path, data, 0o644)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("failed to write function package: %w", err)
	}
	b.Metrics.ObserveStage(observability.StageArchive, time.Since(stage))
	b.Metrics.RecordArchive(t.Name, len(data))

	log.Debug().Str("function", t.Name).Int("size", len(data)).Msg("Function package written")
	return &FunctionResult{
		Name:       t.Name,
		Descriptor: d,
		Path:       relOut(outDir, path),
		SHA256:     sum(data),
		Size:       len(data),
		CodeSize:   len(artifact.Code),
		Externals:  artifact.Externals,
		Analysis:   artifact.Analysis,
	}, nil
}

// buildLayer reuses a cached layer with the closure's fingerprint or packages it afresh
func (b *Builder) buildLayer(ctx context.Context, projectDir, outDir string, cl *deps.Closure, res *Result) error {
	stage := time.Now()
	_, span := b.Tracer.StartSpan(ctx, observability.SpanFingerprint)
	pairs, err := fingerprint.FromClosure(projectDir, cl)
	observability.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("failed to fingerprint dependencies: %w", err)
	}
	fp := fingerprint.Digest(pairs)
	res.Fingerprint = fp
	b.Metrics.ObserveStage(observability.StageFingerprint, time.Since(stage))

	if len(cl.Included) == 0 {
		log.Info().Msg("No installed production dependencies, skipping layer")
		return nil
	}

	stage = time.Now()
	ctx, span = b.Tracer.StartSpan(ctx, observability.SpanArchiveLayer, attribute.String("fingerprint", fp))
	data, reused, err := b.layerData(ctx, fp, cl)
	observability.SetSpanAttributes(ctx, attribute.Bool("reused", reused))
	if err == nil {
		err = os.WriteFile(filepath.Join(outDir, LayerFile), data, 0o644)
	}
	observability.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("failed to build layer: %w", err)
	}
	b.Metrics.ObserveStage(observability.StageLayer, time.Since(stage))
	b.Metrics.RecordArchive("layer", len(data))

	res.LayerReused = reused
	res.Layer = &LayerResult{
		Path:     LayerFile,
		SHA256:   sum(data),
		Size:     len(data),
		Packages: cl.Included,
		Skipped:  cl.Skipped,
	}
	log.Info().Str("fingerprint", fp).Bool("reused", reused).Int("packages", len(cl.Included)).Msg("Layer ready")
	return nil
}

func (b *Builder) layerData(ctx context.Context, fp string, cl *deps.Closure) ([]byte, bool, error) {
	if b.Cache != nil {
		data, hit, err := b.Cache.Lookup(ctx, fp)
		if err != nil {
			observability.RecordError(ctx, err)
			log.Warn().Err(err).Msg("Layer cache lookup failed, rebuilding")
		}
		b.Metrics.RecordLayerCache(hit)
		if hit {
			return data, true, nil
		}
	}

	entries, err := archive.LayerEntries(cl)
	if err != nil {
		return nil, false, err
	}
	data, err := archive.Build(entries)
	if err != nil {
		return nil, false, err
	}
	if b.Cache != nil {
		if err := b.Cache.Store(ctx, fp, data); err != nil {
			observability.RecordError(ctx, err)
			log.Warn().Err(err).Msg("Failed to store layer in cache")
		}
	}
	return data, false, nil
}

// prepareOutDir creates the output tree. A full build also removes function packages left over
// from earlier builds.
func prepareOutDir(outDir string, clean bool) error {
	functions := filepath.Join(outDir, FunctionsDir)
	if clean {
		if err := os.RemoveAll(functions); err != nil {
			return fmt.Errorf("failed to clean output directory: %w", err)
		}
		if err := os.Remove(filepath.Join(outDir, LayerFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to clean output directory: %w", err)
		}
	}
	if err := os.MkdirAll(functions, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

func relOut(outDir, path string) string {
	rel, err := filepath.Rel(outDir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
