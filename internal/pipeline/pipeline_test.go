package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fluxbase-eu/fluxpack/internal/artifacts"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/extract"
	"github.com/fluxbase-eu/fluxpack/internal/handlers"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// setupProject lays out a small application with one installed dependency
func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{"name":"shop","dependencies":{"greet":"^1.0.0"},"devDependencies":{"typescript":"^5.0.0"}}`)
	writeFile(t, filepath.Join(dir, "node_modules", "greet", "package.json"), `{"name":"greet","version":"1.0.0","main":"index.js"}`)
	writeFile(t, filepath.Join(dir, "node_modules", "greet", "index.js"), `exports.hello = (s) => "hi " + s;`)
	writeFile(t, filepath.Join(dir, "src", "util.ts"), `export const fmt = (x: unknown): string => String(x);`)
	writeFile(t, filepath.Join(dir, "src", "orders.ts"), `
import { hello } from "greet";
import { fmt } from "./util";

export const create = defineHttp({
	method: "POST",
	path: "/orders",
	onRequest: async (req: unknown) => hello(fmt(req)),
});

export const ordersTable = defineTable({ table: "orders", partitionKey: "id" });
`)
	writeFile(t, filepath.Join(dir, "src", "site.ts"), `
export default defineSite({
	domain: "shop.example.com",
	static: ["public/**/*"],
	middleware: () => undefined as unknown,
});
`)
	writeFile(t, filepath.Join(dir, "src", "types.d.ts"), `declare function defineHttp(o: object): unknown;`)
	writeFile(t, filepath.Join(dir, "public", "index.html"), "<h1>shop</h1>")
	return dir
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		ProjectDir:  dir,
		Handlers:    []string{"src/**/*.ts"},
		OutDir:      ".fluxpack",
		Concurrency: 2,
		Bundle:      config.BundleConfig{Options: bundler.Options{Target: "es2022"}},
		Layer:       config.LayerConfig{Enabled: true},
	}
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func zipFile(t *testing.T, path, name string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			require.NoError(t, err)
			defer rc.Close()
			content, err := io.ReadAll(rc)
			require.NoError(t, err)
			return string(content)
		}
	}
	t.Fatalf("%s has no entry %s", path, name)
	return ""
}

func TestTargetName(t *testing.T) {
	tests := []struct {
		path, export, want string
	}{
		{"src/orders.ts", "create", "orders-create"},
		{"src/site.tsx", "default", "site"},
		{`src\jobs\nightly.js`, "run", "nightly-run"},
		{"api.v2.ts", "get", "api.v2-get"},
		{`C:\app\src/mixed\queue.ts`, "default", "queue"},
		{"handler.ts", "default", "handler"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TargetName(tt.path, tt.export))
	}
}

func TestDiscover(t *testing.T) {
	dir := setupProject(t)
	writeFile(t, filepath.Join(dir, "src", "broken.ts"), `
export const ok = defineQueue({ batchSize: 5, onMessage: async () => {} });
export const bad = defineHttp({ path: process.env.PATH, onRequest() {} });
`)
	writeFile(t, filepath.Join(dir, "src", "node_modules", "x.ts"), `export const h = defineHttp({ onRequest() {} })`)

	targets, problems, err := Discover(dir, []string{"src/**/*.ts", "src/orders.ts"})
	require.NoError(t, err)

	var names []string
	for _, tg := range targets {
		names = append(names, tg.Name)
	}
	assert.Equal(t, []string{"broken-ok", "orders-create", "orders-ordersTable", "site"}, names)

	require.Len(t, problems, 1)
	assert.Equal(t, "src/broken.ts", problems[0].Path)
	var descErr *extract.DescriptorError
	assert.True(t, errors.As(problems[0], &descErr))

	byName := map[string]Target{}
	for _, tg := range targets {
		byName[tg.Name] = tg
	}
	assert.Equal(t, "src/orders.ts", byName["orders-create"].Descriptor.SourcePath)
	assert.True(t, byName["orders-create"].Deployable())
	assert.False(t, byName["orders-ordersTable"].Deployable())
	assert.Equal(t, []string{"public/**/*"}, byName["site"].Descriptor.StaticGlobs)
}

func TestDiscover_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "orders.ts"), `export const create = defineHttp({ onRequest() {} })`)
	writeFile(t, filepath.Join(dir, "b", "orders.ts"), `export const create = defineHttp({ onRequest() {} })`)

	_, _, err := Discover(dir, []string{"**/*.ts"})
	assert.ErrorIs(t, err, ErrDuplicateTarget)
}

func TestDiscover_InvalidSchedule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "jobs.ts"), `
export const nightly = defineSchedule({ schedule: "0 3 * * *", onTick() {} });
export const broken = defineSchedule({ schedule: "every night", onTick() {} });
export const hourly = defineSchedule({ cron: "@every 1h", onTick() {} });
`)

	targets, problems, err := Discover(dir, []string{"src/*.ts"})
	require.NoError(t, err)
	assert.Len(t, targets, 3)
	require.Len(t, problems, 1)
	assert.ErrorIs(t, problems[0], ErrInvalidSchedule)
	assert.Contains(t, problems[0].Error(), "export broken")
}

func TestCheckSchedule(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 30 9 * * MON-FRI", "@daily", "@every 90s", "rate(5 minutes)", "cron(0 12 * * ? *)"} {
		assert.NoError(t, CheckSchedule(expr), expr)
	}
	for _, expr := range []string{"", "61 * * * *", "tomorrow", "* * *"} {
		assert.ErrorIs(t, CheckSchedule(expr), ErrInvalidSchedule, expr)
	}
}

func TestDiscover_InvalidPattern(t *testing.T) {
	_, _, err := Discover(t.TempDir(), []string{"src/[a"})
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	targets := []Target{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	got, err := Select(targets, nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = Select(targets, []string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []Target{{Name: "c"}, {Name: "a"}}, got)

	_, err = Select(targets, []string{"missing"})
	assert.Error(t, err)
}

func TestBuilder_Build(t *testing.T) {
	dir := setupProject(t)
	b := NewBuilder(testConfig(dir))
	b.Metrics = observability.NewBuildMetrics()

	res, err := b.Build(context.Background())
	require.NoError(t, err)

	out := filepath.Join(dir, ".fluxpack")
	require.Len(t, res.Functions, 2)
	assert.Equal(t, "orders-create", res.Functions[0].Name)
	assert.Equal(t, "site", res.Functions[1].Name)
	assert.Equal(t, "functions/orders-create.zip", res.Functions[0].Path)
	assert.Equal(t, []string{handlers.RuntimePackage + "/http", "greet"}, res.Functions[0].Externals)

	require.Len(t, res.Resources, 1)
	assert.Equal(t, handlers.KindTable, res.Resources[0].Kind)

	assert.Equal(t, []string{bundler.OutputName}, zipNames(t, filepath.Join(out, "functions", "orders-create.zip")))
	assert.Equal(t, []string{bundler.OutputName, "public/index.html"}, zipNames(t, filepath.Join(out, "functions", "site.zip")))
	code := zipFile(t, filepath.Join(out, "functions", "orders-create.zip"), bundler.OutputName)
	assert.Contains(t, code, "String(x)")
	assert.Contains(t, code, `from "greet"`)

	require.NotNil(t, res.Layer)
	assert.Len(t, res.Fingerprint, 64)
	assert.False(t, res.LayerReused)
	assert.Equal(t, []string{"greet"}, res.Layer.Packages)
	assert.Equal(t, []string{
		"nodejs/node_modules/greet/index.js",
		"nodejs/node_modules/greet/package.json",
	}, zipNames(t, filepath.Join(out, LayerFile)))

	m, err := ReadManifest(out)
	require.NoError(t, err)
	assert.Equal(t, ManifestVersion, m.Version)
	assert.Equal(t, res.BuildID, m.BuildID)
	assert.Equal(t, res.Fingerprint, m.Fingerprint)
	assert.Equal(t, res.Functions[0].SHA256, m.Functions[0].SHA256)
	assert.Equal(t, "POST", m.Functions[0].Descriptor.Config["method"])
	assert.Empty(t, m.TraceID)
}

func spanAttr(t *testing.T, spans []sdktrace.ReadOnlySpan, name string, key attribute.Key) attribute.Value {
	t.Helper()
	for _, s := range spans {
		if s.Name() != name {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv.Key == key {
				return kv.Value
			}
		}
		t.Fatalf("span %s has no attribute %s", name, key)
	}
	t.Fatalf("no span named %s", name)
	return attribute.Value{}
}

func TestBuilder_Tracing(t *testing.T) {
	dir := setupProject(t)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	b := NewBuilder(testConfig(dir))
	b.Tracer = observability.NewTracerWithProvider(provider)
	res, err := b.Build(context.Background())
	require.NoError(t, err)

	spans := recorder.Ended()
	var root sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.Name() == observability.SpanBuild {
			root = s
		}
	}
	require.NotNil(t, root)
	assert.Equal(t, root.SpanContext().TraceID().String(), res.TraceID)

	m, err := ReadManifest(filepath.Join(dir, ".fluxpack"))
	require.NoError(t, err)
	assert.Equal(t, res.TraceID, m.TraceID)

	assert.Equal(t, res.BuildID, spanAttr(t, spans, observability.SpanBuild, "build_id").AsString())
	assert.Equal(t, int64(3), spanAttr(t, spans, observability.SpanBuild, "targets").AsInt64())
	assert.Equal(t, int64(1), spanAttr(t, spans, observability.SpanDepsClosure, "packages").AsInt64())
	assert.False(t, spanAttr(t, spans, observability.SpanArchiveLayer, "reused").AsBool())
}

func TestBuilder_Reproducible(t *testing.T) {
	dir := setupProject(t)

	first, err := NewBuilder(testConfig(dir)).Build(context.Background())
	require.NoError(t, err)
	second, err := NewBuilder(testConfig(dir)).Build(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.BuildID, second.BuildID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Layer.SHA256, second.Layer.SHA256)
	for i := range first.Functions {
		assert.Equal(t, first.Functions[i].SHA256, second.Functions[i].SHA256, first.Functions[i].Name)
	}
}

func TestBuilder_LayerCache(t *testing.T) {
	dir := setupProject(t)
	store, err := artifacts.NewLocalStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	cache := artifacts.NewLayerCache(store, "layers/")

	b := NewBuilder(testConfig(dir))
	b.Cache = cache
	first, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, first.LayerReused)

	cached, err := cache.Cached(context.Background(), first.Fingerprint)
	require.NoError(t, err)
	assert.True(t, cached)

	b = NewBuilder(testConfig(dir))
	b.Cache = cache
	second, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, second.LayerReused)
	assert.Equal(t, first.Layer.SHA256, second.Layer.SHA256)

	// a new installed version is a new fingerprint
	writeFile(t, filepath.Join(dir, "node_modules", "greet", "package.json"), `{"name":"greet","version":"1.1.0","main":"index.js"}`)
	b = NewBuilder(testConfig(dir))
	b.Cache = cache
	third, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, third.LayerReused)
	assert.NotEqual(t, first.Fingerprint, third.Fingerprint)
}

func TestBuilder_LayerDisabledBundlesDependencies(t *testing.T) {
	dir := setupProject(t)
	cfg := testConfig(dir)
	cfg.Layer.Enabled = false

	res, err := NewBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Layer)
	assert.Equal(t, []string{handlers.RuntimePackage + "/http"}, res.Functions[0].Externals)

	_, err = os.Stat(filepath.Join(dir, ".fluxpack", LayerFile))
	assert.True(t, os.IsNotExist(err))
	code := zipFile(t, filepath.Join(dir, ".fluxpack", "functions", "orders-create.zip"), bundler.OutputName)
	assert.Contains(t, code, `"hi "`)
}

func TestBuilder_Only(t *testing.T) {
	dir := setupProject(t)
	cfg := testConfig(dir)

	b := NewBuilder(cfg)
	b.Only = []string{"site"}
	res, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Functions, 1)
	assert.Equal(t, "site", res.Functions[0].Name)

	b = NewBuilder(cfg)
	b.Only = []string{"nope"}
	_, err = b.Build(context.Background())
	assert.Error(t, err)
}

func TestBuilder_RemovesStalePackages(t *testing.T) {
	dir := setupProject(t)
	stale := filepath.Join(dir, ".fluxpack", "functions", "old-handler.zip")
	writeFile(t, stale, "stale")

	_, err := NewBuilder(testConfig(dir)).Build(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestBuilder_NoManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "ping.ts"), `export const ping = defineHttp({ onRequest: () => "pong" })`)

	res, err := NewBuilder(testConfig(dir)).Build(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Functions, 1)
	assert.Nil(t, res.Layer)
	assert.Empty(t, res.Resources)
}

func TestBuilder_BundleFailure(t *testing.T) {
	dir := setupProject(t)
	writeFile(t, filepath.Join(dir, "src", "orders.ts"), `
import { missing } from "./nowhere";
export const create = defineHttp({ onRequest: () => missing });
`)

	_, err := NewBuilder(testConfig(dir)).Build(context.Background())
	require.Error(t, err)
	var bundleErr *bundler.Error
	assert.True(t, errors.As(err, &bundleErr))
	assert.Contains(t, err.Error(), "orders-create")
}

func TestBuilder_MetricsTextfile(t *testing.T) {
	dir := setupProject(t)
	cfg := testConfig(dir)
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "fluxpack.prom")

	b := NewBuilder(cfg)
	b.Metrics = observability.NewBuildMetrics()
	_, err := b.Build(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fluxpack_targets_total{kind="http",status="success"} 1`)
	assert.Contains(t, string(data), `fluxpack_archive_size_bytes{artifact="layer"}`)
}

func TestResultOrderIndependentOfConcurrency(t *testing.T) {
	dir := setupProject(t)
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(dir, "src", "jobs", "job"+string(rune('a'+i))+".ts"),
			`export const run = defineSchedule({ rate: "5 minutes", onTick: async () => {} })`)
	}
	cfg := testConfig(dir)
	cfg.Concurrency = 8

	res, err := NewBuilder(cfg).Build(context.Background())
	require.NoError(t, err)

	var names []string
	for _, f := range res.Functions {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"joba-run", "jobb-run", "jobc-run", "jobd-run", "jobe-run", "orders-create", "site",
	}, names)
}
