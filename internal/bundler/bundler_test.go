package bundler

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entry = `import { orders as __fluxpack_user } from "./src/orders.js";
import { wrapHttp as __fluxpack_adapter } from "@fluxpack/runtime/http";
export const handler = __fluxpack_adapter(__fluxpack_user);
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func ordersProject(t *testing.T) string {
	return writeProject(t, map[string]string{
		"src/orders.js": `
import { S3Client } from "@aws-sdk/client-s3";
import get from "lodash/get";
import { format } from "./util.js";
export const orders = { onRequest: (req) => format(get(req, "id"), new S3Client({})) };
`,
		"src/util.js": `export function format(id, client) { return "order:" + id + String(!!client); }`,
	})
}

func TestBundle(t *testing.T) {
	dir := ordersProject(t)

	art, err := Bundle(entry, dir, []string{"lodash", "@fluxpack/runtime"}, Options{})
	require.NoError(t, err)

	assert.Contains(t, art.Code, `"order:"`, "local modules are inlined")
	assert.Contains(t, art.Code, "createRequire")
	assert.Contains(t, art.Code, "export {")
	assert.Equal(t, []string{"@aws-sdk/client-s3", "@fluxpack/runtime/http", "lodash/get"}, art.Externals)

	require.NotNil(t, art.Analysis)
	assert.Equal(t, []string{"handler"}, art.Analysis.Exports)
	assert.Positive(t, art.Analysis.TotalBytes)

	var paths []string
	for _, in := range art.Analysis.Inputs {
		paths = append(paths, in.Path)
	}
	assert.ElementsMatch(t, []string{EntryInput, "src/orders.js", "src/util.js"}, paths)
}

func TestBundle_Deterministic(t *testing.T) {
	dir := ordersProject(t)
	externals := []string{"lodash", "@fluxpack/runtime"}

	first, err := Bundle(entry, dir, externals, Options{Minify: true})
	require.NoError(t, err)
	second, err := Bundle(entry, dir, externals, Options{Minify: true})
	require.NoError(t, err)
	assert.Equal(t, first.Code, second.Code)
}

func TestBundle_Failure(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"src/orders.js": `import { missing } from "./missing.js"; export const orders = missing;`,
	})

	art, err := Bundle(entry, dir, []string{"@fluxpack/runtime"}, Options{})
	require.Error(t, err)
	assert.Nil(t, art)

	var bundleErr *Error
	require.True(t, errors.As(err, &bundleErr))
	assert.Contains(t, bundleErr.Diagnostics, "./missing.js")
}

func TestBundle_UnresolvedPackageIsAnError(t *testing.T) {
	dir := ordersProject(t)

	// lodash is neither installed nor external
	_, err := Bundle(entry, dir, []string{"@fluxpack/runtime"}, Options{})
	var bundleErr *Error
	require.True(t, errors.As(err, &bundleErr))
	assert.Contains(t, bundleErr.Diagnostics, "lodash/get")
}

func TestBundle_Sourcemap(t *testing.T) {
	dir := ordersProject(t)
	art, err := Bundle(entry, dir, []string{"lodash", "@fluxpack/runtime"}, Options{Sourcemap: true})
	require.NoError(t, err)
	assert.Contains(t, art.Code, "sourceMappingURL=data:application/json")
}

func TestBundle_InvalidTarget(t *testing.T) {
	_, err := Bundle(entry, t.TempDir(), nil, Options{Target: "es3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "es3")
}

func TestExternals(t *testing.T) {
	got := Externals([]string{"lodash", "@scope/pkg", "lodash", ""})
	assert.Equal(t, []string{"@aws-sdk/*", "@scope/pkg", "@scope/pkg/*", "lodash", "lodash/*"}, got)
	assert.Equal(t, []string{SDKExternal}, Externals(nil))
}

func TestParseTarget(t *testing.T) {
	for _, name := range []string{"", "es2020", "ES2022", " esnext "} {
		_, err := ParseTarget(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseTarget("node18")
	assert.Error(t, err)
}

func TestBundler_SharesInFlightBuilds(t *testing.T) {
	dir := ordersProject(t)
	b := New()

	var wg sync.WaitGroup
	results := make([]*Artifact, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Bundle(entry, dir, []string{"lodash", "@fluxpack/runtime"}, Options{})
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Code, results[i].Code)
	}
}

func TestRequestKey(t *testing.T) {
	a := requestKey(entry, "/p", []string{"b", "a"}, Options{})
	assert.Equal(t, a, requestKey(entry, "/p", []string{"a", "b"}, Options{}))
	assert.NotEqual(t, a, requestKey(entry, "/p", []string{"a", "b"}, Options{Minify: true}))
	assert.NotEqual(t, a, requestKey(entry+" ", "/p", []string{"a", "b"}, Options{}))
}

func TestWriteAnalysis(t *testing.T) {
	a := NamedAnalysis{
		Name:      "orders-api",
		Externals: []string{"lodash"},
		Analysis: &Analysis{
			TotalBytes: 2048,
			Inputs: []InputFile{
				{Path: "src/orders.js", BytesInOutput: 1536, Percentage: 75},
				{Path: EntryInput, BytesInOutput: 512, Percentage: 25},
			},
		},
	}

	var buf bytes.Buffer
	WriteAnalysis(&buf, a, false)
	out := buf.String()
	assert.Contains(t, out, "Bundle Analysis: orders-api")
	assert.Contains(t, out, "2.00 KB")
	assert.Contains(t, out, "- lodash")
	assert.Contains(t, out, "75.0%")

	buf.Reset()
	WriteSummary(&buf, []NamedAnalysis{a})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Contains(t, lines[len(lines)-1], "TOTAL")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "2.00 MB", FormatBytes(2*1024*1024))
}
