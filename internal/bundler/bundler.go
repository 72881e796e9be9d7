// Package bundler compiles a generated entry point and the project's module graph into one
// self-contained ES module with esbuild.
package bundler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// OutputName is the file name of the bundled module inside a function package
	OutputName = "index.mjs"

	// EntryInput is how the in-memory entry point is listed in an Analysis
	EntryInput = "<entry>"

	// SDKExternal is always left unresolved; the platform runtime provides it
	SDKExternal = "@aws-sdk/*"

	DefaultTarget = "es2022"

	stdinPath = "<stdin>"
)

// requireBanner gives bundled CommonJS code a require function inside the ES module
const requireBanner = `import { createRequire as __fluxpack_createRequire } from "node:module";
const require = __fluxpack_createRequire(import.meta.url);`

// Options tunes the generated code. The zero value produces an unminified ES2022 bundle.
type Options struct {
	Minify    bool   `mapstructure:"minify" json:"minify"`
	Sourcemap bool   `mapstructure:"sourcemap" json:"sourcemap"`
	Target    string `mapstructure:"target" json:"target"`
}

// Artifact is a complete bundled module
type Artifact struct {
	Code      string
	Externals []string
	Analysis  *Analysis
}

// Error carries the compiler diagnostics of a failed bundle, formatted as esbuild prints them
type Error struct {
	Diagnostics string
}

func (e *Error) Error() string {
	return "bundle failed: " + e.Diagnostics
}

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"es2023": api.ES2023,
	"es2024": api.ES2024,
	"esnext": api.ESNext,
}

// ParseTarget resolves an ECMAScript target name, empty meaning DefaultTarget
func ParseTarget(name string) (api.Target, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultTarget
	}
	t, ok := targets[name]
	if !ok {
		return 0, fmt.Errorf("unsupported bundle target %q", name)
	}
	return t, nil
}

// Externals returns the esbuild external patterns for the given package names: the SDK namespace
// plus every name and its subpaths.
func Externals(names []string) []string {
	set := map[string]bool{SDKExternal: true}
	for _, name := range names {
		if name == "" {
			continue
		}
		set[name] = true
		set[name+"/*"] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Bundle compiles entryText, resolving imports from projectDir. Packages named in externals are
// left as imports for the shared layer to satisfy at runtime. Either a complete module or an
// error is returned, never partial output.
func Bundle(entryText, projectDir string, externals []string, opts Options) (*Artifact, error) {
	target, err := ParseTarget(opts.Target)
	if err != nil {
		return nil, err
	}
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	build := api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   entryText,
			ResolveDir: absDir,
			Loader:     api.LoaderJS,
		},
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		Platform:          api.PlatformNode,
		Format:            api.FormatESModule,
		Target:            target,
		Charset:           api.CharsetUTF8,
		Outfile:           filepath.Join(absDir, OutputName),
		AbsWorkingDir:     absDir,
		External:          Externals(externals),
		Banner:            map[string]string{"js": requireBanner},
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		LogLevel:          api.LogLevelSilent,
	}
	if opts.Sourcemap {
		build.Sourcemap = api.SourceMapInline
	}

	result := api.Build(build)
	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
		return nil, &Error{Diagnostics: strings.TrimSpace(strings.Join(msgs, ""))}
	}

	var code []byte
	found := false
	for _, f := range result.OutputFiles {
		if filepath.Base(f.Path) == OutputName {
			code = f.Contents
			found = true
			break
		}
	}
	if !found {
		return nil, &Error{Diagnostics: "esbuild produced no " + OutputName}
	}

	analysis, ext, err := analyzeMetafile(result.Metafile, OutputName)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("dir", absDir).
		Int("bytes", len(code)).
		Int("externals", len(ext)).
		Int("warnings", len(result.Warnings)).
		Msg("Bundled entry point")

	return &Artifact{Code: string(code), Externals: ext, Analysis: analysis}, nil
}

// Bundler de-duplicates concurrent identical bundle requests: callers asking for the same entry,
// directory, externals and options while a build is running share its result. The shared
// *Artifact must not be modified.
type Bundler struct {
	group singleflight.Group
}

// New creates a Bundler
func New() *Bundler {
	return &Bundler{}
}

// Bundle is the package-level Bundle behind singleflight
func (b *Bundler) Bundle(entryText, projectDir string, externals []string, opts Options) (*Artifact, error) {
	key := requestKey(entryText, projectDir, externals, opts)
	v, err, shared := b.group.Do(key, func() (interface{}, error) {
		return Bundle(entryText, projectDir, externals, opts)
	})
	if shared {
		log.Debug().Str("dir", projectDir).Msg("Joined in-flight bundle")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

func requestKey(entryText, projectDir string, externals []string, opts Options) string {
	h := sha256.New()
	ext := append([]string(nil), externals...)
	sort.Strings(ext)
	fmt.Fprintf(h, "%q\x00%q\x00%q\x00%t\x00%t\x00%q", entryText, projectDir, ext, opts.Minify, opts.Sourcemap, opts.Target)
	return hex.EncodeToString(h.Sum(nil))
}
