// Package pipeline drives a complete build: it discovers handler declarations across a project,
// builds one function package per handler and the shared dependency layer, and records the
// outcome in a manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/fluxpack/internal/extract"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
)

// ErrDuplicateTarget is returned when two exports map to the same function name
var ErrDuplicateTarget = errors.New("duplicate function name")

// Target is one declared handler export
type Target struct {
	Name       string             `json:"name"`
	Descriptor extract.Descriptor `json:"descriptor"`
}

// Deployable reports whether the target carries handler code and so gets a function package
func (t Target) Deployable() bool {
	return t.Descriptor.HasHandler
}

// FileError is a discovery problem confined to one source file
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// TargetName derives the function name of an export: "<file stem>-<export>", or the bare stem
// for the default export. Both / and \ separate directories.
func TargetName(sourcePath, exportName string) string {
	base := path.Base(strings.ReplaceAll(sourcePath, `\`, "/"))
	stem := strings.TrimSuffix(base, path.Ext(base))
	if exportName == extract.DefaultExport {
		return stem
	}
	return stem + "-" + exportName
}

// Discover extracts the descriptors of every file matching patterns under projectDir. Files are
// visited in sorted order per pattern, patterns in the given order. A file that fails to parse, or
// one of whose exports is malformed, is reported in the returned FileErrors and logged; the rest
// of the project is still discovered. A schedule handler whose cron expression does not parse is
// reported too, but is kept. SourcePath of every descriptor is slash-separated and
// relative to projectDir.
func Discover(projectDir string, patterns []string) ([]Target, []*FileError, error) {
	return discover(context.Background(), nil, projectDir, patterns)
}

func discover(ctx context.Context, tracer *observability.Tracer, projectDir string, patterns []string) ([]Target, []*FileError, error) {
	files, err := sourceFiles(projectDir, patterns)
	if err != nil {
		return nil, nil, err
	}

	var (
		targets  []Target
		problems []*FileError
		byName   = make(map[string]string)
	)
	for _, rel := range files {
		_, span := tracer.StartSpan(ctx, observability.SpanExtractFile, attribute.String("file", rel))
		descs, err := extract.ExtractFile(filepath.Join(projectDir, filepath.FromSlash(rel)))
		observability.EndSpan(span, err)
		if err != nil {
			fe := &FileError{Path: rel, Err: err}
			problems = append(problems, fe)
			log.Warn().Err(err).Str("file", rel).Msg("Skipping malformed handler declarations")
		}

		for _, d := range descs {
			d.SourcePath = rel
			if err := checkSchedules(d); err != nil {
				problems = append(problems, &FileError{Path: rel, Err: err})
				log.Warn().Err(err).Str("file", rel).Msg("Schedule will not parse at deploy time")
			}
			name := TargetName(rel, d.ExportName)
			if prev, ok := byName[name]; ok {
				return nil, nil, fmt.Errorf("%w %q: declared in %s and %s", ErrDuplicateTarget, name, prev, rel)
			}
			byName[name] = rel
			targets = append(targets, Target{Name: name, Descriptor: d})
		}
		if len(descs) > 0 {
			log.Debug().Str("file", rel).Int("handlers", len(descs)).Msg("Discovered handlers")
		}
	}
	return targets, problems, nil
}

// sourceFiles expands patterns relative to projectDir. Declaration files and anything under
// node_modules are never handler sources.
func sourceFiles(projectDir string, patterns []string) ([]string, error) {
	fsys := os.DirFS(projectDir)
	seen := make(map[string]bool)
	var files []string

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid handlers pattern %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to expand handlers pattern %q: %w", pattern, err)
		}
		sort.Strings(matches)

		for _, m := range matches {
			if seen[m] || strings.HasSuffix(m, ".d.ts") || inNodeModules(m) {
				continue
			}
			if info, err := fs.Stat(fsys, m); err != nil || info.IsDir() {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	return files, nil
}

func inNodeModules(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if part == "node_modules" {
			return true
		}
	}
	return false
}

// Select narrows targets to the named ones, in the order given
func Select(targets []Target, names []string) ([]Target, error) {
	if len(names) == 0 {
		return targets, nil
	}
	byName := make(map[string]Target, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
	}
	out := make([]Target, 0, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no handler named %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}
