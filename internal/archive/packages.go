package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/internal/deps"
)

// LayerPrefix is where the Node.js runtime looks for layer packages
const LayerPrefix = "nodejs/node_modules"

// FunctionPackage archives the bundled code under codeName, followed by the static entries in
// their given order
func FunctionPackage(code []byte, codeName string, statics []Entry) ([]byte, error) {
	entries := make([]Entry, 0, len(statics)+1)
	entries = append(entries, Entry{Path: codeName, Data: code, Mode: DefaultMode})
	entries = append(entries, statics...)
	return Build(entries)
}

// StaticEntries reads the files matched by globs, relative to projectDir. Matches are sorted per
// pattern and patterns are applied in order; a file matched twice keeps its first position.
// Directories are skipped, and a pattern matching nothing is not an error.
func StaticEntries(projectDir string, globs []string) ([]Entry, error) {
	fsys := os.DirFS(projectDir)
	seen := make(map[string]bool)
	var entries []Entry

	for _, pattern := range globs {
		pattern = filepath.ToSlash(pattern)
		if !doublestar.ValidatePattern(pattern) || path.IsAbs(pattern) {
			return nil, fmt.Errorf("invalid static glob %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to expand static glob %q: %w", pattern, err)
		}
		sort.Strings(matches)

		for _, m := range matches {
			if seen[m] {
				continue
			}
			full := filepath.Join(projectDir, filepath.FromSlash(m))
			info, err := os.Stat(full)
			if err != nil {
				return nil, &PathError{Path: full, Err: err}
			}
			if info.IsDir() {
				continue
			}
			if err := ValidatePath(m); err != nil {
				return nil, err
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, &PathError{Path: full, Err: err}
			}
			seen[m] = true
			entries = append(entries, Entry{Path: m, Data: data, Mode: fileMode(info)})
		}
	}
	return entries, nil
}

// LayerEntries reads every file of every included package of the closure into
// nodejs/node_modules/<name>/. Packages are visited in name order and files in lexical walk
// order. Nested node_modules directories are left out since their packages have their own
// entries in the closure.
func LayerEntries(cl *deps.Closure) ([]Entry, error) {
	var entries []Entry
	for _, name := range cl.Included {
		dir := cl.ResolvedPaths[name]
		prefix := path.Join(LayerPrefix, name)

		before := len(entries)
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return &PathError{Path: p, Err: err}
			}
			if d.IsDir() {
				if p != dir && d.Name() == "node_modules" {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := os.Stat(p)
			if err != nil {
				return &PathError{Path: p, Err: err}
			}
			if info.IsDir() {
				// symlinked directory
				return nil
			}

			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return &PathError{Path: p, Err: err}
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return &PathError{Path: p, Err: err}
			}
			entries = append(entries, Entry{
				Path: path.Join(prefix, filepath.ToSlash(rel)),
				Data: data,
				Mode: fileMode(info),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
		log.Debug().Str("package", name).Int("files", len(entries)-before).Msg("Collected layer package")
	}
	return entries, nil
}

func fileMode(info fs.FileInfo) fs.FileMode {
	if info.Mode().Perm()&0o111 != 0 {
		return ExecutableMode
	}
	return DefaultMode
}
