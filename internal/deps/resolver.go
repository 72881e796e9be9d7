package deps

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolver locates an installed package by name, starting the search at baseDir
type Resolver interface {
	Resolve(name, baseDir string) (dir string, ok bool)
}

// NodeResolver implements Node's node_modules lookup: every ancestor of baseDir is searched for
// node_modules/<name>/package.json, skipping ancestors that are node_modules directories
// themselves. The returned directory has its symlinks evaluated, so packages stored in a
// content-addressed layout resolve to their real location.
type NodeResolver struct{}

func (NodeResolver) Resolve(name, baseDir string) (string, bool) {
	if !ValidName(name) {
		return "", false
	}
	rel := filepath.FromSlash(name)

	dir := filepath.Clean(baseDir)
	for {
		if filepath.Base(dir) != "node_modules" {
			candidate := filepath.Join(dir, "node_modules", rel)
			if info, err := os.Stat(filepath.Join(candidate, ManifestFile)); err == nil && !info.IsDir() {
				if real, err := filepath.EvalSymlinks(candidate); err == nil {
					return real, true
				}
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ValidName reports whether name is a plain or scoped package name. A scoped name is a single
// identity; its slash never denotes a subpath.
func ValidName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.Contains(name, `\`) {
		return false
	}
	parts := strings.Split(name, "/")
	if strings.HasPrefix(name, "@") {
		return len(parts) == 2 && len(parts[0]) > 1 && parts[1] != "" && !strings.HasPrefix(parts[1], ".")
	}
	return len(parts) == 1
}
