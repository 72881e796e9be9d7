package fingerprint

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Lockfile formats
const (
	FormatPnpm = "pnpm"
	FormatNpm  = "npm"
	FormatYarn = "yarn"
)

// lockfiles in lookup order; the first present wins
var lockfiles = []struct {
	name   string
	format string
	parse  func([]byte) (map[string][]string, error)
}{
	{"pnpm-lock.yaml", FormatPnpm, parsePnpm},
	{"npm-shrinkwrap.json", FormatNpm, parseNpm},
	{"package-lock.json", FormatNpm, parseNpm},
	{"yarn.lock", FormatYarn, parseYarn},
}

// Lockfile holds every version recorded per package name
type Lockfile struct {
	Path     string
	Format   string
	Versions map[string][]string // sorted, unique
}

// ReadLockfile finds and parses the project's lockfile. It returns nil without an error when the
// project has none.
func ReadLockfile(projectDir string) (*Lockfile, error) {
	for _, lf := range lockfiles {
		path := filepath.Join(projectDir, lf.name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		raw, err := lf.parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		versions := make(map[string][]string, len(raw))
		for name, vs := range raw {
			versions[name] = sortVersions(vs)
		}
		return &Lockfile{Path: path, Format: lf.format, Versions: versions}, nil
	}
	return nil, nil
}

// pnpm: packages keys are "/name/1.0.0" (v5), "/name@1.0.0(peer@2)" (v6) or "name@1.0.0" (v9)
func parsePnpm(data []byte) (map[string][]string, error) {
	var doc struct {
		Packages  map[string]yaml.Node `yaml:"packages"`
		Snapshots map[string]yaml.Node `yaml:"snapshots"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	out := make(map[string][]string)
	for _, keys := range []map[string]yaml.Node{doc.Packages, doc.Snapshots} {
		for key := range keys {
			if name, version, ok := splitPnpmKey(key); ok {
				out[name] = append(out[name], version)
			}
		}
	}
	return out, nil
}

func splitPnpmKey(key string) (name, version string, ok bool) {
	k := strings.TrimPrefix(key, "/")
	if i := strings.IndexByte(k, '('); i >= 0 {
		k = k[:i]
	}

	segments := 1
	if strings.HasPrefix(k, "@") {
		segments = 2
	}
	parts := strings.SplitN(k, "/", segments+1)
	if len(parts) > segments {
		// v5: name/version_peers
		name = strings.Join(parts[:segments], "/")
		version = parts[segments]
		if u := strings.IndexByte(version, '_'); u >= 0 {
			version = version[:u]
		}
	} else if at := strings.LastIndex(k, "@"); at > 0 {
		name, version = k[:at], k[at+1:]
	}
	if name == "" || version == "" {
		return "", "", false
	}
	return name, version, true
}

type npmEntry struct {
	Version      string              `json:"version"`
	Link         bool                `json:"link"`
	Dependencies map[string]npmEntry `json:"dependencies"`
}

// npm: v2 and v3 list "node_modules/<path>" under packages, v1 nests dependencies
func parseNpm(data []byte) (map[string][]string, error) {
	var doc struct {
		Packages     map[string]npmEntry `json:"packages"`
		Dependencies map[string]npmEntry `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	out := make(map[string][]string)
	if len(doc.Packages) > 0 {
		const marker = "node_modules/"
		for path, entry := range doc.Packages {
			i := strings.LastIndex(path, marker)
			if i < 0 || entry.Link || entry.Version == "" {
				continue
			}
			name := path[i+len(marker):]
			out[name] = append(out[name], entry.Version)
		}
		return out, nil
	}

	var walk func(map[string]npmEntry)
	walk = func(deps map[string]npmEntry) {
		for name, entry := range deps {
			if entry.Version != "" {
				out[name] = append(out[name], entry.Version)
			}
			walk(entry.Dependencies)
		}
	}
	walk(doc.Dependencies)
	return out, nil
}

// yarn: classic entries read `version "1.0.0"`, berry entries `version: 1.0.0`
func parseYarn(data []byte) (map[string][]string, error) {
	out := make(map[string][]string)
	var current []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if !strings.HasPrefix(line, " ") {
			current = current[:0]
			for _, desc := range strings.Split(strings.TrimSuffix(trimmed, ":"), ",") {
				if name := yarnName(strings.Trim(strings.TrimSpace(desc), `"`)); name != "" {
					current = append(current, name)
				}
			}
			continue
		}

		if len(current) == 0 || !strings.HasPrefix(trimmed, "version") {
			continue
		}
		version := strings.TrimSpace(strings.TrimPrefix(trimmed, "version"))
		version = strings.Trim(strings.TrimSpace(strings.TrimPrefix(version, ":")), `"'`)
		if version == "" {
			continue
		}
		for _, name := range current {
			out[name] = append(out[name], version)
		}
		current = current[:0]
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// yarnName extracts the package name of a descriptor such as @scope/pkg@npm:^1.0.0
func yarnName(desc string) string {
	if len(desc) < 2 {
		return ""
	}
	at := strings.IndexByte(desc[1:], '@')
	if at < 0 {
		return ""
	}
	return desc[:at+1]
}

// sortVersions de-duplicates and orders versions by semver; unparsable ones sort after, lexically
func sortVersions(vs []string) []string {
	seen := make(map[string]bool, len(vs))
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, errA := semver.NewVersion(out[i])
		b, errB := semver.NewVersion(out[j])
		switch {
		case errA == nil && errB == nil && !a.Equal(b):
			return a.LessThan(b)
		case errA == nil && errB != nil:
			return true
		case errA != nil && errB == nil:
			return false
		}
		return out[i] < out[j]
	})
	return out
}
