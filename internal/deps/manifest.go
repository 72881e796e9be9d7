package deps

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ManifestFile is the package manifest file name
const ManifestFile = "package.json"

// ErrNoManifest is returned when a directory has no package manifest
var ErrNoManifest = errors.New("no package.json")

// Manifest is the subset of package.json the grapher reads
type Manifest struct {
	Name                 string              `json:"name"`
	Version              string              `json:"version"`
	Dependencies         map[string]string   `json:"dependencies"`
	DevDependencies      map[string]string   `json:"devDependencies"`
	OptionalDependencies map[string]string   `json:"optionalDependencies"`
	PeerDependencies     map[string]string   `json:"peerDependencies"`
	PeerDependenciesMeta map[string]PeerMeta `json:"peerDependenciesMeta"`
}

// PeerMeta is one entry of peerDependenciesMeta
type PeerMeta struct {
	Optional bool `json:"optional"`
}

// ReadManifest reads dir/package.json
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &m, nil
}

// ProductionDependencies returns the sorted names a project needs at runtime: dependencies and
// optionalDependencies. devDependencies are never included.
func (m *Manifest) ProductionDependencies() []string {
	return sortedKeys(m.Dependencies, m.OptionalDependencies)
}

// RuntimeDependencies is what an installed package pulls in transitively. Required peers are
// included because the package cannot load without them; absent ones end up skipped. Peers
// marked optional in peerDependenciesMeta are left to the project to declare.
func (m *Manifest) RuntimeDependencies() []string {
	if m == nil {
		return nil
	}
	return sortedKeys(m.Dependencies, m.OptionalDependencies, m.requiredPeers())
}

func (m *Manifest) requiredPeers() map[string]string {
	if len(m.PeerDependenciesMeta) == 0 {
		return m.PeerDependencies
	}
	peers := make(map[string]string, len(m.PeerDependencies))
	for name, rng := range m.PeerDependencies {
		if !m.PeerDependenciesMeta[name].Optional {
			peers[name] = rng
		}
	}
	return peers
}

func sortedKeys(maps ...map[string]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}
