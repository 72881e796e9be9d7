package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fluxbase-eu/fluxpack/internal/extract"
)

// ManifestVersion is bumped whenever the manifest layout changes
const ManifestVersion = 1

// Manifest is the manifest.json written next to the packages. It is everything a deployer needs
// to know about the build without opening an archive.
type Manifest struct {
	Version int `json:"version"`
	*Result
}

func writeManifest(path string, res *Result) error {
	if res.Functions == nil {
		res.Functions = []FunctionResult{}
	}
	if res.Resources == nil {
		res.Resources = []extract.Descriptor{}
	}
	data, err := json.MarshalIndent(Manifest{Version: ManifestVersion, Result: res}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of a previous build from outDir
func ReadManifest(outDir string) (*Manifest, error) {
	path := filepath.Join(outDir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m := &Manifest{Result: &Result{}}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}
