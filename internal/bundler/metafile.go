package bundler

import (
	"encoding/json"
	"fmt"
	"sort"
)

// metafile is the subset of the esbuild metafile JSON the analysis reads
type metafile struct {
	Inputs  map[string]metafileInput  `json:"inputs"`
	Outputs map[string]metafileOutput `json:"outputs"`
}

type metafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []metafileImport `json:"imports"`
	Format  string           `json:"format,omitempty"`
}

type metafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

type metafileOutput struct {
	Bytes   int                     `json:"bytes"`
	Inputs  map[string]inputContrib `json:"inputs"`
	Imports []metafileImport        `json:"imports"`
	Exports []string                `json:"exports"`
}

type inputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// Analysis breaks a bundle down by input file
type Analysis struct {
	TotalBytes int         `json:"total_bytes"`
	Inputs     []InputFile `json:"inputs"`
	Exports    []string    `json:"exports"`
}

// InputFile is one module's contribution to the bundle
type InputFile struct {
	Path          string  `json:"path"`
	Bytes         int     `json:"bytes"`
	BytesInOutput int     `json:"bytes_in_output"`
	Percentage    float64 `json:"percentage"`
	ImportCount   int     `json:"import_count"`
	Format        string  `json:"format,omitempty"`
}

// analyzeMetafile returns the analysis and the sorted, unique externals of the output named outName
func analyzeMetafile(raw string, outName string) (*Analysis, []string, error) {
	var meta metafile
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, nil, fmt.Errorf("failed to parse metafile: %w", err)
	}
	out, ok := meta.Outputs[outName]
	if !ok {
		return nil, nil, fmt.Errorf("metafile has no output %s", outName)
	}

	analysis := &Analysis{TotalBytes: out.Bytes, Exports: append([]string{}, out.Exports...)}
	sort.Strings(analysis.Exports)

	seen := make(map[string]bool)
	externals := []string{}
	for _, imp := range out.Imports {
		if imp.External && !seen[imp.Path] {
			seen[imp.Path] = true
			externals = append(externals, imp.Path)
		}
	}
	sort.Strings(externals)

	for path, contrib := range out.Inputs {
		info := meta.Inputs[path]
		pct := 0.0
		if out.Bytes > 0 {
			pct = float64(contrib.BytesInOutput) / float64(out.Bytes) * 100
		}
		if path == stdinPath {
			path = EntryInput
		}
		analysis.Inputs = append(analysis.Inputs, InputFile{
			Path:          path,
			Bytes:         info.Bytes,
			BytesInOutput: contrib.BytesInOutput,
			Percentage:    pct,
			ImportCount:   len(info.Imports),
			Format:        info.Format,
		})
	}

	// largest first, path breaks ties so the order is stable
	sort.Slice(analysis.Inputs, func(i, j int) bool {
		a, b := analysis.Inputs[i], analysis.Inputs[j]
		if a.BytesInOutput != b.BytesInOutput {
			return a.BytesInOutput > b.BytesInOutput
		}
		return a.Path < b.Path
	})
	return analysis, externals, nil
}
