// Package entrypoint generates the synthetic module that wraps a handler export with its runtime
// adapter. The generated text only ever exists as bundler input.
package entrypoint

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/handlers"
)

// HandlerExport is the binding every generated entry point exports
const HandlerExport = "handler"

const (
	userBinding    = "__fluxpack_user"
	adapterBinding = "__fluxpack_adapter"
)

// Generate returns an entry module importing exportName from sourcePath and exporting
// `handler = adapter(userExport)`. sourcePath is emitted as given apart from slash normalization;
// relative paths must be relative to the bundler's resolve directory and start with "./" or "../".
func Generate(sourcePath, exportName string, kind handlers.Kind) (string, error) {
	spec, err := handlers.Lookup(kind)
	if err != nil {
		return "", err
	}
	if sourcePath == "" {
		return "", fmt.Errorf("source path is required")
	}
	if exportName == "" {
		return "", fmt.Errorf("export name is required")
	}

	var b strings.Builder
	if exportName == "default" {
		fmt.Fprintf(&b, "import %s from %s;\n", userBinding, quote(Specifier(sourcePath)))
	} else {
		fmt.Fprintf(&b, "import { %s as %s } from %s;\n", importName(exportName), userBinding, quote(Specifier(sourcePath)))
	}
	fmt.Fprintf(&b, "import { %s as %s } from %s;\n", spec.AdapterExport, adapterBinding, quote(spec.AdapterModule))
	fmt.Fprintf(&b, "export const %s = %s(%s);\n", HandlerExport, adapterBinding, userBinding)
	return b.String(), nil
}

// Specifier converts a file path into an import specifier: forward slashes, and a "./" prefix for
// bare relative paths so they are not mistaken for package names.
func Specifier(path string) string {
	s := filepath.ToSlash(path)
	if filepath.IsAbs(path) || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/") {
		return s
	}
	return "./" + s
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// importName uses the string-name form for exports that are not plain identifiers
func importName(name string) string {
	if isIdentifier(name) {
		return name
	}
	return quote(name)
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		case r > 0x7f && i > 0:
		default:
			return false
		}
	}
	return s != "" && !reserved[s]
}

var reserved = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true, "continue": true,
	"debugger": true, "default": true, "delete": true, "do": true, "else": true, "export": true,
	"extends": true, "finally": true, "for": true, "function": true, "if": true, "import": true,
	"in": true, "instanceof": true, "new": true, "return": true, "super": true, "switch": true,
	"this": true, "throw": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "null": true, "true": true, "false": true,
	"enum": true, "await": true,
}
