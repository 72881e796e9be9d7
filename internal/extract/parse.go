package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

// Loader selects the source dialect handed to the TypeScript stripper
type Loader string

const (
	LoaderTS  Loader = "ts"
	LoaderTSX Loader = "tsx"
	LoaderJS  Loader = "js"
	LoaderJSX Loader = "jsx"
)

// LoaderFor picks a loader from a file extension. Unknown extensions are treated as TypeScript.
func LoaderFor(path string) Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx":
		return LoaderTSX
	case ".js", ".mjs", ".cjs":
		return LoaderJS
	case ".jsx":
		return LoaderJSX
	default:
		return LoaderTS
	}
}

func (l Loader) esbuild() api.Loader {
	switch l {
	case LoaderTSX:
		return api.LoaderTSX
	case LoaderJS:
		return api.LoaderJS
	case LoaderJSX:
		return api.LoaderJSX
	default:
		return api.LoaderTS
	}
}

// Parse strips type annotations from source and returns its syntax tree
func Parse(source string, loader Loader) (*js.AST, error) {
	return parseNamed(source, loader, "input."+string(loader))
}

func parseNamed(source string, loader Loader, name string) (*js.AST, error) {
	result := api.Transform(source, api.TransformOptions{
		Loader:     loader.esbuild(),
		Target:     api.ESNext,
		Charset:    api.CharsetUTF8,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
		return nil, errors.New(strings.TrimSpace(strings.Join(msgs, "")))
	}

	ast, err := js.Parse(parse.NewInputBytes(result.Code), js.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return ast, nil
}
