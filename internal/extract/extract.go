// Package extract recovers the declarative configuration of handler exports from source text.
//
// A handler is an exported call to one of the definer functions registered in internal/handlers,
// taking a single object literal. The object mixes plain configuration with runtime behavior; the
// extractor keeps only the configuration, transcribed by internal/literal, and records a few
// derived facts (dependency keys, parameter references, routes, static globs). Handler code is never
// executed.
package extract

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tdewolff/parse/v2/js"

	"github.com/fluxbase-eu/fluxpack/internal/handlers"
	"github.com/fluxbase-eu/fluxpack/internal/literal"
)

// DefaultExport is the export name of a default export
const DefaultExport = "default"

// Descriptor is the declarative projection of one handler export
type Descriptor struct {
	ExportName    string         `json:"export_name"`
	Kind          handlers.Kind  `json:"kind"`
	Config        map[string]any `json:"config"`
	HasHandler    bool           `json:"has_handler"`
	DepsKeys      []string       `json:"deps_keys"`
	ParamEntries  []ParamEntry   `json:"param_entries"`
	StaticGlobs   []string       `json:"static_globs"`
	RoutePatterns []string       `json:"route_patterns"`
	SourcePath    string         `json:"source_path,omitempty"`
}

// ParamEntry is one remote parameter reference, e.g. `dbUrl: param("db-url")`
type ParamEntry struct {
	PropName  string `json:"prop_name"`
	RemoteKey string `json:"remote_key"`
	Source    string `json:"source"` // params or secrets
}

// DescriptorError reports a handler export whose configuration could not be extracted
type DescriptorError struct {
	Export   string
	Property string
	Err      error
}

func (e *DescriptorError) Error() string {
	if e.Property == "" {
		return fmt.Sprintf("export %q: %v", e.Export, e.Err)
	}
	return fmt.Sprintf("export %q: property %q: %v", e.Export, e.Property, e.Err)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}

// Extract returns a descriptor for every export of source defined with the definer of kind.
//
// Descriptors that fail extraction are left out and reported through the returned error, which
// joins one *DescriptorError per failed export. A source without matching exports yields no
// descriptors and a nil error.
func Extract(source string, kind handlers.Kind) ([]Descriptor, error) {
	spec, err := handlers.Lookup(kind)
	if err != nil {
		return nil, err
	}
	ast, err := Parse(source, LoaderTS)
	if err != nil {
		return nil, err
	}
	return fromAST(ast, func(definer string) (handlers.Spec, bool) {
		return spec, definer == spec.Definer
	})
}

// ExtractAll is Extract over every registered kind at once
func ExtractAll(source string, loader Loader) ([]Descriptor, error) {
	ast, err := Parse(source, loader)
	if err != nil {
		return nil, err
	}
	return fromAST(ast, handlers.ByDefiner)
}

// ExtractFile reads path and extracts descriptors of every kind, choosing the loader from the
// file extension. Parse failures are returned as the only error.
func ExtractFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	ast, err := parseNamed(string(data), LoaderFor(path), path)
	if err != nil {
		return nil, err
	}

	descs, err := fromAST(ast, handlers.ByDefiner)
	for i := range descs {
		descs[i].SourcePath = path
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", path, err)
	}
	return descs, err
}

type matchFunc func(definer string) (handlers.Spec, bool)

// fromAST walks the top-level statements in source order
func fromAST(ast *js.AST, match matchFunc) ([]Descriptor, error) {
	locals := make(map[string]js.IExpr)
	for _, stmt := range ast.BlockStmt.List {
		if decl, ok := stmt.(*js.VarDecl); ok {
			collectLocals(decl, locals)
		}
	}

	var (
		descs []Descriptor
		errs  []error
	)
	add := func(exportName string, init js.IExpr) {
		obj, spec, ok := definerCall(init, match)
		if !ok {
			return
		}
		desc, err := describe(exportName, obj, spec)
		if err != nil {
			errs = append(errs, err)
			return
		}
		descs = append(descs, *desc)
	}

	for _, stmt := range ast.BlockStmt.List {
		exp, ok := stmt.(*js.ExportStmt)
		if !ok || exp.Module != nil {
			continue
		}

		switch {
		case exp.Default:
			init := exp.Decl
			if v, ok := init.(*js.Var); ok {
				init = locals[string(v.Data)]
			}
			add(DefaultExport, init)

		case exp.Decl != nil:
			if decl, ok := exp.Decl.(*js.VarDecl); ok {
				for _, el := range decl.List {
					if v, ok := el.Binding.(*js.Var); ok {
						add(string(v.Data), el.Default)
					}
				}
			}

		default:
			for _, alias := range exp.List {
				local, exported := aliasNames(alias)
				if init, ok := locals[local]; ok {
					add(exported, init)
				}
			}
		}
	}

	if descs == nil {
		descs = []Descriptor{}
	}
	return descs, errors.Join(errs...)
}

func collectLocals(decl *js.VarDecl, locals map[string]js.IExpr) {
	for _, el := range decl.List {
		if v, ok := el.Binding.(*js.Var); ok && el.Default != nil {
			locals[string(v.Data)] = el.Default
		}
	}
}

// aliasNames returns the local and exported names of an export specifier. Without `as` the
// parser leaves Name empty and both names are the binding.
func aliasNames(alias js.Alias) (local, exported string) {
	exported = specifierName(alias.Binding)
	if len(alias.Name) == 0 {
		return exported, exported
	}
	return specifierName(alias.Name), exported
}

// specifierName handles the string-name form `export { x as "some name" }`
func specifierName(b []byte) string {
	if len(b) > 0 && (b[0] == '"' || b[0] == '\'') {
		if s, err := literal.Unquote(string(b)); err == nil {
			return s
		}
	}
	return string(b)
}

// definerCall matches `<definer>({...})` with exactly one object literal argument
func definerCall(expr js.IExpr, match matchFunc) (*js.ObjectExpr, handlers.Spec, bool) {
	call, ok := unwrap(expr).(*js.CallExpr)
	if !ok {
		return nil, handlers.Spec{}, false
	}
	callee, ok := call.X.(*js.Var)
	if !ok {
		return nil, handlers.Spec{}, false
	}
	spec, ok := match(string(callee.Data))
	if !ok {
		return nil, handlers.Spec{}, false
	}

	if len(call.Args.List) != 1 || call.Args.List[0].Rest {
		log.Debug().Str("definer", spec.Definer).Int("args", len(call.Args.List)).Msg("Skipping definer call without a single argument")
		return nil, handlers.Spec{}, false
	}
	obj, ok := unwrap(call.Args.List[0].Value).(*js.ObjectExpr)
	if !ok {
		log.Debug().Str("definer", spec.Definer).Msg("Skipping definer call whose argument is not an object literal")
		return nil, handlers.Spec{}, false
	}
	return obj, spec, true
}
