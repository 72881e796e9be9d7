package extract

import (
	"fmt"

	"github.com/tdewolff/parse/v2/js"

	"github.com/fluxbase-eu/fluxpack/internal/handlers"
	"github.com/fluxbase-eu/fluxpack/internal/literal"
)

// describe projects the definer's object literal onto a Descriptor
func describe(exportName string, obj *js.ObjectExpr, spec handlers.Spec) (*Descriptor, error) {
	desc := &Descriptor{
		ExportName:    exportName,
		Kind:          spec.Kind,
		Config:        make(map[string]any),
		DepsKeys:      []string{},
		ParamEntries:  []ParamEntry{},
		StaticGlobs:   []string{},
		RoutePatterns: []string{},
	}
	fail := func(prop string, err error) (*Descriptor, error) {
		return nil, &DescriptorError{Export: exportName, Property: prop, Err: err}
	}

	for _, prop := range obj.List {
		key, err := literal.PropertyKey(prop)
		if err != nil {
			return fail("", err)
		}

		if spec.IsHandlerProp(key) && !literal.IsUndefined(prop.Value) {
			desc.HasHandler = true
		}

		switch key {
		case handlers.PropDeps:
			if desc.DepsKeys, err = keyNames(prop.Value); err != nil {
				return fail(key, err)
			}
		case handlers.PropParams, handlers.PropSecrets:
			entries, err := paramEntries(prop.Value, key)
			if err != nil {
				return fail(key, err)
			}
			desc.ParamEntries = append(desc.ParamEntries, entries...)
		case handlers.PropRoutes:
			if desc.RoutePatterns, err = keyNames(prop.Value); err != nil {
				return fail(key, err)
			}
		case handlers.PropStatic:
			if desc.StaticGlobs, err = stringList(prop.Value); err != nil {
				return fail(key, err)
			}
		}

		if spec.IsRuntimeProp(key) {
			continue
		}
		if prop.Init != nil {
			return fail(key, fmt.Errorf("initializer is not a literal value"))
		}
		value, err := literal.Value(prop.Value)
		if err != nil {
			return fail(key, err)
		}
		desc.Config[key] = value
	}
	return desc, nil
}

// keyNames reads the static keys of an object literal in source order, ignoring values
func keyNames(expr js.IExpr) ([]string, error) {
	obj, ok := unwrap(expr).(*js.ObjectExpr)
	if !ok {
		return nil, fmt.Errorf("%s is not an object literal", literal.Describe(expr))
	}
	keys := make([]string, 0, len(obj.List))
	seen := make(map[string]bool, len(obj.List))
	for _, prop := range obj.List {
		key, err := literal.PropertyKey(prop)
		if err != nil {
			return nil, err
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// paramEntries captures the entries of a params or secrets map whose value is a call with a
// string literal first argument. Other entries are not parameter references and are ignored.
func paramEntries(expr js.IExpr, source string) ([]ParamEntry, error) {
	obj, ok := unwrap(expr).(*js.ObjectExpr)
	if !ok {
		return nil, fmt.Errorf("%s is not an object literal", literal.Describe(expr))
	}
	var entries []ParamEntry
	for _, prop := range obj.List {
		key, err := literal.PropertyKey(prop)
		if err != nil {
			return nil, err
		}
		_, arg, isCall, hasArg := literal.Call(prop.Value)
		if !isCall || !hasArg {
			continue
		}
		entries = append(entries, ParamEntry{PropName: key, RemoteKey: arg, Source: source})
	}
	return entries, nil
}

func stringList(expr js.IExpr) ([]string, error) {
	v, err := literal.Value(expr)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("must be an array of string literals")
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("[%d]: must be a string literal", i)
		}
		out = append(out, s)
	}
	return out, nil
}

func unwrap(expr js.IExpr) js.IExpr {
	for {
		g, ok := expr.(*js.GroupExpr)
		if !ok {
			return expr
		}
		expr = g.X
	}
}
