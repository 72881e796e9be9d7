// Package handlers holds the fixed table of handler kinds recognized in application source.
//
// Each kind maps a definer call (defineHttp, defineTable, ...) to the property names that carry
// runtime behavior and to the runtime adapter that wraps the user's export in the generated entry point.
package handlers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TableVersion identifies the revision of the kind table. Bump it whenever a definer, marker or
// adapter specifier changes, since generated entry points and descriptors depend on it.
const TableVersion = "1"

// ErrUnknownKind is returned when a kind is not part of the table
var ErrUnknownKind = errors.New("unknown handler kind")

// RuntimePackage provides the adapters; it is installed on the platform, never bundled
const RuntimePackage = "@fluxpack/runtime"

// Kind identifies a handler kind
type Kind string

const (
	KindHTTP     Kind = "http"
	KindTable    Kind = "table"
	KindQueue    Kind = "queue"
	KindSchedule Kind = "schedule"
	KindBucket   Kind = "bucket"
	KindSite     Kind = "site"
)

// Property names with a special meaning to the config extractor
const (
	PropDeps    = "deps"
	PropParams  = "params"
	PropSecrets = "secrets"
	PropRoutes  = "routes"
	PropStatic  = "static"
)

// commonRuntimeProps are never part of a descriptor's config, whatever the kind
var commonRuntimeProps = []string{
	"onRequest",
	"onRecord",
	"onMessage",
	"onBatch",
	"onBatchComplete",
	"onError",
	"onTick",
	"onObjectCreated",
	"onObjectRemoved",
	"middleware",
	"context",
	"setup",
	"schema",
	PropDeps,
	PropParams,
	PropSecrets,
	PropRoutes,
}

// Spec describes one handler kind
type Spec struct {
	Kind    Kind
	Definer string

	// HandlerProps are the marker properties whose presence means the export carries a handler
	HandlerProps []string

	// RuntimeProps are stripped before the config literal is transcribed
	RuntimeProps []string

	// AdapterModule and AdapterExport name the runtime adapter imported by the entry point
	AdapterModule string
	AdapterExport string
}

// IsRuntimeProp reports whether name is stripped from the config of this kind
func (s Spec) IsRuntimeProp(name string) bool {
	for _, p := range s.RuntimeProps {
		if p == name {
			return true
		}
	}
	return false
}

// IsHandlerProp reports whether name is one of this kind's handler markers
func (s Spec) IsHandlerProp(name string) bool {
	for _, p := range s.HandlerProps {
		if p == name {
			return true
		}
	}
	return false
}

func newSpec(kind Kind, definer string, markers []string, adapterExport string) Spec {
	runtime := append([]string(nil), commonRuntimeProps...)
	for _, m := range markers {
		found := false
		for _, r := range runtime {
			if r == m {
				found = true
				break
			}
		}
		if !found {
			runtime = append(runtime, m)
		}
	}
	return Spec{
		Kind:          kind,
		Definer:       definer,
		HandlerProps:  markers,
		RuntimeProps:  runtime,
		AdapterModule: RuntimePackage + "/" + string(kind),
		AdapterExport: adapterExport,
	}
}

var table = map[Kind]Spec{
	KindHTTP:     newSpec(KindHTTP, "defineHttp", []string{"onRequest"}, "wrapHttp"),
	KindTable:    newSpec(KindTable, "defineTable", []string{"onRecord", "onBatch"}, "wrapTableStream"),
	KindQueue:    newSpec(KindQueue, "defineQueue", []string{"onMessage", "onBatch"}, "wrapQueue"),
	KindSchedule: newSpec(KindSchedule, "defineSchedule", []string{"onTick"}, "wrapSchedule"),
	KindBucket:   newSpec(KindBucket, "defineBucket", []string{"onObjectCreated", "onObjectRemoved"}, "wrapBucket"),
	KindSite:     newSpec(KindSite, "defineSite", []string{"middleware"}, "wrapSite"),
}

// Lookup returns the spec registered for kind
func Lookup(kind Kind) (Spec, error) {
	spec, ok := table[kind]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return clone(spec), nil
}

// ByDefiner returns the spec whose definer function is named name
func ByDefiner(name string) (Spec, bool) {
	for _, spec := range table {
		if spec.Definer == name {
			return clone(spec), true
		}
	}
	return Spec{}, false
}

// Kinds returns every registered kind in sorted order
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(table))
	for k := range table {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseKind parses a kind name, case-insensitively
func ParseKind(s string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := table[kind]; !ok {
		valid := make([]string, 0, len(table))
		for _, k := range Kinds() {
			valid = append(valid, string(k))
		}
		return "", fmt.Errorf("%w: %q (valid: %s)", ErrUnknownKind, s, strings.Join(valid, ", "))
	}
	return kind, nil
}

// clone copies the slices so callers cannot mutate the shared table
func clone(s Spec) Spec {
	s.HandlerProps = append([]string(nil), s.HandlerProps...)
	s.RuntimeProps = append([]string(nil), s.RuntimeProps...)
	return s
}
