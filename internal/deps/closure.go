// Package deps computes the transitive closure of a project's production dependencies from the
// packages installed on disk.
//
// Resolution goes through a Resolver so the grapher does not depend on one package manager's
// layout. Collection runs in two phases. Phase 1 resolves every name relative to the project
// root. Phase 2 re-resolves the dependencies of every discovered package relative to that
// package's own directory, until no new directory appears; this finds packages that
// content-addressed stores only link next to their dependents. When the phases disagree on a
// name's directory, the candidates are ranked deterministically (see Closure.Conflicts).
package deps

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/dominikbraun/graph"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RootVertex names the project in the dependency graph
const RootVertex = "."

// Closure is the result of dependency collection for one project
type Closure struct {
	ProjectDir string `json:"project_dir"`

	// Packages holds every direct and transitive name, sorted. Included and Skipped partition it.
	Packages []string `json:"packages"`
	Included []string `json:"included"`
	Skipped  []string `json:"skipped"`

	// ResolvedPaths and Versions are keyed by included package name
	ResolvedPaths map[string]string `json:"resolved_paths"`
	Versions      map[string]string `json:"versions"`

	// Conflicts lists every directory a name resolved to, when there was more than one. The chosen
	// directory prefers a dependent-relative resolution over a root-relative one, then the deepest
	// path, then the highest version, then the lexicographically smallest path.
	Conflicts map[string][]string `json:"conflicts,omitempty"`

	graph graph.Graph[string, string]
}

// Collector collects closures. The zero value uses NodeResolver and one worker per CPU.
type Collector struct {
	Resolver    Resolver
	Concurrency int
}

// CollectClosure collects the closure of roots installed under projectDir. Unresolvable names are
// reported in Skipped; they are never an error.
func CollectClosure(projectDir string, roots []string) (*Closure, error) {
	return (&Collector{}).Collect(context.Background(), projectDir, roots)
}

// CollectProject reads the project manifest and collects the closure of its production
// dependencies
func CollectProject(ctx context.Context, projectDir string) (*Closure, error) {
	m, err := ReadManifest(projectDir)
	if err != nil {
		return nil, err
	}
	return (&Collector{}).Collect(ctx, projectDir, m.ProductionDependencies())
}

type candidate struct {
	dir       string
	dependent bool // found relative to a dependent's directory
	version   string
}

type collection struct {
	projectDir string
	visited    map[string]bool
	candidates map[string]map[string]*candidate
	manifests  map[string]*Manifest
	graph      graph.Graph[string, string]
}

type job struct {
	owner string
	name  string
	base  string
}

type lookup struct {
	job
	dir      string
	found    bool
	manifest *Manifest
}

// Collect runs both phases for roots. It fails only when ctx is cancelled or projectDir cannot be
// made absolute.
func (c *Collector) Collect(ctx context.Context, projectDir string, roots []string) (*Closure, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	col := &collection{
		projectDir: absDir,
		visited:    make(map[string]bool),
		candidates: make(map[string]map[string]*candidate),
		manifests:  make(map[string]*Manifest),
		graph:      graph.New(graph.StringHash, graph.Directed()),
	}
	_ = col.graph.AddVertex(RootVertex)

	// phase 1: root-relative
	var level []string
	for _, name := range sortedUnique(roots) {
		col.visit(name)
		col.edge(RootVertex, name)
		level = append(level, name)
	}
	for len(level) > 0 {
		jobs := make([]job, 0, len(level))
		for _, name := range level {
			jobs = append(jobs, job{owner: RootVertex, name: name, base: absDir})
		}
		results, err := c.resolveAll(ctx, jobs)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, r := range results {
			if !r.found {
				continue
			}
			col.add(r, false)
			for _, dep := range r.manifest.RuntimeDependencies() {
				col.edge(r.name, dep)
				if col.visit(dep) {
					next = append(next, dep)
				}
			}
		}
		level = sortedUnique(next)
	}

	// phase 2: dependent-relative, to a fixpoint over package directories
	processed := make(map[string]bool)
	for round := 1; ; round++ {
		var jobs []job
		for _, name := range sortedKeysOf(col.candidates) {
			for _, dir := range sortedKeysOf(col.candidates[name]) {
				if processed[dir] {
					continue
				}
				processed[dir] = true
				for _, dep := range col.manifests[dir].RuntimeDependencies() {
					jobs = append(jobs, job{owner: name, name: dep, base: dir})
				}
			}
		}
		if len(jobs) == 0 {
			break
		}

		results, err := c.resolveAll(ctx, jobs)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			col.edge(r.owner, r.name)
			col.visit(r.name)
			if r.found {
				col.add(r, true)
			}
		}
		log.Debug().Int("round", round).Int("lookups", len(jobs)).Msg("Dependent-relative resolution pass")
	}

	return col.closure(), nil
}

// resolveAll runs jobs concurrently; results keep the job order
func (c *Collector) resolveAll(ctx context.Context, jobs []job) ([]lookup, error) {
	resolver := c.Resolver
	if resolver == nil {
		resolver = NodeResolver{}
	}
	limit := c.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	results := make([]lookup, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := lookup{job: j}
			if dir, ok := resolver.Resolve(j.name, j.base); ok {
				m, err := ReadManifest(dir)
				if err != nil {
					// a broken manifest still counts as installed, without dependencies
					log.Debug().Err(err).Str("package", j.name).Msg("Ignoring unreadable package manifest")
					m = &Manifest{Name: j.name}
				}
				r.dir, r.found, r.manifest = dir, true, m
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (col *collection) visit(name string) bool {
	if col.visited[name] {
		return false
	}
	col.visited[name] = true
	_ = col.graph.AddVertex(name)
	return true
}

func (col *collection) edge(from, to string) {
	if from == to {
		return
	}
	_ = col.graph.AddVertex(from)
	_ = col.graph.AddVertex(to)
	_ = col.graph.AddEdge(from, to)
}

func (col *collection) add(r lookup, dependent bool) {
	byDir, ok := col.candidates[r.name]
	if !ok {
		byDir = make(map[string]*candidate)
		col.candidates[r.name] = byDir
	}
	if existing, ok := byDir[r.dir]; ok {
		existing.dependent = existing.dependent || dependent
		return
	}
	byDir[r.dir] = &candidate{dir: r.dir, dependent: dependent, version: r.manifest.Version}
	col.manifests[r.dir] = r.manifest
}

func (col *collection) closure() *Closure {
	cl := &Closure{
		ProjectDir:    col.projectDir,
		Packages:      sortedKeysOf(col.visited),
		Included:      []string{},
		Skipped:       []string{},
		ResolvedPaths: make(map[string]string),
		Versions:      make(map[string]string),
		Conflicts:     make(map[string][]string),
		graph:         col.graph,
	}

	for _, name := range cl.Packages {
		byDir := col.candidates[name]
		if len(byDir) == 0 {
			cl.Skipped = append(cl.Skipped, name)
			continue
		}

		var best *candidate
		for _, dir := range sortedKeysOf(byDir) {
			if cand := byDir[dir]; best == nil || preferred(cand, best) {
				best = cand
			}
		}
		cl.Included = append(cl.Included, name)
		cl.ResolvedPaths[name] = best.dir
		cl.Versions[name] = best.version

		if len(byDir) > 1 {
			cl.Conflicts[name] = sortedKeysOf(byDir)
			log.Debug().Str("package", name).Str("chosen", best.dir).Int("candidates", len(byDir)).Msg("Package resolved to several directories")
		}
	}
	return cl
}

// preferred reports whether a ranks above b
func preferred(a, b *candidate) bool {
	if a.dependent != b.dependent {
		return a.dependent
	}
	if da, db := depth(a.dir), depth(b.dir); da != db {
		return da > db
	}
	va, errA := semver.NewVersion(a.version)
	vb, errB := semver.NewVersion(b.version)
	if errA == nil && errB == nil && !va.Equal(vb) {
		return va.GreaterThan(vb)
	}
	return a.dir < b.dir
}

func depth(dir string) int {
	return len(strings.Split(filepath.ToSlash(filepath.Clean(dir)), "/"))
}

func sortedUnique(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
