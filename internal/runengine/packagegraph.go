package runengine

import (
	"fmt"
	"sort"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/util"
)

// PackageGraph is the resolved set of workspace packages and their
// topological (internal-dependency) edges, the engine-task equivalent of
// internal/context.Context's PackageInfos + TopologicalGraph fields.
type PackageGraph struct {
	Root     string
	Packages map[string]*fs.PackageJSON
	// Topological holds, for each package name, the names of the internal
	// packages it depends on directly (dag.AcyclicGraph.DependsOn edges in
	// internal/context's WorkspaceGraph).
	Topological map[string][]string
}

// Runner owns the Engine plus the inputs needed to build runner-level task
// keys: the repo root, the set of already-parsed package.json files, and
// the per-package turbo.json overrides, as produced by internal/context. A
// Runner is created once per invocation of the CLI; its Engine is torn
// down when the run completes.
type Runner struct {
	Eng      *engine.Engine
	RepoRoot string
	pkgs     map[string]*fs.PackageJSON

	workspaceConfigs map[string]*fs.TurboConfigJSON

	// LockfileName is the package manager's lockfile, hashed as an
	// implicit global dependency.
	LockfileName string

	// FrameworkInference enables framework-derived env prefixes in task
	// hashing.
	FrameworkInference bool

	// GlobalEnvMode is the run-wide env mode before per-task overrides.
	GlobalEnvMode util.EnvMode

	// GlobalEnv is the run-wide declared env-var dependency set.
	GlobalEnv []string

	// GlobalPassThroughEnv is the run-wide pass-through env set.
	GlobalPassThroughEnv []string

	// PassThroughArgs are the extra CLI args forwarded to every task,
	// hashed so `run build -- --flag` misses `run build`'s artifact.
	PassThroughArgs []string
}

// NewRunner wraps an already-constructed Engine with the package set and
// per-package configs discovered for this invocation.
func NewRunner(eng *engine.Engine, repoRoot string, pkgs map[string]*fs.PackageJSON, workspaceConfigs map[string]*fs.TurboConfigJSON) *Runner {
	if workspaceConfigs == nil {
		workspaceConfigs = make(map[string]*fs.TurboConfigJSON)
	}
	return &Runner{
		Eng:                eng,
		RepoRoot:           repoRoot,
		pkgs:               pkgs,
		workspaceConfigs:   workspaceConfigs,
		FrameworkInference: true,
		GlobalEnvMode:      util.Infer,
	}
}

// PackageGraphTask returns the TaskId of the singleton engine task that
// resolves the workspace's package graph. It is keyed only by repo root,
// since the Engine instance is itself scoped to one invocation and its
// result is invalidated the normal way (a Vc read against a stale cell) if
// any package.json changes during a long-lived daemon session.
func (r *Runner) PackageGraphTask() engine.TaskId {
	key := engine.TaskKey{Function: "runengine.PackageGraph", Args: r.RepoRoot}
	return r.Eng.Task(key, func(ctx *engine.ExecContext) error {
		g := &PackageGraph{
			Root:        r.RepoRoot,
			Packages:    r.pkgs,
			Topological: make(map[string][]string),
		}
		for name, pkg := range r.pkgs {
			deps := make([]string, 0, len(pkg.InternalDeps))
			deps = append(deps, pkg.InternalDeps...)
			sort.Strings(deps)
			g.Topological[name] = deps
		}
		engine.Set(ctx, g)
		return nil
	})
}

// PackageGraphVc resolves PackageGraphTask into a typed Vc, for callers
// composing further engine tasks on top of it.
func (r *Runner) PackageGraphVc() engine.Vc[*PackageGraph] {
	return engine.Vc[*PackageGraph]{Cell: engine.CellId{Task: r.PackageGraphTask(), Index: 0}}
}

// TopoOrder returns package names with dependencies before dependents,
// by running a straightforward Kahn's-algorithm pass over
// PackageGraph.Topological. Reusing pyr-sh/dag itself here would require
// constructing a full dag.AcyclicGraph just to ask this one question; a
// plain toposort does the same job without pulling in vertex/edge
// bookkeeping this caller does not need.
func TopoOrder(g *PackageGraph) ([]string, error) {
	// indegree counts a package's unplaced dependencies; dependents maps a
	// package to the packages that depend on it.
	indegree := make(map[string]int, len(g.Topological))
	dependents := make(map[string][]string)
	for name, deps := range g.Topological {
		indegree[name] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], name)
		}
	}
	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, d := range dependents[n] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
		sort.Strings(ready)
	}
	if len(order) != len(g.Topological) {
		return nil, fmt.Errorf("runengine: package graph has a cycle")
	}
	return order, nil
}
