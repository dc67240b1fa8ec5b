package runengine

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/nodes"
	"github.com/taskmesh/taskmesh/internal/util"
)

// Plan is the resolved set of (package, task) hash Vcs for one invocation's
// scope. Building a Plan never runs a single task body itself: reading a Plan's
// HashVc for a given task is what actually drives the hash (and, once read
// by the cache layer, a cache lookup or the task's real execution) to run.
type Plan struct {
	HashVcs map[string]engine.Vc[string]       // util.GetTaskId(pkg, task) -> hash Vc
	Order   []string                           // task ids in dependency order, leaves first
	Deps    map[string][]string                // task id -> dependency task ids, kept for BuildExec
	Defs    map[string]*TaskDefinition         // task id -> resolved definition
}

// Visitor resolves PackageGraph + root turbo.json pipeline into a Plan for
// a given scope of packages and task names. Each visited (package, task)
// becomes a TaskHashVc depending on its same-package dependsOn siblings and
// its topological ^task dependencies in each internal dependency package.
type Visitor struct {
	r          *Runner
	graph      *PackageGraph
	rootConfig *fs.TurboConfigJSON
	inputFiles map[string]engine.Vc[map[string]string] // package name + input patterns -> file-hash Vc
}

// NewVisitor constructs a Visitor over an already-resolved PackageGraph.
func NewVisitor(r *Runner, graph *PackageGraph, rootConfig *fs.TurboConfigJSON) *Visitor {
	return &Visitor{r: r, graph: graph, rootConfig: rootConfig, inputFiles: make(map[string]engine.Vc[map[string]string])}
}

func (v *Visitor) fileHashVc(packageName string, inputPatterns []string) (engine.Vc[map[string]string], error) {
	cacheKey := packageName + "\x00" + strings.Join(inputPatterns, "\x00")
	if vc, ok := v.inputFiles[cacheKey]; ok {
		return vc, nil
	}
	pkg := v.graph.Packages[packageName]
	dir := ""
	if pkg != nil {
		dir = string(pkg.Dir)
	}
	resolved, err := resolveInputGlobs(dir, inputPatterns)
	if err != nil {
		return engine.Vc[map[string]string]{}, err
	}
	vc := v.r.PackageFileHashVc(packageName, dir, resolved)
	v.inputFiles[cacheKey] = vc
	return vc, nil
}

// resolveInputGlobs strips the glob DSL tokens from a task's inputs and
// re-roots $TURBO_ROOT$ globs at the repository root, expressed relative to
// the package directory the globwalk runs from.
func resolveInputGlobs(packageDir string, inputPatterns []string) ([]string, error) {
	if len(inputPatterns) == 0 {
		return nil, nil
	}
	turboRootPath := "."
	if packageDir != "" {
		rel, err := filepath.Rel(packageDir, ".")
		if err != nil {
			return nil, err
		}
		turboRootPath = filepath.ToSlash(rel)
	}
	processed, err := fs.ProcessGlobs(inputPatterns)
	if err != nil {
		return nil, err
	}
	resolved := make([]string, len(processed))
	for i, glob := range processed {
		resolved[i] = glob.Resolve(turboRootPath)
	}
	return resolved, nil
}

// node is one discovered (package, task) entry plus its direct dependency
// task ids, collected during Build's discovery pass.
type node struct {
	pkgName, taskName string
	defVc             engine.Vc[*TaskDefinition]
	def               *TaskDefinition
	deps              []string
}

// Build resolves scope (package names; empty means every package in the
// graph) and taskNames into a Plan; with no taskNames the Plan is empty. It
// runs two passes, splitting discovery from construction:
// discovery (breadth-first, resolving each TaskDefinition to find its own
// dependsOn/^task edges) followed by a topological build pass that only
// constructs a TaskHashVc once every task it depends on already has one, so
// TaskHashVc is never called with an incomplete upstream list.
func (v *Visitor) Build(globalHash engine.Vc[string], scope []string, taskNames []string) (*Plan, error) {
	if len(scope) == 0 {
		for name := range v.graph.Packages {
			scope = append(scope, name)
		}
	}

	nodes := make(map[string]*node)
	queue := make([]string, 0, len(scope)*len(taskNames))
	for _, pkg := range scope {
		for _, task := range taskNames {
			queue = append(queue, util.GetTaskId(pkg, task))
		}
	}

	for len(queue) > 0 {
		taskID := queue[0]
		queue = queue[1:]
		if _, ok := nodes[taskID]; ok {
			continue
		}

		pkgName, taskName := util.GetPackageTaskFromId(taskID)
		if _, ok := v.graph.Packages[pkgName]; !ok {
			return nil, fmt.Errorf("runengine: package %q not found in graph", pkgName)
		}

		defVc := v.r.TaskDefinitionVc(v.rootConfig, pkgName, taskName)
		def, err := engine.ReadUntracked(v.r.Eng, defVc)
		if err != nil {
			return nil, fmt.Errorf("runengine: resolving %s: %w", taskID, err)
		}

		n := &node{pkgName: pkgName, taskName: taskName, defVc: defVc, def: def}
		for _, dep := range def.DependsOn {
			depID := util.GetTaskId(pkgName, dep)
			n.deps = append(n.deps, depID)
			queue = append(queue, depID)
		}
		for _, topoTask := range def.TopoDependsOn {
			for _, upper := range v.graph.Topological[pkgName] {
				depID := util.GetTaskId(upper, topoTask)
				n.deps = append(n.deps, depID)
				queue = append(queue, depID)
			}
		}
		nodes[taskID] = n
	}

	order, err := topoSortTaskIDs(nodes)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		HashVcs: make(map[string]engine.Vc[string], len(nodes)),
		Order:   order,
		Deps:    make(map[string][]string, len(nodes)),
		Defs:    make(map[string]*TaskDefinition, len(nodes)),
	}
	for _, taskID := range order {
		n := nodes[taskID]
		upstream := make([]engine.Vc[string], 0, len(n.deps))
		for _, dep := range n.deps {
			upstream = append(upstream, plan.HashVcs[dep])
		}
		fileVc, err := v.fileHashVc(n.pkgName, n.def.Def.Inputs)
		if err != nil {
			return nil, fmt.Errorf("runengine: resolving inputs for %s: %w", taskID, err)
		}
		plan.HashVcs[taskID] = v.r.TaskHashVc(n.pkgName, n.taskName, globalHash, n.defVc, fileVc, upstream)
		plan.Deps[taskID] = append([]string(nil), n.deps...)
		plan.Defs[taskID] = n.def
	}
	return plan, nil
}

// BuildExec turns an already-built Plan into a set of ExecuteTask Vcs (spec
// 4.8): one per task id, in the same dependency order, each depending on
// its upstream tasks' ExecResult Vcs so the scheduler never spawns a
// dependent's process before its dependency's process has exited.
// newCommand builds the *exec.Cmd to run for a given
// (package, task) on a cache miss; it is a caller-supplied hook rather than
// a hardcoded "<pm> run <task>" so callers can bind in the package
// manager resolved for each workspace (internal/packagemanager) or fake
// the command out entirely in tests.
func (v *Visitor) BuildExec(plan *Plan, ex *Executor, newCommand func(pkgName, taskName string) *exec.Cmd) map[string]engine.Vc[ExecResult] {
	execVcs := make(map[string]engine.Vc[ExecResult], len(plan.Order))
	for _, taskID := range plan.Order {
		pkgName, taskName := util.GetPackageTaskFromId(taskID)
		def := plan.Defs[taskID]
		pkg := v.graph.Packages[pkgName]
		pt := &nodes.PackageTask{
			TaskID:          taskID,
			Task:            taskName,
			PackageName:     pkgName,
			Pkg:             pkg,
			EnvMode:         v.r.resolveTaskEnvMode(def.Def.EnvMode, def.Def.PassThroughEnv),
			TaskDefinition:  def.Def,
			Outputs:         def.Def.Outputs.Inclusions,
			ExcludedOutputs: def.Def.Outputs.Exclusions,
		}
		if pkg != nil {
			pt.Dir = pkg.Dir.ToString()
			pt.Command = pkg.Scripts[taskName]
		}
		upstream := make([]engine.Vc[ExecResult], 0, len(plan.Deps[taskID]))
		for _, dep := range plan.Deps[taskID] {
			upstream = append(upstream, execVcs[dep])
		}
		execVcs[taskID] = v.r.ExecuteTaskVc(
			pt,
			def,
			plan.HashVcs[taskID],
			newCommand(pkgName, taskName),
			ex,
			upstream,
		)
	}
	return execVcs
}

// topoSortTaskIDs orders nodes so that every task id appears after all of
// its deps, using the same Kahn's-algorithm shape as TopoOrder.
func topoSortTaskIDs(nodes map[string]*node) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string)
	for id := range nodes {
		indegree[id] = 0
	}
	for id, n := range nodes {
		for _, dep := range n.deps {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	if len(order) != len(nodes) {
		return nil, fmt.Errorf("runengine: task graph has a cycle")
	}
	return order, nil
}
