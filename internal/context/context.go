// Package context resolves the workspace package graph: it discovers the
// package manager, enumerates workspaces, classifies every declared
// dependency as internal or external, and closes each workspace's external
// dependencies over the lockfile.
package context

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
	"github.com/pyr-sh/dag"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/lockfile"
	"github.com/taskmesh/taskmesh/internal/packagemanager"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/util"
	"github.com/taskmesh/taskmesh/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// ROOT_NODE_NAME is the sigil used for the synthetic root vertex of the
// workspace graph, distinct from the root workspace itself.
const ROOT_NODE_NAME = "___ROOT___"

// Context of the CLI
type Context struct {
	// WorkspaceInfos contains the contents of package.json for every workspace
	WorkspaceInfos workspace.Catalog

	// WorkspaceNames is all the names of the workspaces
	WorkspaceNames []string

	// WorkspaceGraph is a graph of workspace dependencies
	// (based on package.json dependencies)
	WorkspaceGraph dag.AcyclicGraph

	// RootNode is the sigil for the synthetic root vertex of the workspace graph
	RootNode string

	// Lockfile is a struct to read the lockfile based on the package manager
	Lockfile lockfile.Lockfile

	// PackageManager is an abstraction for all the info a package manager
	// can give us about the repo.
	PackageManager *packagemanager.PackageManager

	// Used to arbitrate access to the graph. We parallelise most build operations
	// and Go maps aren't natively threadsafe so this is needed.
	mutex sync.Mutex
}

// Splits "npm:^1.2.3" and "github:shineflow" into a protocol part and a version part.
func parseDependencyProtocol(version string) (string, string) {
	parts := strings.Split(version, ":")
	if len(parts) == 1 {
		return "", parts[0]
	}

	return parts[0], strings.Join(parts[1:], ":")
}

func isProtocolExternal(protocol string) bool {
	// The npm protocol for yarn by default still uses the workspace package if the
	// workspace version is in a compatible semver range. See https://github.com/yarnpkg/berry/discussions/4015
	// For now, we will just assume if the npm protocol is being used and the version matches
	// its an internal dependency which matches the existing behavior before this additional
	// logic was added.

	// TODO: extend this to support the `enableTransparentWorkspaces` yarn option
	return protocol != "" && protocol != "npm"
}

func isWorkspaceReference(packageVersion string, dependencyVersion string, cwd string, rootpath string) bool {
	protocol, dependencyVersion := parseDependencyProtocol(dependencyVersion)

	if protocol == "workspace" {
		// TODO: Since support at the moment is non-existent for workspaces that contain multiple
		// versions of the same package name, just assume its a match and don't check the range
		// for an exact match.
		return true
	} else if protocol == "file" || protocol == "link" {
		abs, err := filepath.Abs(filepath.Join(cwd, dependencyVersion))
		if err != nil {
			// Default to internal if we have a problem converting to absolute
			return true
		}
		isWithinRepo, err := fs.DirContainsPath(rootpath, filepath.FromSlash(abs))
		if err != nil {
			// If we have a problem checking whether the file path is within the repo,
			// just assume that it is an internal dependency.
			return true
		}
		return isWithinRepo
	} else if isProtocolExternal(protocol) {
		// Other protocols are assumed to be external references ("github:", etc)
		return false
	} else if dependencyVersion == "*" {
		return true
	}

	// If we got this far, then we need to check the workspace package version to see it satisfies
	// the dependencies range to determin whether or not its an internal or external dependency.
	constraint, constraintErr := semver.NewConstraint(dependencyVersion)
	pkgVersion, packageVersionErr := semver.NewVersion(packageVersion)
	if constraintErr != nil || packageVersionErr != nil {
		// For backwards compatibility with existing behavior, if we can't parse the version then we
		// treat the dependency as an internal package reference and swallow the error.

		// TODO: some package managers also support tags like "latest". Does extra handling need to be
		// added for this corner-case
		return true
	}

	return constraint.Check(pkgVersion)
}

// SinglePackageGraph constructs a Context instance from a single package.
func SinglePackageGraph(repoRoot turbopath.AbsoluteSystemPath, rootPackageJSON *fs.PackageJSON) (*Context, error) {
	workspaceInfos := workspace.Catalog{
		PackageJSONs: map[string]*fs.PackageJSON{util.RootPkgName: rootPackageJSON},
		TurboConfigs: map[string]*fs.TurboConfigJSON{},
	}
	c := &Context{
		WorkspaceInfos: workspaceInfos,
		RootNode:       ROOT_NODE_NAME,
	}
	c.WorkspaceGraph.Connect(dag.BasicEdge(util.RootPkgName, ROOT_NODE_NAME))
	packageManager, err := packagemanager.GetPackageManager(repoRoot, rootPackageJSON)
	if err != nil {
		return nil, err
	}
	c.PackageManager = packageManager
	return c, nil
}

// BuildPackageGraph constructs a Context instance with information about the package dependency graph
func BuildPackageGraph(repoRoot turbopath.AbsoluteSystemPath, rootPackageJSON *fs.PackageJSON) (*Context, error) {
	c := &Context{
		WorkspaceInfos: workspace.Catalog{
			PackageJSONs: map[string]*fs.PackageJSON{},
			TurboConfigs: map[string]*fs.TurboConfigJSON{},
		},
		RootNode: ROOT_NODE_NAME,
	}

	var warnings Warnings

	packageManager, err := packagemanager.GetPackageManager(repoRoot, rootPackageJSON)
	if err != nil {
		return nil, err
	}
	c.PackageManager = packageManager

	if err := c.resolveWorkspaceRootDeps(rootPackageJSON, &warnings); err != nil {
		// TODO(Gaspar) was this the intended return error?
		return nil, fmt.Errorf("could not resolve workspaces: %w", err)
	}

	// Get the workspaces from the package manager.
	// workspaces are absolute paths to package.json files
	workspaces, err := c.PackageManager.GetWorkspaces(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("workspace configuration error: %w", err)
	}

	// We will parse all package.json's simultaneously. We use a
	// wait group because we cannot fully populate the graph (the next step)
	// until all parsing is complete
	parseJSONWaitGroup := &errgroup.Group{}
	for _, workspacePath := range workspaces {
		pkgJSONPath := turbopath.AbsoluteSystemPathFromUpstream(workspacePath)
		parseJSONWaitGroup.Go(func() error {
			return c.parsePackageJSON(repoRoot, pkgJSONPath)
		})
	}

	if err := parseJSONWaitGroup.Wait(); err != nil {
		return nil, err
	}
	populateGraphWaitGroup := &errgroup.Group{}
	for _, pkg := range c.WorkspaceInfos.PackageJSONs {
		pkg := pkg
		populateGraphWaitGroup.Go(func() error {
			return c.populateWorkspaceGraphForPackageJSON(pkg, repoRoot, pkg.Name, &warnings)
		})
	}

	if err := populateGraphWaitGroup.Wait(); err != nil {
		return nil, err
	}
	// Resolve dependencies for the root package. We override the vertexName
	// used in the graph!
	if err := c.populateWorkspaceGraphForPackageJSON(rootPackageJSON, repoRoot, util.RootPkgName, &warnings); err != nil {
		return nil, fmt.Errorf("failed to resolve dependencies for root package: %v", err)
	}
	c.WorkspaceInfos.PackageJSONs[util.RootPkgName] = rootPackageJSON

	// Get internal dependencies' external dependencies to calculate the external dependencies hash
	if err := c.populateExternalDeps(repoRoot, rootPackageJSON, &warnings); err != nil {
		return nil, err
	}

	if err := util.ValidateGraph(&c.WorkspaceGraph); err != nil {
		return nil, fmt.Errorf("Invalid package dependency graph:\n%v", err)
	}

	return c, warnings.errorOrNil()
}

// Warnings is an error type to allow the build of the package graph to
// complete while flagging non-fatal resolution problems.
type Warnings struct {
	mu   sync.Mutex
	errs []error
}

var _ error = (*Warnings)(nil)

func (w *Warnings) Error() string {
	lines := make([]string, len(w.errs))
	for i, err := range w.errs {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}

func (w *Warnings) errorOrNil() error {
	if len(w.errs) > 0 {
		return w
	}
	return nil
}

func (w *Warnings) append(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, err)
}

func (c *Context) resolveWorkspaceRootDeps(rootPackageJSON *fs.PackageJSON, warnings *Warnings) error {
	pkg := rootPackageJSON
	depMap := make(map[string]string)
	for dep, version := range pkg.DevDependencies {
		depMap[dep] = version
	}
	for dep, version := range pkg.OptionalDependencies {
		depMap[dep] = version
	}
	for dep, version := range pkg.Dependencies {
		depMap[dep] = version
	}
	pkg.UnresolvedExternalDeps = depMap

	return nil
}

// populateWorkspaceGraphForPackageJSON fills in the edges for the dependencies of the given package
// that are within the monorepo, as well as collecting and hashing the dependencies of the package
// that are not within the monorepo. The vertexName is used to override the package name in the graph.
// This can happen when adding the root package, which can have a different, unscoped name.
func (c *Context) populateWorkspaceGraphForPackageJSON(pkg *fs.PackageJSON, rootpath turbopath.AbsoluteSystemPath, vertexName string, warnings *Warnings) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	depMap := make(map[string]string)
	internalDepsSet := make(dag.Set)
	externalUnresolvedDepsMap := make(map[string]string)
	pkgDir := pkg.Dir.RestoreAnchor(rootpath)

	for dep, version := range pkg.DevDependencies {
		depMap[dep] = version
	}

	for dep, version := range pkg.OptionalDependencies {
		depMap[dep] = version
	}

	for dep, version := range pkg.Dependencies {
		depMap[dep] = version
	}

	// split out internal vs. external deps
	for depName, depVersion := range depMap {
		if item, ok := c.WorkspaceInfos.PackageJSONs[depName]; ok && isWorkspaceReference(item.Version, depVersion, pkgDir.ToString(), rootpath.ToString()) {
			internalDepsSet.Add(depName)
			c.WorkspaceGraph.Connect(dag.BasicEdge(vertexName, depName))
		} else {
			externalUnresolvedDepsMap[depName] = depVersion
		}
	}

	pkg.UnresolvedExternalDeps = externalUnresolvedDepsMap

	// when there are no internal dependencies, we need to still add these leafs to the graph
	if internalDepsSet.Len() == 0 {
		c.WorkspaceGraph.Connect(dag.BasicEdge(vertexName, ROOT_NODE_NAME))
	}

	pkg.InternalDeps = make([]string, 0, internalDepsSet.Len())
	for _, v := range internalDepsSet.List() {
		pkg.InternalDeps = append(pkg.InternalDeps, fmt.Sprintf("%v", v))
	}

	sort.Strings(pkg.InternalDeps)

	return nil
}

func (c *Context) parsePackageJSON(repoRoot turbopath.AbsoluteSystemPath, pkgJSONPath turbopath.AbsoluteSystemPath) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if pkgJSONPath.FileExists() {
		pkg, err := fs.ReadPackageJSON(pkgJSONPath)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", pkgJSONPath, err)
		}

		relativePkgJSONPath, err := pkgJSONPath.RelativeTo(repoRoot)
		if err != nil {
			return fmt.Errorf("resolving package location %s: %w", pkgJSONPath, err)
		}

		if pkg.Name == "" {
			return fmt.Errorf("package.json at %v is missing a \"name\" field", relativePkgJSONPath)
		}

		c.WorkspaceGraph.Add(pkg.Name)
		pkg.PackageJSONPath = relativePkgJSONPath
		pkg.Dir = relativePkgJSONPath.Dir()
		if existing, ok := c.WorkspaceInfos.PackageJSONs[pkg.Name]; ok {
			return fmt.Errorf("Failed to add workspace \"%s\" from %s, it already exists at %s", pkg.Name, pkg.Dir, existing.Dir)
		}
		c.WorkspaceInfos.PackageJSONs[pkg.Name] = pkg
		c.WorkspaceNames = append(c.WorkspaceNames, pkg.Name)
	}

	return nil
}

// populateExternalDeps closes every workspace's external dependencies over
// the lockfile and hashes the result onto each PackageJSON.
func (c *Context) populateExternalDeps(repoRoot turbopath.AbsoluteSystemPath, rootPackageJSON *fs.PackageJSON, warnings *Warnings) error {
	lf, err := c.PackageManager.ReadLockfile(repoRoot, rootPackageJSON)
	if err != nil {
		warnings.append(err)
		rootPackageJSON.TransitiveDeps = nil
		rootPackageJSON.ExternalDepsHash = ""
	} else {
		c.Lockfile = lf
		depSet, err := lockfile.AllTransitiveClosures(c.externalWorkspaceDeps(), c.Lockfile)
		if err != nil {
			warnings.append(err)
		} else {
			for _, pkg := range c.WorkspaceInfos.PackageJSONs {
				closure, ok := depSet[pkg.Dir.ToUnixPath()]
				if !ok {
					return fmt.Errorf("Unable to find closure for %v", pkg.Dir.ToUnixPath())
				}
				if err := pkg.SetExternalDeps(closure); err != nil {
					return err
				}
			}
		}
	}
	if lockfile.IsNil(c.Lockfile) {
		for _, pkg := range c.WorkspaceInfos.PackageJSONs {
			pkg.TransitiveDeps = nil
			pkg.ExternalDepsHash = ""
		}
	}

	return nil
}

func (c *Context) externalWorkspaceDeps() map[turbopath.AnchoredUnixPath]map[string]string {
	workspaces := make(map[turbopath.AnchoredUnixPath]map[string]string, len(c.WorkspaceInfos.PackageJSONs))
	for _, pkg := range c.WorkspaceInfos.PackageJSONs {
		workspaces[pkg.Dir.ToUnixPath()] = pkg.UnresolvedExternalDeps
	}
	return workspaces
}

// InternalDependencies finds all dependencies required by the slice of starting
// packages, as well as the starting packages themselves.
func (c *Context) InternalDependencies(start []string) ([]string, error) {
	vertexName := func(vertex dag.Vertex) string {
		return dag.VertexName(vertex)
	}
	s := make(dag.Set)
	for _, v := range start {
		s.Add(v)
	}
	visited := []string{}
	var lock sync.Mutex
	err := c.WorkspaceGraph.DepthFirstWalk(s.List(), func(vertex dag.Vertex, depth int) error {
		lock.Lock()
		defer lock.Unlock()
		visited = append(visited, vertexName(vertex))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(visited)

	return visited, nil
}

// ChangedPackages returns a list of changed packages based on the contents of a previous lockfile
// This assumes that none of the package.json in the workspace change, it is
// the responsibility of the caller to verify this.
func (c *Context) ChangedPackages(previousLockfile lockfile.Lockfile) ([]string, error) {
	if lockfile.IsNil(previousLockfile) || lockfile.IsNil(c.Lockfile) {
		return nil, fmt.Errorf("Cannot detect changed packages without previous and current lockfile")
	}

	if c.Lockfile.GlobalChange(previousLockfile) {
		return c.WorkspaceNames, nil
	}

	closures, err := lockfile.AllTransitiveClosures(c.externalWorkspaceDeps(), previousLockfile)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to construct closures for previous lockfile")
	}

	didPackageChange := func(pkgName string, pkg *fs.PackageJSON) bool {
		previousDeps, ok := closures[pkg.Dir.ToUnixPath()]
		if !ok || previousDeps.Cardinality() != len(pkg.TransitiveDeps) {
			return true
		}

		for _, prevPkg := range previousDeps.ToSlice() {
			if prevPkg, ok := prevPkg.(lockfile.Package); ok {
				found := false
				for _, currPkg := range pkg.TransitiveDeps {
					if prevPkg == currPkg {
						found = true
						break
					}
				}
				if !found {
					return true
				}
			} else {
				return true
			}
		}
		return false
	}

	changedPkgs := make([]string, 0, len(c.WorkspaceInfos.PackageJSONs))

	for pkgName, pkg := range c.WorkspaceInfos.PackageJSONs {
		if didPackageChange(pkgName, pkg) {
			if pkgName == util.RootPkgName {
				return c.WorkspaceNames, nil
			}
			changedPkgs = append(changedPkgs, pkgName)
		}
	}
	sort.Strings(changedPkgs)

	return changedPkgs, nil
}
