package lockfile

import (
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"golang.org/x/sync/errgroup"
)

// TransitiveClosure the set of all lockfile keys that pkg depends on
func TransitiveClosure(
	workspaceDir turbopath.AnchoredUnixPath,
	unresolvedDeps map[string]string,
	lockFile Lockfile,
) (mapset.Set, error) {
	return transitiveClosure(workspaceDir, unresolvedDeps, lockFile)
}

// AllTransitiveClosures computes the closure for every workspace concurrently
func AllTransitiveClosures(
	workspaces map[turbopath.AnchoredUnixPath]map[string]string,
	lockFile Lockfile,
) (map[turbopath.AnchoredUnixPath]mapset.Set, error) {
	g := &errgroup.Group{}
	c := make(map[turbopath.AnchoredUnixPath]mapset.Set, len(workspaces))
	closureMutex := &sync.Mutex{}
	for workspace, deps := range workspaces {
		workspace := workspace
		deps := deps
		g.Go(func() error {
			closure, err := transitiveClosure(workspace, deps, lockFile)
			if err != nil {
				return err
			}
			closureMutex.Lock()
			c[workspace] = closure
			closureMutex.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c, nil
}
