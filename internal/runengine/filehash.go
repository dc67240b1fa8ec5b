package runengine

import (
	"strings"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/hashing"
	"github.com/taskmesh/taskmesh/internal/turbopath"
)

// PackageFileHashTask returns the TaskId that computes the git-tracked file
// hashes for one package directory, the engine-task wrapping of
// hashing.GetPackageFileHashes. Wrapping it as a task means a long-lived
// daemon run only re-hashes a package's files when something
// touches that package, not on every invocation.
func (r *Runner) PackageFileHashTask(packageName, packageDir string, inputPatterns []string) engine.TaskId {
	key := engine.TaskKey{
		Function: "runengine.PackageFileHash",
		Args:     packageName + "|" + strings.Join(inputPatterns, ","),
	}
	return r.Eng.Task(key, func(ctx *engine.ExecContext) error {
		deps, err := hashing.GetPackageFileHashes(
			turbopath.AbsoluteSystemPath(r.RepoRoot),
			turbopath.AnchoredSystemPathFromUpstream(packageDir),
			inputPatterns,
		)
		if err != nil {
			return err
		}
		out := make(map[string]string, len(deps))
		for path, hash := range deps {
			out[path.ToString()] = hash
		}
		engine.Set(ctx, out)
		return nil
	})
}

// PackageFileHashVc resolves PackageFileHashTask into a typed Vc.
func (r *Runner) PackageFileHashVc(packageName, packageDir string, inputPatterns []string) engine.Vc[map[string]string] {
	id := r.PackageFileHashTask(packageName, packageDir, inputPatterns)
	return engine.Vc[map[string]string]{Cell: engine.CellId{Task: id, Index: 0}}
}
