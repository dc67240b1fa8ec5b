package runengine

import (
	"path/filepath"
	"strings"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/scm"
	"github.com/taskmesh/taskmesh/internal/turbopath"
)

// ChangeMapper answers "which packages changed since commit X", the piece
// that turns `--filter=[from...]`/`--affected`-style CLI arguments into a
// concrete package set. It is deliberately its own small
// component rather than folded into PackageGraph, with internal/scm doing
// only the raw changed-files query and nothing about packages.
type ChangeMapper struct {
	eng      *engine.Engine
	repoRoot string
	pkgDirs  map[string]string // package name -> directory relative to repo root
}

// NewChangeMapper builds a ChangeMapper over the given package directories.
func NewChangeMapper(eng *engine.Engine, repoRoot string, pkgDirs map[string]string) *ChangeMapper {
	return &ChangeMapper{eng: eng, repoRoot: repoRoot, pkgDirs: pkgDirs}
}

// ChangedFilesTask returns the TaskId of the engine task that asks the SCM
// for files changed since fromCommit. It is memoized per fromCommit: asking
// again for the same base commit inside one long-lived daemon run (spec
// 4.9) reuses the cached file list until something explicitly invalidates
// the task (a filesystem watch event, handled outside this package).
func (cm *ChangeMapper) ChangedFilesTask(fromCommit string, includeUntracked bool) engine.TaskId {
	key := engine.TaskKey{Function: "runengine.ChangedFiles", Args: fromCommit}
	return cm.eng.Task(key, func(ctx *engine.ExecContext) error {
		// NewFallback returns a usable stub SCM alongside ErrFallback when
		// no .git directory is found, so the error here is informational
		// only, matching the way internal/scm.FromInRepo's callers treat it.
		repo, _ := scm.NewFallback(turbopath.AbsoluteSystemPath(cm.repoRoot))
		files, err := repo.ChangedFiles(fromCommit, "HEAD", cm.repoRoot)
		if err != nil {
			return err
		}
		engine.Set(ctx, files)
		return nil
	})
}

// ChangedFilesVc resolves ChangedFilesTask into a typed Vc.
func (cm *ChangeMapper) ChangedFilesVc(fromCommit string, includeUntracked bool) engine.Vc[[]string] {
	id := cm.ChangedFilesTask(fromCommit, includeUntracked)
	return engine.Vc[[]string]{Cell: engine.CellId{Task: id, Index: 0}}
}

// AffectedPackagesTask maps the changed-files task's output onto package
// names, so that a task graph visitor (visitor.go) can prune to only the
// packages the `--filter`/`--affected` selection actually touched.
// A package is affected if any changed file's path falls under its
// directory, using the same prefix-after-Rel check globby.getRelativePath
// uses to keep glob matches inside their base directory.
func (cm *ChangeMapper) AffectedPackagesTask(fromCommit string, includeUntracked bool) engine.TaskId {
	changed := cm.ChangedFilesVc(fromCommit, includeUntracked)
	key := engine.TaskKey{Function: "runengine.AffectedPackages", Args: fromCommit}
	return cm.eng.Task(key, func(ctx *engine.ExecContext) error {
		files, err := engine.ReadIn(ctx, changed)
		if err != nil {
			return err
		}
		affected := make(map[string]bool)
		for name, dir := range cm.pkgDirs {
			cleanDir := filepath.Clean(dir)
			for _, f := range files {
				rel, err := filepath.Rel(cleanDir, f)
				if err != nil {
					continue
				}
				if rel == "." || (!strings.HasPrefix(rel, "..") && rel != f) {
					affected[name] = true
					break
				}
			}
		}
		engine.Set(ctx, affected)
		return nil
	})
}

// AffectedPackagesVc resolves AffectedPackagesTask into a typed Vc.
func (cm *ChangeMapper) AffectedPackagesVc(fromCommit string, includeUntracked bool) engine.Vc[map[string]bool] {
	id := cm.AffectedPackagesTask(fromCommit, includeUntracked)
	return engine.Vc[map[string]bool]{Cell: engine.CellId{Task: id, Index: 0}}
}
