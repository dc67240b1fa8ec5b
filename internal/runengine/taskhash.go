package runengine

import (
	"sort"
	"strings"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/env"
	"github.com/taskmesh/taskmesh/internal/fs/hash"
	"github.com/taskmesh/taskmesh/internal/inference"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/util"
)

// resolveTaskEnvMode normalizes a task's env mode: an explicit
// task-level mode wins, then Infer resolves to Strict iff a pass-through
// set is configured at either the task or global level.
func (r *Runner) resolveTaskEnvMode(taskMode util.EnvMode, taskPassThrough []string) util.EnvMode {
	mode := taskMode
	if mode == "" || mode == util.Infer {
		mode = r.GlobalEnvMode
	}
	if mode != "" && mode != util.Infer {
		return mode
	}
	if taskPassThrough != nil || r.GlobalPassThroughEnv != nil {
		return util.Strict
	}
	return util.Loose
}

// frameworkEnvPrefixes returns the wildcard env patterns contributed by the
// framework inferred from the package's dependencies, when framework
// inference is enabled.
func (r *Runner) frameworkEnvPrefixes(packageName string) (string, []string) {
	if !r.FrameworkInference {
		return "", nil
	}
	pkg := r.pkgs[packageName]
	framework := inference.InferFramework(pkg)
	if framework == nil {
		return "", nil
	}
	// EnvMatcher is an anchored prefix ("^NEXT_PUBLIC_"); the env package
	// speaks wildcards, so convert it to "NEXT_PUBLIC_*".
	wildcard := strings.TrimPrefix(framework.EnvMatcher, "^") + "*"
	return framework.Slug, []string{wildcard}
}

// taskHashTask returns the TaskId that computes the final cache key for one
// (package, task) pair. upstream are the already-computed hash
// Vcs of every task this one depends on (same-package dependsOn plus
// topological ^task dependencies), resolved by the caller via Vc reads so
// the engine's dependency edges land on the real upstream tasks rather
// than a flattened string.
func (r *Runner) taskHashTask(packageName, taskName string, globalHash engine.Vc[string], def engine.Vc[*TaskDefinition], packageFiles engine.Vc[map[string]string], upstream []engine.Vc[string]) engine.TaskId {
	key := engine.TaskKey{Function: "runengine.TaskHash", Args: packageName + "#" + taskName}
	return r.Eng.Task(key, func(ctx *engine.ExecContext) error {
		gh, err := engine.ReadIn(ctx, globalHash)
		if err != nil {
			return err
		}
		td, err := engine.ReadIn(ctx, def)
		if err != nil {
			return err
		}
		pf, err := engine.ReadIn(ctx, packageFiles)
		if err != nil {
			return err
		}
		upHashes := make([]string, 0, len(upstream))
		for _, u := range upstream {
			h, err := engine.ReadIn(ctx, u)
			if err != nil {
				return err
			}
			upHashes = append(upHashes, h)
		}
		sort.Strings(upHashes)

		fileHashes := make(map[turbopath.AnchoredUnixPath]string, len(pf))
		for path, fileHash := range pf {
			fileHashes[turbopath.AnchoredUnixPath(path)] = fileHash
		}
		hashOfFiles, err := hash.HashFileHashes(fileHashes)
		if err != nil {
			return err
		}

		_, frameworkPrefixes := r.frameworkEnvPrefixes(packageName)
		envVars, err := env.GetHashableEnvVars(td.Def.Env, frameworkPrefixes, "")
		if err != nil {
			return err
		}

		envMode := r.resolveTaskEnvMode(td.Def.EnvMode, td.Def.PassThroughEnv)

		var pkgDir turbopath.AnchoredUnixPath
		var externalDepsHash string
		if pkg := r.pkgs[packageName]; pkg != nil {
			pkgDir = pkg.Dir.ToUnixPath()
			externalDepsHash = pkg.ExternalDepsHash
		}

		h, err := hash.HashTaskHashable(&hash.TaskHashable{
			GlobalHash:           gh,
			TaskDependencyHashes: upHashes,
			PackageDir:           pkgDir,
			HashOfFiles:          hashOfFiles,
			ExternalDepsHash:     externalDepsHash,
			Task:                 taskName,
			Outputs:              td.Def.Outputs,
			PassThruArgs:         r.PassThroughArgs,
			Env:                  td.Def.Env,
			ResolvedEnvVars:      envVars.All.ToHashable(),
			PassThroughEnv:       td.Def.PassThroughEnv,
			EnvMode:              envMode,
			DotEnv:               td.Def.DotEnv,
		})
		if err != nil {
			return err
		}
		engine.Set(ctx, h)
		return nil
	})
}

// TaskHashVc resolves taskHashTask into a typed Vc. Each Read of the
// returned Vc by the visitor (visitor.go) registers the dependency edge the
// engine needs to invalidate this hash the next time any upstream task
// hash, the package's file hashes, or the global hash itself changes.
func (r *Runner) TaskHashVc(packageName, taskName string, globalHash engine.Vc[string], def engine.Vc[*TaskDefinition], packageFiles engine.Vc[map[string]string], upstream []engine.Vc[string]) engine.Vc[string] {
	id := r.taskHashTask(packageName, taskName, globalHash, def, packageFiles, upstream)
	return engine.Vc[string]{Cell: engine.CellId{Task: id, Index: 0}}
}
