package runengine

import (
	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/env"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/fs/hash"
	"github.com/taskmesh/taskmesh/internal/globby"
	"github.com/taskmesh/taskmesh/internal/hashing"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/util"
)

// GlobalCacheKey is the version-bump sentinel folded into every global
// hash. Changing it invalidates every cached artifact at once.
const GlobalCacheKey = "HEY STELLLLLLLAAAAAAAAAAAAA"

// defaultGlobalDeps are hashed into the global hash regardless of the
// configured globalDependencies: changing the root pipeline or the root
// package.json always changes every task's hash.
var defaultGlobalDeps = []string{"package.json", "turbo.json"}

// resolveGlobalEnvMode normalizes Infer: it becomes Strict
// iff any pass-through set is configured, Loose otherwise.
func resolveGlobalEnvMode(mode util.EnvMode, passThroughEnv []string) util.EnvMode {
	if mode != util.Infer && mode != "" {
		return mode
	}
	if passThroughEnv != nil {
		return util.Strict
	}
	return util.Loose
}

// collectGlobalFileHashes globwalks the configured globalDependencies (plus
// the always-hashed defaults and the lockfile) against the repo root and
// hashes every matched file.
func (r *Runner) collectGlobalFileHashes(rootConfig *fs.TurboConfigJSON) (map[turbopath.AnchoredUnixPath]string, error) {
	patterns := append([]string(nil), defaultGlobalDeps...)
	patterns = append(patterns, rootConfig.GlobalDependencies...)
	if r.LockfileName != "" {
		patterns = append(patterns, r.LockfileName)
	}

	absFiles, err := globby.GlobAll(r.RepoRoot, patterns, nil)
	if err != nil {
		return nil, err
	}

	root := turbopath.AbsoluteSystemPath(r.RepoRoot)
	anchored := make([]turbopath.AnchoredSystemPath, 0, len(absFiles))
	for _, raw := range absFiles {
		rel, err := root.RelativePathString(raw)
		if err != nil {
			return nil, err
		}
		anchored = append(anchored, turbopath.AnchoredSystemPathFromUpstream(rel))
	}
	// Directories never contribute to the hash, and a glob may have matched
	// paths that no longer exist; hash only the files still on disk.
	return hashing.GetHashesForExistingFiles(root, anchored)
}

// GlobalHashTask returns the TaskId of the engine task that computes the
// run's global hash: the global cache key, the hashed global
// file dependencies, the root package's external-deps hash, the resolved
// global env contribution, and the global env mode.
func (r *Runner) GlobalHashTask(rootPkg *fs.PackageJSON, rootConfig *fs.TurboConfigJSON) engine.TaskId {
	// A task's identity is its function name plus its serialized arguments
	//: hashing the config inputs into Args means a second call
	// with the same configuration reuses the cached task.
	argsHash, err := fs.HashObject(struct {
		Root     string
		Deps     []string
		EnvNames []string
	}{r.RepoRoot, rootConfig.GlobalDependencies, rootConfig.GlobalEnvVars()})
	if err != nil {
		argsHash = r.RepoRoot
	}
	key := engine.TaskKey{Function: "runengine.GlobalHash", Args: argsHash}
	return r.Eng.Task(key, func(ctx *engine.ExecContext) error {
		fileHashes, err := r.collectGlobalFileHashes(rootConfig)
		if err != nil {
			return err
		}

		envVars, err := env.GetHashableEnvVars(rootConfig.GlobalEnvVars(), []string{".*THASH.*"}, "")
		if err != nil {
			return err
		}

		envMode := resolveGlobalEnvMode(r.GlobalEnvMode, rootConfig.GlobalPassThroughEnv)

		dotEnv := make(turbopath.AnchoredUnixPathArray, 0, len(rootConfig.GlobalDotEnv))
		for _, file := range rootConfig.GlobalDotEnv {
			dotEnv = append(dotEnv, turbopath.AnchoredUnixPath(file))
		}

		h, err := hash.HashGlobalHashable(&hash.GlobalHashable{
			GlobalCacheKey:       GlobalCacheKey,
			GlobalFileHashMap:    fileHashes,
			RootExternalDepsHash: rootPkg.ExternalDepsHash,
			Env:                  rootConfig.GlobalEnvVars(),
			ResolvedEnvVars:      envVars.All.ToHashable(),
			PassThroughEnv:       rootConfig.GlobalPassThroughEnv,
			EnvMode:              envMode,
			FrameworkInference:   r.FrameworkInference,
			DotEnv:               dotEnv,
		})
		if err != nil {
			return err
		}
		engine.Set(ctx, h)
		return nil
	})
}

// GlobalHashVc resolves GlobalHashTask into a typed Vc.
func (r *Runner) GlobalHashVc(rootPkg *fs.PackageJSON, rootConfig *fs.TurboConfigJSON) engine.Vc[string] {
	return engine.Vc[string]{Cell: engine.CellId{Task: r.GlobalHashTask(rootPkg, rootConfig), Index: 0}}
}

// GlobalHashSummaryData re-derives the global hash's file and env inputs
// for the run summary, outside of the engine task so summary construction
// never registers itself as a dependent of the hash cell.
func (r *Runner) GlobalHashSummaryData(rootConfig *fs.TurboConfigJSON) (map[turbopath.AnchoredUnixPath]string, env.DetailedMap, error) {
	fileHashes, err := r.collectGlobalFileHashes(rootConfig)
	if err != nil {
		return nil, env.DetailedMap{}, err
	}
	envVars, err := env.GetHashableEnvVars(rootConfig.GlobalEnvVars(), []string{".*THASH.*"}, "")
	if err != nil {
		return nil, env.DetailedMap{}, err
	}
	return fileHashes, envVars, nil
}
