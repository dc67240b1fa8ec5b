package run

import (
	gocontext "context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/taskmesh/taskmesh/internal/cmdutil"
	"github.com/taskmesh/taskmesh/internal/filewatcher"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/packagemanager"
	"github.com/taskmesh/taskmesh/internal/signals"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/util"
)

// _watchDebounce batches bursts of filesystem events (editor saves, git
// checkouts) into a single re-run.
const _watchDebounce = 250 * time.Millisecond

// GetWatchCmd returns the cobra command for `turbo watch`: an initial run,
// followed by re-runs scoped to the packages affected by each batch of
// filesystem changes. Unaffected tasks re-resolve to the same
// hashes and restore from cache.
func GetWatchCmd(helper *cmdutil.Helper, signalWatcher *signals.Watcher) *cobra.Command {
	var opts *Opts
	var concurrencyRaw string
	var envModeRaw string

	cmd := &cobra.Command{
		Use:   "watch <task> [...<task>] [<flags>]",
		Short: "Re-run tasks in your monorepo when files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			taskNames := args
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				taskNames = args[:dash]
				opts.runOpts.PassThroughArgs = append(opts.runOpts.PassThroughArgs, args[dash:]...)
			}
			if len(taskNames) == 0 {
				return &cmdutil.UsageError{Message: "at least one task must be specified"}
			}
			base, err := helper.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}
			if err := resolveRunOptions(opts, cmd.Flags(), concurrencyRaw, envModeRaw); err != nil {
				return &cmdutil.UsageError{Message: err.Error()}
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = gocontext.Background()
			}
			w := &watch{
				run: &run{
					base:          base,
					opts:          opts,
					signalWatcher: signalWatcher,
				},
			}
			return w.watch(ctx, taskNames)
		},
	}

	opts = optsFromFlags(cmd.Flags(), &concurrencyRaw, &envModeRaw)
	return cmd
}

type watch struct {
	run *run

	changedMu sync.Mutex
	changed   map[string]struct{}
}

// OnFileWatchEvent implements filewatcher.FileWatchClient
func (w *watch) OnFileWatchEvent(ev filewatcher.Event) {
	w.changedMu.Lock()
	defer w.changedMu.Unlock()
	w.changed[ev.Path.ToString()] = struct{}{}
}

// OnFileWatchError implements filewatcher.FileWatchClient
func (w *watch) OnFileWatchError(err error) {
	w.run.base.LogWarning("file watching", err)
}

// OnFileWatchClosed implements filewatcher.FileWatchClient
func (w *watch) OnFileWatchClosed() {}

func (w *watch) drainChanged() []string {
	w.changedMu.Lock()
	defer w.changedMu.Unlock()
	if len(w.changed) == 0 {
		return nil
	}
	paths := make([]string, 0, len(w.changed))
	for path := range w.changed {
		paths = append(paths, path)
	}
	w.changed = make(map[string]struct{})
	sort.Strings(paths)
	return paths
}

func (w *watch) watch(ctx gocontext.Context, taskNames []string) error {
	base := w.run.base
	w.changed = make(map[string]struct{})

	// The initial run establishes the memoized hashes every re-run
	// compares against.
	if err := w.run.run(ctx, taskNames); err != nil {
		base.LogWarning("initial run failed", err)
	}

	backend, err := filewatcher.GetPlatformSpecificBackend(base.Logger)
	if err != nil {
		return err
	}
	watcher := filewatcher.New(base.Logger.Named("FileWatcher"), base.RepoRoot, backend)
	watcher.AddClient(w)
	if err := watcher.Start(); err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	base.UI.Output("")
	base.UI.Info(fmt.Sprintf("Watching %v for changes...", base.RepoRoot))

	ticker := time.NewTicker(_watchDebounce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.run.signalWatcher.Done():
			return nil
		case <-ticker.C:
			changed := w.drainChanged()
			if len(changed) == 0 {
				continue
			}
			affected, runAll := w.classifyChanges(changed)
			if !runAll && len(affected) == 0 {
				continue
			}
			rerunOpts := *w.run.opts
			rerunOpts.scopeOpts.FilterPatterns = nil
			if !runAll {
				for _, pkg := range affected {
					// dependents of a changed package re-run as well
					rerunOpts.scopeOpts.FilterPatterns = append(rerunOpts.scopeOpts.FilterPatterns, "..."+pkg)
				}
			}
			rerun := &run{base: base, opts: &rerunOpts, signalWatcher: w.run.signalWatcher}
			if err := rerun.run(ctx, taskNames); err != nil {
				base.LogWarning("re-run failed", err)
			}
		}
	}
}

// classifyChanges maps changed absolute paths onto package names per spec
// 4.10: a change under the most specific workspace directory affects that
// workspace; a change to a global dependency, the lockfile, or any file
// outside every workspace conservatively affects all packages.
func (w *watch) classifyChanges(changedPaths []string) ([]string, bool) {
	base := w.run.base

	rootPackageJSON, err := fs.ReadPackageJSON(base.RepoRoot.UntypedJoin("package.json"))
	if err != nil {
		return nil, true
	}
	pkgs, err := discoverWorkspaceDirs(base.RepoRoot, rootPackageJSON)
	if err != nil {
		return nil, true
	}

	affected := make(util.Set)
	for _, raw := range changedPaths {
		rel, err := base.RepoRoot.RelativePathString(raw)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if strings.HasPrefix(rel, ".turbo"+string(filepath.Separator)) || rel == ".turbo" {
			// our own bookkeeping; never a reason to re-run
			continue
		}
		pkgName := mostSpecificPackage(rel, pkgs)
		if pkgName == "" {
			// Outside every workspace: global-dependency territory.
			return nil, true
		}
		affected.Add(pkgName)
	}
	names := affected.UnsafeListOfStrings()
	sort.Strings(names)
	return names, false
}

// discoverWorkspaceDirs returns package name -> repo-relative directory for
// every workspace, using the same package-manager workspace globs the full
// package graph build uses.
func discoverWorkspaceDirs(repoRoot turbopath.AbsoluteSystemPath, rootPackageJSON *fs.PackageJSON) (map[string]string, error) {
	pm, err := packagemanager.GetPackageManager(repoRoot, rootPackageJSON)
	if err != nil {
		return nil, err
	}
	workspaces, err := pm.GetWorkspaces(repoRoot)
	if err != nil {
		return nil, err
	}
	dirs := make(map[string]string, len(workspaces))
	for _, pkgJSONPath := range workspaces {
		pkg, err := fs.ReadPackageJSON(turbopath.AbsoluteSystemPathFromUpstream(pkgJSONPath))
		if err != nil || pkg.Name == "" {
			continue
		}
		dir, err := turbopath.AbsoluteSystemPath(filepath.Dir(pkgJSONPath)).RelativeTo(repoRoot)
		if err != nil {
			continue
		}
		dirs[pkg.Name] = dir.ToString()
	}
	return dirs, nil
}

func mostSpecificPackage(rel string, pkgs map[string]string) string {
	best := ""
	bestLen := -1
	for name, dir := range pkgs {
		if dir == "" {
			continue
		}
		prefix := dir + string(filepath.Separator)
		if (rel == dir || strings.HasPrefix(rel, prefix)) && len(dir) > bestLen {
			best = name
			bestLen = len(dir)
		}
	}
	return best
}

var _ filewatcher.FileWatchClient = (*watch)(nil)
