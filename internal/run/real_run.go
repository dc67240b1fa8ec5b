package run

import (
	gocontext "context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/taskmesh/taskmesh/internal/analytics"
	"github.com/taskmesh/taskmesh/internal/cache"
	"github.com/taskmesh/taskmesh/internal/ci"
	"github.com/taskmesh/taskmesh/internal/cmdutil"
	"github.com/taskmesh/taskmesh/internal/colorcache"
	"github.com/taskmesh/taskmesh/internal/context"
	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/process"
	"github.com/taskmesh/taskmesh/internal/runcache"
	"github.com/taskmesh/taskmesh/internal/runengine"
	"github.com/taskmesh/taskmesh/internal/runsummary"
	"github.com/taskmesh/taskmesh/internal/scm"
	"github.com/taskmesh/taskmesh/internal/scope"
	"github.com/taskmesh/taskmesh/internal/signals"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/ui"
	"github.com/taskmesh/taskmesh/internal/util"
	"github.com/taskmesh/taskmesh/internal/workspace"
)

// _recursiveTurbo matches a package.json script that invokes turbo itself,
// which would fork-bomb the orchestrator.
var _recursiveTurbo = regexp.MustCompile(`(?:^|\s)turbo(?:$|\s)`)

// run holds everything one `turbo run` invocation needs.
type run struct {
	base          *cmdutil.CmdBase
	opts          *Opts
	signalWatcher *signals.Watcher
}

func (r *run) run(ctx gocontext.Context, taskNames []string) error {
	base := r.base
	opts := r.opts
	startAt := time.Now()

	rootPackageJSON, err := fs.ReadPackageJSON(base.RepoRoot.UntypedJoin("package.json"))
	if err != nil {
		return fmt.Errorf("failed to read package.json: %w", err)
	}

	var pkgDepGraph *context.Context
	if opts.runOpts.SinglePackage {
		pkgDepGraph, err = context.SinglePackageGraph(base.RepoRoot, rootPackageJSON)
	} else {
		pkgDepGraph, err = context.BuildPackageGraph(base.RepoRoot, rootPackageJSON)
	}
	if err != nil {
		var warnings *context.Warnings
		if errors.As(err, &warnings) {
			base.LogWarning("unable to calculate transitive closures", err)
		} else {
			return fmt.Errorf("invalid package dependency graph: %w", err)
		}
	}

	rootTurboJSON, err := fs.LoadTurboConfig(base.RepoRoot, rootPackageJSON, opts.runOpts.SinglePackage)
	if err != nil {
		return &cmdutil.UsageError{Message: err.Error()}
	}

	// Guard against infinite recursion: a root task whose script invokes
	// turbo itself would re-enter this same code path forever.
	for _, taskName := range taskNames {
		if script, ok := rootPackageJSON.Scripts[taskName]; ok && _recursiveTurbo.MatchString(script) {
			return fmt.Errorf("root task %q (%v) looks like it invokes turbo and might cause a loop", taskName, script)
		}
	}

	workspaceConfigs := make(map[string]*fs.TurboConfigJSON)
	allowNonRootExtends := rootTurboJSON.FutureFlags["nonRootExtends"]
	for name, pkg := range pkgDepGraph.WorkspaceInfos.PackageJSONs {
		if name == util.RootPkgName {
			continue
		}
		workspaceConfig, err := fs.LoadWorkspaceTurboConfig(pkg.Dir.RestoreAnchor(base.RepoRoot), allowNonRootExtends)
		if err != nil {
			return &cmdutil.UsageError{Message: err.Error()}
		}
		if workspaceConfig != nil {
			workspaceConfigs[name] = workspaceConfig
			pkgDepGraph.WorkspaceInfos.TurboConfigs[name] = workspaceConfig
		}
	}

	scmInstance, err := scm.FromInRepo(base.RepoRoot)
	if err != nil {
		if errors.Is(err, scm.ErrFallback) {
			base.LogWarning("", err)
		} else {
			return errors.Wrap(err, "failed to create SCM")
		}
	}

	filteredPkgs, isAllPackages, err := scope.ResolvePackages(&opts.scopeOpts, base.RepoRoot, scmInstance, pkgDepGraph, base.UI, base.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to resolve packages to run")
	}
	if isAllPackages {
		// if there is a root task for any of our targets, we need to add it
		for _, target := range taskNames {
			if _, ok := rootPackageJSON.Scripts[target]; ok {
				filteredPkgs.Add(util.RootPkgName)
				base.UI.Warn(fmt.Sprintf("Using %v as a basis for task execution. The root workspace will also run.", util.RootPkgName))
				break
			}
		}
	}

	if opts.runOpts.SinglePackage {
		base.UI.Output(fmt.Sprintf("%s %s", ui.Dim("• Running"), ui.Dim(ui.Bold(strings.Join(taskNames, ", ")))))
	} else {
		scopeList := filteredPkgs.UnsafeListOfStrings()
		sort.Strings(scopeList)
		base.UI.Output(fmt.Sprintf(ui.Dim("• Packages in scope: %v"), strings.Join(scopeList, ", ")))
		base.UI.Output(fmt.Sprintf("%s %s %s", ui.Dim("• Running"), ui.Dim(ui.Bold(strings.Join(taskNames, ", "))), ui.Dim(fmt.Sprintf("in %v packages", filteredPkgs.Len()))))
	}

	// Cache: local filesystem tier plus the remote tier when the repo is
	// linked, with analytics events recorded against the remote API.
	var analyticsSink analytics.Sink
	if base.APIClient.IsLinked() {
		analyticsSink = base.APIClient
	} else {
		analyticsSink = analytics.NullSink
		opts.cacheOpts.SkipRemote = true
	}
	analyticsClient := analytics.NewClient(ctx, analyticsSink, base.Logger.Named("analytics"))
	defer analyticsClient.CloseWithTimeout(50 * time.Millisecond)

	if opts.cacheDirRaw != "" {
		opts.cacheOpts.Dir = fs.ResolveUnknownPath(base.RepoRoot, opts.cacheDirRaw)
	}
	opts.cacheOpts.RemoteCacheOpts = rootTurboJSON.RemoteCacheOptions
	if envIsTruthy("TURBO_SIGNATURE") {
		opts.cacheOpts.RemoteCacheOpts.Signature = true
	}

	turboCache, err := cache.New(opts.cacheOpts, base.RepoRoot, base.APIClient, analyticsClient, func(_cache cache.Cache, err error) {
		base.LogWarning("Remote Caching is unavailable", err)
	})
	if err != nil {
		if errors.Is(err, cache.ErrNoCachesEnabled) {
			base.LogWarning("No caches are enabled. You can try \"turbo login\"", err)
		} else {
			return errors.Wrap(err, "failed to set up caching")
		}
	}
	defer turboCache.Shutdown()

	if opts.cacheOpts.SkipRemote {
		base.UI.Info(ui.Dim("• Remote caching disabled"))
	} else {
		base.UI.Info(ui.Dim("• Remote caching enabled"))
	}

	processes := process.NewManager(base.Logger.Named("processes"))
	if r.signalWatcher != nil {
		r.signalWatcher.AddOnClose(processes.Close)
	}

	// Build the plan: package graph, task definitions, and hashes, all as
	// memoized engine tasks.
	eng := engine.New(opts.runOpts.Concurrency)
	runner := runengine.NewRunner(eng, base.RepoRoot.ToString(), pkgDepGraph.WorkspaceInfos.PackageJSONs, workspaceConfigs)
	runner.FrameworkInference = opts.runOpts.FrameworkInference
	runner.GlobalEnvMode = opts.runOpts.EnvMode
	runner.GlobalEnv = rootTurboJSON.GlobalEnvVars()
	runner.GlobalPassThroughEnv = rootTurboJSON.GlobalPassThroughEnv
	runner.PassThroughArgs = opts.runOpts.PassThroughArgs
	if pkgDepGraph.PackageManager != nil {
		runner.LockfileName = pkgDepGraph.PackageManager.Lockfile
	}

	pkgGraph, err := engine.ReadUntracked(eng, runner.PackageGraphVc())
	if err != nil {
		return errors.Wrap(err, "failed to resolve package graph")
	}

	globalHashVc := runner.GlobalHashVc(rootPackageJSON, rootTurboJSON)
	visitor := runengine.NewVisitor(runner, pkgGraph, rootTurboJSON)
	plan, err := visitor.Build(globalHashVc, filteredPkgs.UnsafeListOfStrings(), taskNames)
	if err != nil {
		return errors.Wrap(err, "failed to build task plan")
	}

	// Run summary scaffolding: the summary collects per-task
	// results and is written to .turbo/runs when --summarize is set.
	globalFileHashes, globalEnvVars, err := runner.GlobalHashSummaryData(rootTurboJSON)
	if err != nil {
		return errors.Wrap(err, "failed to hash global dependencies")
	}
	globalHashSummary := runsummary.NewGlobalHashSummary(
		globalFileHashes,
		rootPackageJSON.ExternalDepsHash,
		globalEnvVars,
		nil,
		runengine.GlobalCacheKey,
		rootTurboJSON.TaskMap(),
	)
	summary := runsummary.NewRunSummary(
		startAt,
		base.UI,
		base.RepoRoot,
		turbopath.RelativeSystemPath(""),
		base.TurboVersion,
		base.APIClient,
		opts.runOpts,
		filteredPkgs.UnsafeListOfStrings(),
		opts.runOpts.EnvMode,
		globalHashSummary,
		opts.SynthesizeCommand(taskNames),
	)

	if opts.runOpts.DryRun {
		return r.dryRun(ctx, &summary, plan, pkgGraph, eng)
	}

	pmCommand := ""
	if pkgDepGraph.PackageManager != nil {
		pmCommand = pkgDepGraph.PackageManager.Command
	}
	exitCode := r.executePlan(ctx, eng, visitor, plan, pkgGraph, pmCommand, turboCache, &summary)

	if err := summary.Close(ctx, exitCode, pkgDepGraph.WorkspaceInfos); err != nil {
		base.LogWarning("Error with run summary", err)
	}

	if exitCode != 0 {
		return &process.ChildExit{ExitCode: exitCode}
	}
	return nil
}

// executePlan turns the plan into ExecuteTask engine tasks and drives them
// to completion, reporting each task's outcome into the run summary.
func (r *run) executePlan(ctx gocontext.Context, eng *engine.Engine, visitor *runengine.Visitor, plan *runengine.Plan, pkgGraph *runengine.PackageGraph, pmCommand string, turboCache cache.Cache, summary *runsummary.Meta) int {
	base := r.base
	opts := r.opts

	rc := runcache.New(turboCache, base.RepoRoot, opts.runcacheOpts, colorcache.New())
	executor := &runengine.Executor{
		RunCache:        rc,
		Cache:           turboCache,
		UI:              base.UI,
		Logger:          base.Logger.Named("exec"),
		ColorCache:      colorcache.New(),
		Ctx:             ctx,
		LogOrder:        opts.runOpts.LogOrder,
		IsGithubActions: ci.Info().Name == "GitHub Actions",
		SinglePackage:   opts.runOpts.SinglePackage,
	}

	newCommand := func(pkgName, taskName string) *exec.Cmd {
		pkg := pkgGraph.Packages[pkgName]
		if pkg == nil || pkg.Scripts[taskName] == "" {
			// No script in this package for this task: run a no-op rather
			// than leave the engine task a nil *exec.Cmd to call Run() on.
			return exec.CommandContext(ctx, "true")
		}
		pm := pmCommand
		if pm == "" {
			pm = "npm"
		}
		args := append([]string{"run", taskName}, r.opts.runOpts.PassThroughArgs...)
		cmd := exec.CommandContext(ctx, pm, args...)
		cmd.Dir = pkg.Dir.RestoreAnchor(base.RepoRoot).ToString()
		return cmd
	}

	execVcs := visitor.BuildExec(plan, executor, newCommand)

	ids := make([]engine.TaskId, 0, len(execVcs))
	for _, vc := range execVcs {
		ids = append(ids, vc.Cell.Task)
	}
	spawnErr := eng.SpawnAll(ctx, ids)

	exitCode := 0
	for _, taskID := range plan.Order {
		tracer, _ := summary.RunSummary.TrackTask(taskID)
		taskSummary := r.taskSummary(plan, pkgGraph, taskID)

		res, readErr := engine.ReadUntracked(eng, execVcs[taskID])
		switch {
		case readErr != nil:
			taskExitCode := 1
			verificationErr := &cache.VerificationError{}
			if errors.As(readErr, &verificationErr) {
				taskExitCode = 3
			}
			var exit *process.ChildExit
			if asChildExit(readErr, &exit) {
				taskExitCode = absInt(exit.ExitCode)
			}
			tracer(runsummary.TargetBuildFailed, readErr, &taskExitCode)
			base.UI.Error(fmt.Sprintf("%s: %s", taskID, readErr))
			if exitCode == 0 {
				exitCode = taskExitCode
			}
		case res.Hit:
			zero := 0
			taskSummary.Hash = res.Hash
			taskSummary.CacheState = res.CacheState
			tracer(runsummary.TargetCached, nil, &zero)
		default:
			zero := 0
			taskSummary.Hash = res.Hash
			tracer(runsummary.TargetBuilt, nil, &zero)
		}
		summary.RunSummary.Tasks = append(summary.RunSummary.Tasks, taskSummary)
	}

	if spawnErr != nil && exitCode == 0 {
		exitCode = 1
		base.UI.Error(spawnErr.Error())
	}
	return exitCode
}

// dryRun resolves every task's hash without executing anything, then
// renders the summary in text or JSON form.
func (r *run) dryRun(ctx gocontext.Context, summary *runsummary.Meta, plan *runengine.Plan, pkgGraph *runengine.PackageGraph, eng *engine.Engine) error {
	ids := make([]engine.TaskId, 0, len(plan.HashVcs))
	for _, vc := range plan.HashVcs {
		ids = append(ids, vc.Cell.Task)
	}
	if err := eng.SpawnAll(ctx, ids); err != nil {
		return err
	}
	for _, taskID := range plan.Order {
		taskSummary := r.taskSummary(plan, pkgGraph, taskID)
		if hash, err := engine.ReadUntracked(eng, plan.HashVcs[taskID]); err == nil {
			taskSummary.Hash = hash
		}
		summary.RunSummary.Tasks = append(summary.RunSummary.Tasks, taskSummary)
	}
	return summary.Close(ctx, 0, workspace.Catalog{PackageJSONs: pkgGraph.Packages})
}

// taskSummary builds the static portion of one task's summary entry.
func (r *run) taskSummary(plan *runengine.Plan, pkgGraph *runengine.PackageGraph, taskID string) *runsummary.TaskSummary {
	pkgName, taskName := util.GetPackageTaskFromId(taskID)
	def := plan.Defs[taskID]
	taskSummary := &runsummary.TaskSummary{
		TaskID:       taskID,
		Task:         taskName,
		Package:      pkgName,
		Dependencies: plan.Deps[taskID],
	}
	if pkg := pkgGraph.Packages[pkgName]; pkg != nil {
		taskSummary.Dir = pkg.Dir.ToString()
		taskSummary.Command = pkg.Scripts[taskName]
	}
	if taskSummary.Command == "" {
		taskSummary.Command = runsummary.MissingTaskLabel
	}
	if def != nil {
		taskSummary.ResolvedTaskDefinition = def.Def
		taskSummary.Outputs = def.Def.Outputs.Inclusions
		taskSummary.ExcludedOutputs = def.Def.Outputs.Exclusions
		taskSummary.EnvVars = runsummary.TaskEnvVarSummary{Configured: def.Def.Env}
		taskSummary.LogFile = fmt.Sprintf("%s/.turbo/turbo-%s.log", taskSummary.Dir, taskName)
	}
	taskSummary.Framework = runsummary.MissingFrameworkLabel
	return taskSummary
}

func asChildExit(err error, target **process.ChildExit) bool {
	for err != nil {
		if ce, ok := err.(*process.ChildExit); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
