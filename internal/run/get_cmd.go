package run

import (
	gocontext "context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/taskmesh/taskmesh/internal/cache"
	"github.com/taskmesh/taskmesh/internal/cmdutil"
	"github.com/taskmesh/taskmesh/internal/runcache"
	"github.com/taskmesh/taskmesh/internal/scope"
	"github.com/taskmesh/taskmesh/internal/signals"
	"github.com/taskmesh/taskmesh/internal/util"
)

// GetCmd returns the cobra command for `turbo run`.
func GetCmd(helper *cmdutil.Helper, signalWatcher *signals.Watcher) *cobra.Command {
	var opts *Opts
	var concurrencyRaw string
	var envModeRaw string

	cmd := &cobra.Command{
		Use:                "run <task> [...<task>] [<flags>] -- <args passed to tasks>",
		Short:              "Run tasks across packages in your monorepo",
		DisableFlagParsing: false,
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
			run := &run{
				base:          base,
				opts:          opts,
				signalWatcher: signalWatcher,
			}
			return run.run(ctx, taskNames)
		},
	}

	opts = optsFromFlags(cmd.Flags(), &concurrencyRaw, &envModeRaw)
	return cmd
}

// optsFromFlags registers every run-scoped flag against the command and
// returns the Opts they bind to.
func optsFromFlags(flags *pflag.FlagSet, concurrencyRaw *string, envModeRaw *string) *Opts {
	opts := getDefaultOptions()

	flags.StringVar(concurrencyRaw, "concurrency", "10", "Limit the concurrency of task execution. Use 1 for serial (i.e. one-at-a-time) execution")
	flags.BoolVar(&opts.runOpts.Parallel, "parallel", false, "Execute all tasks in parallel")
	flags.BoolVar(&opts.runOpts.ContinueOnError, "continue", false, "Continue execution even if a task exits with an error or non-zero exit code. The default behavior is to bail")
	flags.BoolVar(&opts.runOpts.SinglePackage, "single-package", false, "Run turbo in single-package mode")
	flags.BoolVar(&opts.runOpts.Only, "only", false, "Run only the specified tasks, not their dependencies")
	flags.StringVar(&opts.runOpts.Profile, "profile", "", "File to write turbo's performance profile output into")
	flags.BoolVar(&opts.runOpts.Summarize, "summarize", false, "Generate a run summary and save it to .turbo/runs")
	flags.BoolVar(&opts.runOpts.FrameworkInference, "framework-inference", true, "Specify whether or not to do framework inference for tasks")
	flags.StringVar(&opts.runOpts.LogPrefix, "log-prefix", "task", `Use "none" to remove prefixes from task logs`)
	flags.StringVar(&opts.runOpts.LogOrder, "log-order", "stream", `Set the ordering of task output: "stream" writes lines as they arrive, "grouped" buffers each task until it completes`)
	flags.StringVar(envModeRaw, "env-mode", string(util.Infer), `Environment variable mode: "loose", "strict", or "infer"`)
	flags.StringVar(&opts.cacheDirRaw, "cache-dir", "", "Override the filesystem cache directory")
	flags.BoolVar(&opts.runOpts.DryRun, "dry", false, "Don't actually run tasks, just report on what would have run")
	flags.BoolVar(&opts.runOpts.DryRun, "dry-run", false, "Alias for --dry")
	flags.BoolVar(&opts.runOpts.DryRunJSONFormat, "dry-json", false, "Report on what would have run, as JSON")
	flags.StringVar(&opts.runOpts.ExperimentalSpaceID, "experimental-space-id", "", "Enable posting run summaries to the given Space")

	cache.AddFlags(&opts.cacheOpts, flags)
	runcache.AddFlags(&opts.runcacheOpts, flags)
	scope.AddFlags(&opts.scopeOpts, flags)
	return opts
}

// resolveRunOptions applies the TURBO_* environment fallbacks
// (CLI > env > config > defaults) and normalizes raw flag values.
func resolveRunOptions(opts *Opts, flags *pflag.FlagSet, concurrencyRaw string, envModeRaw string) error {
	if !flags.Changed("concurrency") {
		if fromEnv := os.Getenv("TURBO_CONCURRENCY"); fromEnv != "" {
			concurrencyRaw = fromEnv
		}
	}
	concurrency, err := util.ParseConcurrency(concurrencyRaw)
	if err != nil {
		return err
	}
	opts.runOpts.Concurrency = concurrency

	if !flags.Changed("env-mode") {
		if fromEnv := os.Getenv("TURBO_ENV_MODE"); fromEnv != "" {
			envModeRaw = fromEnv
		}
	}
	switch util.EnvMode(envModeRaw) {
	case util.Loose, util.Strict, util.Infer:
		opts.runOpts.EnvMode = util.EnvMode(envModeRaw)
	default:
		return fmt.Errorf("invalid value %q for --env-mode", envModeRaw)
	}

	if !flags.Changed("log-order") {
		if fromEnv := os.Getenv("TURBO_LOG_ORDER"); fromEnv != "" {
			opts.runOpts.LogOrder = fromEnv
		}
	}
	if opts.runOpts.LogOrder != "stream" && opts.runOpts.LogOrder != "grouped" {
		return fmt.Errorf("invalid value %q for --log-order", opts.runOpts.LogOrder)
	}

	if !flags.Changed("force") && envIsTruthy("TURBO_FORCE") {
		opts.runcacheOpts.SkipReads = true
	}
	if !flags.Changed("summarize") && envIsTruthy("TURBO_RUN_SUMMARY") {
		opts.runOpts.Summarize = true
	}
	if opts.cacheDirRaw == "" {
		opts.cacheDirRaw = os.Getenv("TURBO_CACHE_DIR")
	}
	if envIsTruthy("TURBO_REMOTE_CACHE_READ_ONLY") {
		opts.cacheOpts.RemoteReadOnly = true
	}

	if opts.runOpts.DryRunJSONFormat {
		opts.runOpts.DryRunJSON = true
	}
	if opts.runOpts.DryRunJSON {
		opts.runOpts.DryRun = true
	}

	return nil
}

func envIsTruthy(key string) bool {
	value := os.Getenv(key)
	return value == "true" || value == "1"
}
