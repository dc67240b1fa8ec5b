package runengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/taskmesh/taskmesh/internal/cache"
	"github.com/taskmesh/taskmesh/internal/colorcache"
	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/nodes"
	"github.com/taskmesh/taskmesh/internal/runcache"
	"github.com/taskmesh/taskmesh/internal/util"
)

// ExecResult reports how a (package, task) execution was satisfied.
type ExecResult struct {
	Hash       string
	Hit        bool
	CacheState cache.ItemStatus
	DurationMS int
	Log        []byte
}

// LogOrderStream and LogOrderGrouped select how task output reaches the
// terminal: streamed line-by-line with a task prefix, or
// buffered per task and written under one banner when the task completes.
const (
	LogOrderStream  = "stream"
	LogOrderGrouped = "grouped"
)

// Executor owns the run-scoped pieces the per-task engine bodies share:
// the run cache (restore, log capture, write-through), the terminal, and
// the output-ordering policy.
type Executor struct {
	RunCache *runcache.RunCache
	// Cache is the underlying two-tier cache, consulted directly for
	// hit-source metadata that RunCache's restore path doesn't surface.
	Cache           cache.Cache
	UI              cli.Ui
	Logger          hclog.Logger
	ColorCache      *colorcache.ColorCache
	Ctx             context.Context
	LogOrder        string
	IsGithubActions bool
	SinglePackage   bool

	// groupedMu serializes grouped-mode output so two finishing tasks
	// never interleave their banners.
	groupedMu sync.Mutex
}

func (ex *Executor) prefixedUI(prefix string) *cli.PrefixedUi {
	colored := prefix
	if ex.ColorCache != nil && prefix != "" {
		colored = ex.ColorCache.PrefixWithColor(prefix, prefix)
	}
	if colored != "" {
		colored = colored + ": "
	}
	return &cli.PrefixedUi{
		Ui:           ex.UI,
		OutputPrefix: colored,
		InfoPrefix:   colored,
		ErrorPrefix:  colored,
		WarnPrefix:   colored,
	}
}

// childEnv computes the environment for a task's child process per the
// resolved env mode: loose passes everything through, strict
// restricts the child to the declared env, the pass-through sets, a
// fixed set of system defaults, and any TURBO_* variable.
func childEnv(def *TaskDefinition, globalEnv []string, globalPassThrough []string, mode util.EnvMode) []string {
	if mode != util.Strict {
		return os.Environ()
	}

	allowed := map[string]bool{
		"PATH":         true,
		"HOME":         true,
		"SHELL":        true,
		"USER":         true,
		"TZ":           true,
		"LANG":         true,
		"TMPDIR":       true,
		"CI":           true,
		"NODE_ENV":     true,
		"COLORTERM":    true,
		"TERM":         true,
		"TERM_PROGRAM": true,
	}
	for _, lists := range [][]string{def.Def.Env, def.Def.PassThroughEnv, globalEnv, globalPassThrough} {
		for _, name := range lists {
			allowed[name] = true
		}
	}

	env := make([]string, 0, len(allowed))
	for _, pair := range os.Environ() {
		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}
		if allowed[name] || strings.HasPrefix(name, "TURBO_") {
			env = append(env, pair)
		}
	}
	return env
}

// ExecuteTaskTask returns the TaskId of the engine task that makes one
// (package, task) pair's cache-or-run decision. upstream holds
// the ExecResult Vcs of every task this one dependsOn (same-package and
// topological ^task edges alike). Reading them before doing anything else
// is what makes the ordering guarantee ("if T2 dependsOn T1, T1's
// process exit is observed before T2's process is spawned") hold: the
// engine will not let this task's body proceed past the read until each
// upstream ExecuteTask has reached Done, the same dependency-tracking
// mechanism that orders hash computation, reused here for process
// ordering rather than bolted on as a separate wait group.
func (r *Runner) ExecuteTaskTask(pt *nodes.PackageTask, def *TaskDefinition, hashVc engine.Vc[string], command *exec.Cmd, ex *Executor, upstream []engine.Vc[ExecResult]) engine.TaskId {
	key := engine.TaskKey{Function: "runengine.ExecuteTask", Args: pt.TaskID}
	return r.Eng.Task(key, func(taskCtx *engine.ExecContext) error {
		for _, u := range upstream {
			if _, err := engine.ReadIn(taskCtx, u); err != nil {
				return fmt.Errorf("runengine: upstream task for %s failed: %w", pt.TaskID, err)
			}
		}

		hash, err := engine.ReadIn(taskCtx, hashVc)
		if err != nil {
			return err
		}

		ctx := ex.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		logger := ex.Logger
		if logger == nil {
			logger = hclog.NewNullLogger()
		}

		taskCopy := *pt
		taskCopy.Hash = hash
		prefix := taskCopy.OutputPrefix(ex.SinglePackage)
		prefixedUI := ex.prefixedUI(prefix)
		tc := ex.RunCache.TaskCache(&taskCopy, hash)

		hit, err := tc.RestoreOutputs(ctx, prefixedUI, logger)
		if err != nil {
			return fmt.Errorf("runengine: restoring cached output for %s: %w", pt.TaskID, err)
		}
		if hit {
			status := ex.Cache.Exists(hash)
			engine.Set(taskCtx, ExecResult{Hash: hash, Hit: true, CacheState: status})
			return nil
		}

		var logBuffer bytes.Buffer
		var writer io.WriteCloser
		grouped := ex.LogOrder == LogOrderGrouped
		if grouped {
			// Grouped mode holds the task's output until completion; the
			// cache log file is written through the same OutputWriter at
			// flush time so the captured log matches the streamed bytes.
			writer = nil
		} else {
			writer, err = tc.OutputWriter(prefixedUI.OutputPrefix)
			if err != nil {
				return fmt.Errorf("runengine: opening output for %s: %w", pt.TaskID, err)
			}
		}

		mode := r.resolveTaskEnvMode(def.Def.EnvMode, def.Def.PassThroughEnv)
		command.Env = childEnv(def, r.GlobalEnv, r.GlobalPassThroughEnv, mode)

		if grouped {
			command.Stdout = &logBuffer
			command.Stderr = &logBuffer
		} else {
			out := io.MultiWriter(writer, &logBuffer)
			command.Stdout = out
			command.Stderr = out
		}

		start := timeNow()
		runErr := command.Run()
		duration := int(timeNow().Sub(start) / time.Millisecond)

		if grouped {
			ex.flushGrouped(tc, prefix, prefixedUI.OutputPrefix, logBuffer.Bytes())
		} else if closeErr := writer.Close(); closeErr != nil && runErr == nil {
			runErr = closeErr
		}

		res := ExecResult{Hash: hash, Hit: false, DurationMS: duration, Log: logBuffer.Bytes()}
		if runErr != nil {
			engine.Set(taskCtx, res)
			return fmt.Errorf("runengine: task %s failed: %w", pt.TaskID, runErr)
		}

		if err := tc.SaveOutputs(ctx, logger, prefixedUI.Ui, duration); err != nil {
			return fmt.Errorf("runengine: caching %s: %w", pt.TaskID, err)
		}
		engine.Set(taskCtx, res)
		return nil
	})
}

// flushGrouped writes one task's buffered output under a single banner,
// serialized so concurrent finishers never interleave. On
// GitHub Actions the banner doubles as a log group marker.
func (ex *Executor) flushGrouped(tc runcache.TaskCache, label string, prefix string, output []byte) {
	ex.groupedMu.Lock()
	defer ex.groupedMu.Unlock()

	if ex.IsGithubActions {
		ex.UI.Output(fmt.Sprintf("::group::%s", label))
	} else {
		ex.UI.Output(fmt.Sprintf("---------- %s ----------", label))
	}
	writer, err := tc.OutputWriter(prefix)
	if err != nil {
		ex.UI.Error(fmt.Sprintf("%s: opening output writer: %v", label, err))
		return
	}
	if _, err := writer.Write(output); err != nil {
		ex.UI.Error(fmt.Sprintf("%s: writing output: %v", label, err))
	}
	if err := writer.Close(); err != nil {
		ex.UI.Error(fmt.Sprintf("%s: closing output: %v", label, err))
	}
	if ex.IsGithubActions {
		ex.UI.Output("::endgroup::")
	}
}

// ExecuteTaskVc resolves ExecuteTaskTask into a typed Vc, for composing
// downstream tasks' upstream lists.
func (r *Runner) ExecuteTaskVc(pt *nodes.PackageTask, def *TaskDefinition, hashVc engine.Vc[string], command *exec.Cmd, ex *Executor, upstream []engine.Vc[ExecResult]) engine.Vc[ExecResult] {
	id := r.ExecuteTaskTask(pt, def, hashVc, command, ex, upstream)
	return engine.Vc[ExecResult]{Cell: engine.CellId{Task: id, Index: 0}}
}

// timeNow is a package-level indirection so tests can fake durations
// without depending on wall-clock time inside an engine task body, the same
// discipline applied across this module (no bare time.Now()/
// rand.Int() calls that would make a memoized task's identity nondeterministic
// across re-runs of a resumed build).
var timeNow = time.Now
