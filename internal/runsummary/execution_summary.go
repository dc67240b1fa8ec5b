package runsummary

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/chrometracing"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/turbopath"

	"github.com/mitchellh/cli"
)

// executionEvent represents a single event in the build process, i.e. a target starting or finishing
// building, or reaching some milestone within those steps.
type executionEvent struct {
	// Timestamp of this event
	Time time.Time
	// Duration of this event
	Duration time.Duration
	// Target which has just changed
	Label string
	// Its current status
	Status executionEventName
	// Error, only populated for failure statuses
	Err error
	// The exit code of the process
	exitCode *int
}

// executionEventName represents the status of a target when we log a build result.
type executionEventName int

// The collection of expected build result statuses.
const (
	targetBuilding executionEventName = iota
	// TargetBuildStopped is set when a target did not run because of an upstream failure
	TargetBuildStopped
	// TargetBuilt is set when a target ran its command to completion
	TargetBuilt
	// TargetCached is set when a target was restored from the task cache
	TargetCached
	// TargetBuildFailed is set when a target's command exited nonzero
	TargetBuildFailed
)

func (en executionEventName) toString() string {
	switch en {
	case targetBuilding:
		return "building"
	case TargetBuildStopped:
		return "buildStopped"
	case TargetBuilt:
		return "built"
	case TargetCached:
		return "cached"
	case TargetBuildFailed:
		return "buildFailed"
	}

	return ""
}

// TaskExecutionSummary contains data about the state of a single task in a turbo run.
// Some fields are updated over time as the task prepares to execute and finishes execution.
type TaskExecutionSummary struct {
	startAt time.Time

	// Duration of the task run
	Duration time.Duration

	status   executionEventName
	err      error
	exitCode *int
}

func (ts *TaskExecutionSummary) endTime() time.Time {
	return ts.startAt.Add(ts.Duration)
}

// MarshalJSON munges the TaskExecutionSummary into a format we want
// We'll use an anonmyous, private struct for this, so it's not confusingly duplicated.
func (ts *TaskExecutionSummary) MarshalJSON() ([]byte, error) {
	serializable := struct {
		Start    int64  `json:"startTime"`
		End      int64  `json:"endTime"`
		Status   string `json:"status"`
		Err      string `json:"error,omitempty"`
		ExitCode *int   `json:"exitCode"`
	}{
		Start:    ts.startAt.UnixMilli(),
		End:      ts.endTime().UnixMilli(),
		Status:   ts.status.toString(),
		ExitCode: ts.exitCode,
	}
	if ts.err != nil {
		serializable.Err = ts.err.Error()
	}

	return json.Marshal(&serializable)
}

// executionSummary is the state of the entire `turbo run`. Individual task state in `Tasks` field
type executionSummary struct {
	// a synthesized turbo command to produce this invocation
	command string
	// the (possibly empty) path from the turborepo root to where the command was run
	repoPath turbopath.RelativeSystemPath

	mu      sync.Mutex
	state   map[string]*TaskExecutionSummary
	success int
	failure int
	cached  int

	attempted int

	startedAt time.Time
	endedAt   time.Time
	exitCode  int

	profileFilename string
}

// MarshalJSON munges the executionSummary into a format we want
func (es *executionSummary) MarshalJSON() ([]byte, error) {
	serializable := struct {
		Command   string `json:"command"`
		RepoPath  string `json:"repoPath"`
		Success   int    `json:"success"`
		Failure   int    `json:"failed"`
		Cached    int    `json:"cached"`
		Attempted int    `json:"attempted"`
		Start     int64  `json:"startTime"`
		End       int64  `json:"endTime"`
		ExitCode  int    `json:"exitCode"`
	}{
		Command:   es.command,
		RepoPath:  es.repoPath.ToString(),
		Success:   es.success,
		Failure:   es.failure,
		Cached:    es.cached,
		Attempted: es.attempted,
		Start:     es.startedAt.UnixMilli(),
		End:       es.endedAt.UnixMilli(),
		ExitCode:  es.exitCode,
	}

	return json.Marshal(&serializable)
}

// newExecutionSummary creates an executionSummary instance to track events in a `turbo run`.`
func newExecutionSummary(command string, repoPath turbopath.RelativeSystemPath, start time.Time, tracingProfile string) *executionSummary {
	if tracingProfile != "" {
		chrometracing.EnableTracing()
	}

	return &executionSummary{
		command:         command,
		repoPath:        repoPath,
		success:         0,
		failure:         0,
		cached:          0,
		attempted:       0,
		state:           make(map[string]*TaskExecutionSummary),
		startedAt:       start,
		profileFilename: tracingProfile,
	}
}

// run starts the Execution of a single task. It returns a function that can
// be used to update the state of a given taskID with the executionEventName enum
func (es *executionSummary) run(taskID string) (func(outcome executionEventName, err error, exitCode *int), *TaskExecutionSummary) {
	start := time.Now()
	taskExecutionSummary := es.add(&executionEvent{
		Time:   start,
		Label:  taskID,
		Status: targetBuilding,
	})

	tracer := chrometracing.Event(taskID)

	// This function can be called with an enum and an optional error to update
	// the state of a given taskID.
	tracerFn := func(outcome executionEventName, err error, exitCode *int) {
		defer tracer.Done()
		now := time.Now()
		result := &executionEvent{
			Time:     now,
			Duration: now.Sub(start),
			Label:    taskID,
			Status:   outcome,
			exitCode: exitCode,
		}
		if err != nil {
			result.Err = fmt.Errorf("running %v failed: %w", taskID, err)
		}
		// Ignore the return value here
		es.add(result)
	}

	return tracerFn, taskExecutionSummary
}

func (es *executionSummary) add(result *executionEvent) *TaskExecutionSummary {
	es.mu.Lock()
	defer es.mu.Unlock()
	if s, ok := es.state[result.Label]; ok {
		s.status = result.Status
		s.err = result.Err
		s.Duration = result.Duration
		s.exitCode = result.exitCode
	} else {
		es.state[result.Label] = &TaskExecutionSummary{
			startAt:  result.Time,
			status:   result.Status,
			err:      result.Err,
			Duration: result.Duration,
			exitCode: result.exitCode,
		}
	}
	switch {
	case result.Status == TargetBuildFailed:
		es.failure++
		es.attempted++
	case result.Status == TargetCached:
		es.cached++
		es.attempted++
	case result.Status == TargetBuilt:
		es.success++
		es.attempted++
	}

	return es.state[result.Label]
}

// writeChrometracing writes to a profile name if the `--profile` flag was passed to turbo run
func writeChrometracing(filename string, terminal cli.Ui) error {
	outputPath := chrometracing.Path()
	if outputPath == "" {
		// tracing wasn't enabled
		return nil
	}

	name := fmt.Sprintf("turbo-%s.trace", time.Now().Format(time.RFC3339))
	if filename != "" {
		name = filename
	}
	if err := chrometracing.Close(); err != nil {
		terminal.Warn(fmt.Sprintf("Failed to flush tracing data: %v", err))
	}
	root, err := fs.GetCwd()
	if err != nil {
		return err
	}
	// chrometracing.Path() is absolute by default, but can still be relative if overridden via $CHROMETRACING_DIR
	// so we have to account for that before converting to turbopath.AbsoluteSystemPath
	if err := fs.CopyFile(&fs.LstatCachedFile{Path: fs.ResolveUnknownPath(root, outputPath)}, name); err != nil {
		return err
	}
	return nil
}
