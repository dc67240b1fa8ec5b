package runsummary

import (
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/ci"
	"github.com/taskmesh/taskmesh/internal/util"
)

type spacesRunResponse struct {
	ID  string
	URL string
}

type spacesRunPayload struct {
	// StartTime is when this run was started
	StartTime int64 `json:"startTime,omitempty"`

	// EndTime is when this run ended. We will never be submitting start and endtime at the same time.
	EndTime int64 `json:"endTime,omitempty"`

	// Status is "running" or "completed"
	Status string `json:"status,omitempty"`

	// Type should be hardcoded to TURBO
	Type string `json:"type,omitempty"`

	// ExitCode is the exit code for the full run
	ExitCode int `json:"exitCode,omitempty"`

	// The command that kicked off the turbo run
	Command string `json:"command,omitempty"`

	// RepositoryPath is the relative directory from the turborepo root to where
	// the command was invoked.
	RepositoryPath string `json:"repositoryPath,omitempty"`

	// Context is the host on which this Run was executed (e.g. Github Action, Vercel, etc)
	Context string `json:"context,omitempty"`
}

type spacesCacheStatus struct {
	Status string `json:"status,omitempty"`
	Source string `json:"source,omitempty"`
}

type spacesTask struct {
	Key          string            `json:"key,omitempty"`
	Name         string            `json:"name,omitempty"`
	Workspace    string            `json:"workspace,omitempty"`
	Hash         string            `json:"hash,omitempty"`
	StartTime    int64             `json:"startTime,omitempty"`
	EndTime      int64             `json:"endTime,omitempty"`
	Cache        spacesCacheStatus `json:"cache,omitempty"`
	ExitCode     int               `json:"exitCode,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Dependents   []string          `json:"dependents,omitempty"`
}

func (rsm *Meta) newSpacesRunCreatePayload() *spacesRunPayload {
	runsummary := rsm.RunSummary
	startTime := runsummary.ExecutionSummary.startedAt.UnixMilli()
	taskNames := make(util.Set, len(runsummary.Tasks))
	for _, task := range runsummary.Tasks {
		taskNames.Add(task.Task)
	}
	return &spacesRunPayload{
		StartTime:      startTime,
		Status:         "running",
		Command:        fmt.Sprintf("turbo run %s", strings.Join(taskNames.UnsafeListOfStrings(), " ")),
		RepositoryPath: rsm.repoPath.ToString(),
		Type:           "TURBO",
		Context:        getContext(),
	}
}

func getContext() string {
	name := ci.Constant()
	if name == "" {
		return "LOCAL"
	}

	return name
}

func newSpacesDonePayload(runsummary *RunSummary) *spacesRunPayload {
	endTime := runsummary.ExecutionSummary.endedAt.UnixMilli()
	return &spacesRunPayload{
		Status:   "completed",
		EndTime:  endTime,
		ExitCode: runsummary.ExecutionSummary.exitCode,
	}
}

func newSpacesTaskPayload(taskSummary *TaskSummary) *spacesTask {
	hit := taskSummary.CacheState.Local || taskSummary.CacheState.Remote
	status := "MISS"
	var source string
	if hit {
		source = "REMOTE"
		if taskSummary.CacheState.Local {
			source = "LOCAL"
		}
		status = "HIT"
	}

	exitCode := 0
	if taskSummary.Execution != nil && taskSummary.Execution.exitCode != nil {
		exitCode = *taskSummary.Execution.exitCode
	}

	return &spacesTask{
		Key:       taskSummary.TaskID,
		Name:      taskSummary.Task,
		Workspace: taskSummary.Package,
		Hash:      taskSummary.Hash,
		StartTime: taskSummary.Execution.startAt.UnixMilli(),
		EndTime:   taskSummary.Execution.endTime().UnixMilli(),
		Cache: spacesCacheStatus{
			Status: status,
			Source: source,
		},
		ExitCode:     exitCode,
		Dependencies: taskSummary.Dependencies,
		Dependents:   taskSummary.Dependents,
	}
}
