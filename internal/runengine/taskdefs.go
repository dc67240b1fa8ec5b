package runengine

import (
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/fs"
)

// TaskDefinition is the resolved definition of one task inside one package:
// the merged root + per-package turbo.json entry, with its dependsOn list
// split into same-package and topological (`^task`) dependency edges.
type TaskDefinition struct {
	PackageName string
	TaskName    string
	// Def is the fully-merged turbo.json definition for this (package, task).
	Def *fs.TaskDefinition
	// DependsOn are same-package task names this task depends on.
	DependsOn []string
	// TopoDependsOn are task names this task depends on in each internal
	// dependency package.
	TopoDependsOn []string
}

// TaskDefinitionTask returns the TaskId that resolves packageName's
// pipeline entry for taskName against the root turbo.json, merged with the
// package's own turbo.json override when one exists. The merge
// itself lives in fs.ResolveTaskDefinition; wrapping it as an engine task
// memoizes the resolution per (package, task) for the life of the engine.
func (r *Runner) TaskDefinitionTask(rootConfig *fs.TurboConfigJSON, packageName, taskName string) engine.TaskId {
	key := engine.TaskKey{
		Function: "runengine.TaskDefinition",
		Args:     packageName + "#" + taskName,
	}
	return r.Eng.Task(key, func(ctx *engine.ExecContext) error {
		resolved, err := fs.ResolveTaskDefinition(rootConfig, r.workspaceConfigs[packageName], packageName, taskName)
		if err != nil {
			return fmt.Errorf("runengine: resolving task %q in %q: %w", taskName, packageName, err)
		}
		if resolved == nil {
			return fmt.Errorf("runengine: no pipeline entry for task %q", taskName)
		}
		def := &TaskDefinition{
			PackageName: packageName,
			TaskName:    taskName,
			Def:         resolved,
		}
		for _, d := range resolved.DependsOn {
			if strings.HasPrefix(d, "^") {
				def.TopoDependsOn = append(def.TopoDependsOn, strings.TrimPrefix(d, "^"))
			} else {
				def.DependsOn = append(def.DependsOn, d)
			}
		}
		engine.Set(ctx, def)
		return nil
	})
}

// TaskDefinitionVc resolves TaskDefinitionTask into a typed Vc.
func (r *Runner) TaskDefinitionVc(rootConfig *fs.TurboConfigJSON, packageName, taskName string) engine.Vc[*TaskDefinition] {
	return engine.Vc[*TaskDefinition]{Cell: engine.CellId{Task: r.TaskDefinitionTask(rootConfig, packageName, taskName), Index: 0}}
}
