package engine

import (
	"fmt"
	"sync"
)

// Engine is the process-wide task-engine context: it owns the
// task arena, the function-identity registry, the type table used for Vc
// upcasting, and the aggregation overlay. Exactly one Engine should be
// threaded explicitly through a run — never a hidden package-level global
// rather than through a hidden global.
type Engine struct {
	mu       sync.Mutex
	arena    *taskArena
	registry map[TaskKey]TaskId
	types    *typeTable
	agg      *overlay

	concurrency int
	inflight    sync.WaitGroup
	draining    bool
}

// New creates an Engine. concurrency bounds the worker pool used by
// SpawnAll for independently-requested root tasks; individual Read calls are
// always pull-driven regardless of this value.
func New(concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = 1
	}
	e := &Engine{
		arena:       newTaskArena(),
		registry:    make(map[TaskKey]TaskId),
		types:       newTypeTable(),
		concurrency: concurrency,
	}
	e.agg = &overlay{e: e}
	// TaskId 0 is reserved (invalidTaskId); allocate and discard a dummy
	// record so real tasks start at 1.
	e.arena.alloc(newTaskRecord(TaskKey{Function: "__reserved__"}, func(*ExecContext) error { return nil }))
	return e
}

// Task returns the TaskId for key, creating it lazily on first reference
//. Calling Task again with an equal key returns the same TaskId
// and does not re-register fn.
func (e *Engine) Task(key TaskKey, fn TaskFunc) TaskId {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.registry[key]; ok {
		return id
	}
	rec := newTaskRecord(key, fn)
	id := e.arena.alloc(rec)
	e.registry[key] = id
	return id
}

// MarkRoot pins id's aggregation number to the root sentinel, so it is
// always treated as an upper and never garbage-collected away from under
// a caller holding it for the lifetime of a run.
func (e *Engine) MarkRoot(id TaskId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agg.markRoot(id)
}

// SpawnOnce ensures id has been (or is being) executed at least once,
// without blocking for completion. It is idempotent: calling it on an
// already-running or already-done task is a no-op.
func (e *Engine) SpawnOnce(id TaskId) {
	rec := e.arena.get(id)
	rec.mu.Lock()
	needsRun := rec.state == taskScheduled || rec.state == taskDirty
	if needsRun {
		rec.state = taskInProgress
	}
	rec.mu.Unlock()
	if !needsRun {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		_ = e.ensureRun(id)
	}()
}

// Wait blocks until id reaches Done at least once (not transitively
// strongly consistent — see ResolveStronglyConsistent for that guarantee).
func (e *Engine) Wait(id TaskId) error {
	return e.ensureRun(id)
}

// Teardown drains any SpawnOnce-initiated background work. The engine does
// not persist its task graph across restarts: only a cache backed
// by the task results, layered entirely outside this package, is durable.
func (e *Engine) Teardown() {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()
	e.inflight.Wait()
}

// ensureRun drives id to Done, running its function body if it is
// Scheduled or Dirty, or waiting for an in-progress sibling call to finish.
func (e *Engine) ensureRun(id TaskId) error {
	rec := e.arena.get(id)
	for {
		rec.mu.Lock()
		switch rec.state {
		case taskDone:
			err := rec.lastErr()
			rec.mu.Unlock()
			return err
		case taskInProgress:
			ch := rec.doneCh
			rec.mu.Unlock()
			<-ch
			continue
		default: // Scheduled or Dirty
			rec.state = taskInProgress
			ch := make(chan struct{})
			rec.doneCh = ch
			rec.mu.Unlock()

			err := e.execute(id, rec)

			rec.mu.Lock()
			rec.state = taskDone
			rec.setLastErr(err)
			rec.mu.Unlock()
			close(ch)
			return err
		}
	}
}

// execute runs rec's function body once, reconciling its dependency edges
// and stale output cells against the previous run:
func (e *Engine) execute(id TaskId, rec *taskRecord) (err error) {
	rec.mu.Lock()
	rec.execCount++
	prevDeps := rec.dependsOn
	rec.dependsOn = make(map[TaskId]struct{})
	rec.dependencyCells = make(map[CellId]struct{})
	cellCount := len(rec.cells)
	rec.mu.Unlock()

	ctx := &ExecContext{engine: e, task: id, written: make(map[CellIndex]bool)}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: task %d panicked: %v", id, r)
		}
	}()
	err = rec.fn(ctx)

	rec.mu.Lock()
	newDeps := rec.dependsOn
	rec.mu.Unlock()
	for dep := range prevDeps {
		if _, ok := newDeps[dep]; !ok {
			e.agg.removeEdge(id, dep)
		}
	}

	rec.mu.Lock()
	cells := rec.cells[:cellCount]
	rec.mu.Unlock()
	for idx, c := range cells {
		if !ctx.written[CellIndex(idx)] {
			c.gcDrop(e.notify)
		}
	}
	return err
}

// notify marks a Done task Dirty so it is re-executed the next time it is
// read; it is the engine's invalidation hook, passed to Cell.assign and
// Cell.gcDrop as the `notify` callback.
func (e *Engine) notify(id TaskId) {
	rec := e.arena.get(id)
	rec.mu.Lock()
	if rec.state == taskDone {
		rec.state = taskDirty
	}
	rec.mu.Unlock()
}

// trackDependency records that reader read cellID during its current
// execution, adding an overlay edge the first time a given target task is
// observed this run.
func (e *Engine) trackDependency(reader TaskId, cellID CellId) {
	rec := e.arena.get(reader)
	rec.mu.Lock()
	rec.dependencyCells[cellID] = struct{}{}
	_, already := rec.dependsOn[cellID.Task]
	if !already {
		rec.dependsOn[cellID.Task] = struct{}{}
	}
	rec.mu.Unlock()
	if !already {
		_ = e.agg.addEdge(reader, cellID.Task)
	}
}

// readCell is the shared implementation behind Read/ReadUntracked: it
// drives the owning task to Done, reads its cell, and loops through any
// Recomputing episode raised along the way.
func (e *Engine) readCell(reader TaskId, cellID CellId, untracked bool) (any, error) {
	for {
		if err := e.ensureRun(cellID.Task); err != nil {
			return nil, err
		}
		rec := e.arena.get(cellID.Task)
		c := rec.cellAt(cellID.Index)

		var (
			val any
			rc  *RecomputingCell
		)
		if untracked {
			val, rc = c.readUntracked()
		} else {
			val, rc = c.read(reader)
		}
		if rc == nil {
			if !untracked && reader != invalidTaskId && reader != cellID.Task {
				e.trackDependency(reader, cellID)
			}
			return val, nil
		}
		if rc.Schedule {
			// mark the owner Dirty and loop so ensureRun re-executes it
			e.notify(cellID.Task)
			continue
		}
		<-rc.Listener
	}
}

// waitStronglyConsistent implements the read_strongly_consistent:
// it does not return until id and every task it transitively depends on
// that is currently Dirty or Scheduled has reached Done, retrying if a
// dependency went Dirty again in the interim. After maxRetries rounds that
// still find id not Done, it gives up with an EngineError.
func (e *Engine) waitStronglyConsistent(id TaskId) error {
	const maxRetries = 1024
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := e.ensureRun(id); err != nil {
			return err
		}
		rec := e.arena.get(id)
		rec.mu.Lock()
		deps := make([]TaskId, 0, len(rec.dependsOn))
		for d := range rec.dependsOn {
			deps = append(deps, d)
		}
		rec.mu.Unlock()

		anyDirty := false
		for _, d := range deps {
			if err := e.waitStronglyConsistent(d); err != nil {
				return err
			}
		}
		rec.mu.Lock()
		if rec.state != taskDone {
			anyDirty = true
		}
		rec.mu.Unlock()
		if !anyDirty {
			return nil
		}
	}
	return &EngineError{
		Op:      "read_strongly_consistent",
		Message: "task did not settle to Done within the retry budget",
		Detail:  map[string]any{"task": id, "retries": maxRetries},
	}
}

// PeekCollectibles returns the current collectible summary reachable from
// node without retracting it (the CollectiblesSource.peek).
func (e *Engine) PeekCollectibles(node TaskId) map[Collectible]int {
	return e.agg.peekCollectibles(node).counts
}

// TakeCollectibles returns the summary at node and atomically retracts it
// from every contributing descendant.
func (e *Engine) TakeCollectibles(node TaskId) map[Collectible]int {
	return e.agg.takeCollectibles(node).counts
}

// Emit records a collectible value produced by task (spec
// CollectiblesSource.emit).
func (e *Engine) Emit(task TaskId, kind string, key any) {
	e.agg.emit(task, Collectible{Kind: kind, Key: key})
}

// Unemit retracts a previously emitted collectible.
func (e *Engine) Unemit(task TaskId, kind string, key any) {
	e.agg.unemit(task, Collectible{Kind: kind, Key: key})
}

// ExecCount returns how many times id's function body has actually run,
// for tests observing memoization.
func (e *Engine) ExecCount(id TaskId) int {
	rec := e.arena.get(id)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.execCount
}
