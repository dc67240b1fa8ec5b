package engine

import "sync"

// taskState is the lifecycle state of a task record.
type taskState int

const (
	taskScheduled taskState = iota
	taskInProgress
	taskDone
	taskDirty
)

func (s taskState) String() string {
	switch s {
	case taskScheduled:
		return "Scheduled"
	case taskInProgress:
		return "InProgress"
	case taskDone:
		return "Done"
	case taskDirty:
		return "Dirty"
	default:
		return "Unknown"
	}
}

// TaskKey identifies a task by function name plus a normalized argument
// string. Two TaskKeys that are == denote the same computation, per the
// TaskId equality contract: same function plus same arguments
type TaskKey struct {
	Function string
	Args     string
}

// TaskFunc is the body of a task. It receives an ExecContext used to read
// dependency Vcs, write output cells, and emit collectibles.
type TaskFunc func(ctx *ExecContext) error

// taskRecord is the engine's internal bookkeeping for one task.
type taskRecord struct {
	id  TaskId
	key TaskKey
	fn  TaskFunc

	mu    sync.Mutex
	state taskState

	// cells are this task's output slots, in New-mode are more than one,
	// in Shared-mode each function/argument key resolves to exactly one.
	cells []*cell

	// dependsOn is this task's current in-edges: tasks whose cells it read
	// during its last (or in-progress) execution.
	dependsOn map[TaskId]struct{}

	// dependencyCells are the concrete cells read during the last execution;
	// used to build the aggregation overlay's edges and to detect when a
	// dependency set shrinks.
	dependencyCells map[CellId]struct{}

	agg *aggregationNode

	// doneCh is replaced each time an execution starts and closed when it
	// finishes; closing it wakes every ensureRun caller that found the task
	// InProgress.
	doneCh chan struct{}

	// err is the error (if any) returned by the most recent execution of fn.
	err error

	// execCount is incremented each time the function body actually runs;
	// used by callers/tests to observe memoization.
	execCount int
}

func newTaskRecord(key TaskKey, fn TaskFunc) *taskRecord {
	return &taskRecord{
		key:             key,
		fn:              fn,
		state:           taskScheduled,
		dependsOn:       make(map[TaskId]struct{}),
		dependencyCells: make(map[CellId]struct{}),
		doneCh:          make(chan struct{}),
		agg:             newLeafAggregationNode(),
	}
}

func (t *taskRecord) cellAt(idx CellIndex) *cell {
	t.mu.Lock()
	defer t.mu.Unlock()
	for int(idx) >= len(t.cells) {
		t.cells = append(t.cells, newCell())
	}
	return t.cells[idx]
}

func (t *taskRecord) snapshotState() taskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// lastErr must be called with t.mu held.
func (t *taskRecord) lastErr() error {
	return t.err
}

// setLastErr must be called with t.mu held.
func (t *taskRecord) setLastErr(err error) {
	t.err = err
}
