package engine

import "fmt"

// invalidTaskId is the sentinel TaskId used for untracked reads (no reader
// to register) and for the zero Vc. Real tasks are always allocated
// starting at 1 so this sentinel never collides with a live task.
const invalidTaskId TaskId = 0

// EngineError is the engine's own failure kind: "strongly-consistent read
// returned inconsistent state after the retry budget, or aggregation-overlay
// gave up after its retry cap". It always carries the operation and enough
// detail to locate the offending task(s); this engine fails hard
// with full diagnostics rather than looping or panicking silently.
type EngineError struct {
	Op      string
	Message string
	Detail  map[string]any
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine: %s: %s %v", e.Op, e.Message, e.Detail)
}
