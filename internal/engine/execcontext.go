package engine

// ExecContext is passed to a TaskFunc's body. It is the only way a task may
// write its own output cells, read another task's Vc, or emit collectibles;
// nothing about the engine is reachable through a package-level global
//.
type ExecContext struct {
	engine  *Engine
	task    TaskId
	written map[CellIndex]bool
}

// TaskId returns the id of the task currently executing.
func (c *ExecContext) TaskId() TaskId { return c.task }

// Emit records a collectible produced by the current task.
func (c *ExecContext) Emit(kind string, key any) { c.engine.Emit(c.task, kind, key) }

// Unemit retracts a previously emitted collectible.
func (c *ExecContext) Unemit(kind string, key any) { c.engine.Unemit(c.task, kind, key) }

// Set writes the current task's single (cell 0) output, the common case for
// tasks that produce one value. It returns a Vc handle to that cell.
func Set[T any](c *ExecContext, value T) Vc[T] {
	return SetAt(c, 0, value)
}

// SetAt writes the current task's output at a specific cell index, for
// tasks that deliberately produce more than one output slot (New-mode
// cells).
func SetAt[T any](c *ExecContext, idx CellIndex, value T) Vc[T] {
	rec := c.engine.arena.get(c.task)
	cl := rec.cellAt(idx)
	cl.assign(value, c.engine.notify)
	c.written[idx] = true
	return cellOf[T](c.task, idx)
}

// ReadIn reads v from within the currently executing task, registering the
// dependency edge needed for invalidation.
func ReadIn[T any](c *ExecContext, v Vc[T]) (T, error) {
	return Read(c.engine, c.task, v)
}

// ReadStronglyConsistentIn is ResolveStronglyConsistent called on behalf of
// the currently executing task.
func ReadStronglyConsistentIn[T any](c *ExecContext, v Vc[T]) (T, error) {
	return ResolveStronglyConsistent(c.engine, c.task, v)
}
