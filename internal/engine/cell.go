package engine

import "sync"

// cellState is one of the four exclusive states a Cell may occupy. See
// Cell.read for the transition table.
type cellState int

const (
	// cellEmpty: never written, or gc'd without tracking.
	cellEmpty cellState = iota
	// cellTrackedValueless: dropped to save memory, dependents retained.
	cellTrackedValueless
	// cellRecomputing: a read arrived while empty; listeners wait on write.
	cellRecomputing
	// cellValue: holds content plus its dependent set.
	cellValue
)

// RecomputingCell is returned by Cell.read when the content is not yet
// available: the caller must wait on Listener (it closes when a value
// lands) and, if Schedule is true, is responsible for making sure the
// owning task actually runs.
type RecomputingCell struct {
	Listener <-chan struct{}
	Schedule bool
}

// cell is a single output slot belonging to exactly one task.
type cell struct {
	mu         sync.Mutex
	state      cellState
	content    any
	dependents map[TaskId]struct{}
	ev         *event
}

func newCell() *cell {
	return &cell{state: cellEmpty}
}

// valueEqual compares cell content the way Cell assignment does: via the
// standard library's equality when the value is comparable, otherwise
// always treated as changed. Task outputs in this engine are expected to be
// small, comparable descriptors (hashes, paths, resolved configs) rather
// than deeply nested structures, matching the runner's actual payloads.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	defer func() { recover() }() // uncomparable types: fall through to false
	return a == b
}

// assign transitions any state to Value. On Recomputing it also fires the
// listener event. On Value, if content is unchanged by value equality nothing
// is invalidated; otherwise every dependent task is notified via notify.
func (c *cell) assign(content any, notify func(TaskId)) {
	c.mu.Lock()
	prevState := c.state
	var firedEvent *event
	var toNotify []TaskId

	switch prevState {
	case cellValue:
		if valueEqual(c.content, content) {
			c.mu.Unlock()
			return
		}
		for t := range c.dependents {
			toNotify = append(toNotify, t)
		}
	case cellRecomputing:
		firedEvent = c.ev
		c.ev = nil
		for t := range c.dependents {
			toNotify = append(toNotify, t)
		}
	case cellTrackedValueless:
		for t := range c.dependents {
			toNotify = append(toNotify, t)
		}
	case cellEmpty:
		// nothing to notify
	}

	c.content = content
	c.state = cellValue
	if c.dependents == nil {
		c.dependents = make(map[TaskId]struct{})
	}
	c.mu.Unlock()

	if firedEvent != nil {
		firedEvent.fire()
	}
	for _, t := range toNotify {
		notify(t)
	}
}

// read registers reader as a dependent (if the cell already has a value) and
// returns the content, or reports that a recompute is needed.
func (c *cell) read(reader TaskId) (any, *RecomputingCell) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case cellEmpty:
		ev := newEvent()
		c.ev = ev
		c.state = cellRecomputing
		if c.dependents == nil {
			c.dependents = make(map[TaskId]struct{})
		}
		return nil, &RecomputingCell{Listener: ev.listen(), Schedule: true}
	case cellTrackedValueless:
		ev := newEvent()
		c.ev = ev
		c.state = cellRecomputing
		// dependents set carried over unchanged
		return nil, &RecomputingCell{Listener: ev.listen(), Schedule: true}
	case cellRecomputing:
		return nil, &RecomputingCell{Listener: c.ev.listen(), Schedule: false}
	case cellValue:
		if c.dependents == nil {
			c.dependents = make(map[TaskId]struct{})
		}
		c.dependents[reader] = struct{}{}
		return c.content, nil
	}
	panic("unreachable cell state")
}

// readUntracked returns the content (or signals recompute) without
// registering the caller as a dependent. Callers bypass invalidation
// tracking and must understand the consequence.
func (c *cell) readUntracked() (any, *RecomputingCell) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case cellEmpty, cellTrackedValueless:
		ev := newEvent()
		c.ev = ev
		c.state = cellRecomputing
		return nil, &RecomputingCell{Listener: ev.listen(), Schedule: true}
	case cellRecomputing:
		return nil, &RecomputingCell{Listener: c.ev.listen(), Schedule: false}
	case cellValue:
		return c.content, nil
	}
	panic("unreachable cell state")
}

// gcContent drops the stored value, keeping the dependent set, so future
// writes still invalidate anyone who previously read it.
func (c *cell) gcContent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cellValue {
		return
	}
	c.content = nil
	c.state = cellTrackedValueless
}

// gcDrop discards the cell entirely, notifying every dependent (they are
// about to re-read and must be rescheduled).
func (c *cell) gcDrop(notify func(TaskId)) {
	c.mu.Lock()
	deps := c.dependents
	c.content = nil
	c.dependents = nil
	c.state = cellEmpty
	c.mu.Unlock()
	for t := range deps {
		notify(t)
	}
}

func (c *cell) removeDependent(task TaskId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dependents, task)
}
