package engine

import "math"

// rootAggregationNumber is the sentinel meaning "always an upper", assigned
// to any node pinned as a persistent root.
const rootAggregationNumber = math.MaxUint32

// maxBalanceRetries bounds the balance_edge retry loop. The loop must be
// provably bounded, or fail hard with a full diagnostic rather than
// silently continue: aggregation numbers are monotone non-decreasing
// and capped at rootAggregationNumber, so in practice the loop always
// terminates in O(height) retries; this constant is a fail-safe far above
// any real tree depth, not a tuning knob.
const maxBalanceRetries = 1024

// Collectible is one emitted value. Key must be comparable (it is used as a
// map key inside a countSet) — diagnostics, counters, and similar small
// value types all qualify.
type Collectible struct {
	Kind string
	Key  any
}

// aggregationNode is the per-task summarization record. There is no
// separate "Leaf" struct variant: every task may simultaneously emit its
// own collectibles and have dependencies, so a single struct tracks both.
// aggregationNumber starts at 0 (a fresh leaf) and only ever increases.
type aggregationNode struct {
	aggregationNumber uint32
	uppers            *countSet[TaskId]      // ancestors that treat this node as inner
	followers         *countSet[TaskId]      // descendants this node delegates upward instead of merging
	innerChildren     *countSet[TaskId]      // descendants merged directly into this node (mirror of "uppers")
	ownEmissions      *countSet[Collectible] // values emitted at this node itself
}

func newLeafAggregationNode() *aggregationNode {
	return &aggregationNode{
		uppers:        newCountSet[TaskId](),
		followers:     newCountSet[TaskId](),
		innerChildren: newCountSet[TaskId](),
		ownEmissions:  newCountSet[Collectible](),
	}
}

// overlay is the engine-wide aggregation overlay driver. All of its
// mutating operations are serialized by a single coarse mutex (Engine.mu)
// rather than per-node in-progress counters; see DESIGN.md for the
// tradeoff.
type overlay struct {
	e *Engine
}

func (o *overlay) node(id TaskId) *aggregationNode {
	return o.e.arena.get(id).agg
}

// markRoot pins a task's aggregation number to the root sentinel so it is
// always treated as an upper, never a follower or inner child.
func (o *overlay) markRoot(id TaskId) {
	o.node(id).aggregationNumber = rootAggregationNumber
}

// addEdge records that upper depends on target (upper reads target's
// output), running balance_edge until the uppers/followers invariant
// is restored: if aggregation_number(upper) is
// greater (or either is root), target becomes an inner child of upper; if
// lesser, target becomes a follower of upper; if equal and neither is root,
// target's aggregation number is bumped and the comparison retried. Each
// retry strictly increases target's aggregation number, which is bounded by
// rootAggregationNumber, so the loop is guaranteed to terminate.
func (o *overlay) addEdge(upper, target TaskId) error {
	un := o.node(upper)
	tn := o.node(target)
	for i := 0; i < maxBalanceRetries; i++ {
		uNum, tNum := un.aggregationNumber, tn.aggregationNumber
		isRoot := uNum == rootAggregationNumber || tNum == rootAggregationNumber
		switch {
		case isRoot || uNum > tNum:
			o.addInner(upper, target)
			return nil
		case uNum < tNum:
			o.addFollower(upper, target)
			return nil
		default:
			tn.aggregationNumber++
		}
	}
	return &EngineError{
		Op:      "balance_edge",
		Message: "aggregation overlay could not converge on an upper/follower assignment",
		Detail:  map[string]any{"upper": upper, "target": target},
	}
}

// addInner finalizes target as an inner child of upper: target is merged
// directly into upper's summary.
func (o *overlay) addInner(upper, target TaskId) {
	un := o.node(upper)
	tn := o.node(target)
	if wasZero, _ := tn.uppers.add(upper, 1); wasZero {
		un.innerChildren.add(target, 1)
	}
}

// addFollower finalizes target as a follower of upper: upper delegates
// target's summary to its own uppers instead of merging it directly.
func (o *overlay) addFollower(upper, target TaskId) {
	o.node(upper).followers.add(target, 1)
}

// removeEdge retracts a previously-added dependency edge, undoing whichever
// of addInner/addFollower was in effect.
func (o *overlay) removeEdge(upper, target TaskId) {
	un := o.node(upper)
	tn := o.node(target)
	if tn.uppers.get(upper) > 0 {
		tn.uppers.add(upper, -1)
		un.innerChildren.add(target, -1)
		return
	}
	if un.followers.get(target) > 0 {
		un.followers.add(target, -1)
	}
}

// emit records a collectible in the task's own emissions only; nothing is
// propagated to ancestors at emit time. Inner children and followers are
// both unioned lazily at peek/take time, which keeps emit O(1) at the cost
// of peek walking the reachable inner-child and follower sets.
func (o *overlay) emit(task TaskId, c Collectible) {
	o.node(task).ownEmissions.add(c, 1)
}

func (o *overlay) unemit(task TaskId, c Collectible) {
	o.node(task).ownEmissions.add(c, -1)
}

// peekCollectibles returns the multiset summary reachable from node: its own
// emissions, plus everything reachable through nodes it aggregates (inner
// children) or delegates (followers).
func (o *overlay) peekCollectibles(node TaskId) *countSet[Collectible] {
	visited := make(map[TaskId]bool)
	result := newCountSet[Collectible]()
	o.collect(node, visited, result)
	return result
}

func (o *overlay) collect(id TaskId, visited map[TaskId]bool, into *countSet[Collectible]) {
	if visited[id] {
		return
	}
	visited[id] = true
	n := o.node(id)
	n.ownEmissions.forEach(func(c Collectible, count int) {
		into.add(c, count)
	})
	n.innerChildren.forEach(func(child TaskId, count int) {
		if count > 0 {
			o.collect(child, visited, into)
		}
	})
	n.followers.forEach(func(follower TaskId, count int) {
		if count > 0 {
			o.collect(follower, visited, into)
		}
	})
}

// takeCollectibles returns the current summary at node and retracts every
// entry from node's own emissions (and, recursively, from every descendant
// that directly contributed it), so a later peek returns nothing for the
// values just taken.
func (o *overlay) takeCollectibles(node TaskId) *countSet[Collectible] {
	result := o.peekCollectibles(node)
	visited := make(map[TaskId]bool)
	o.retract(node, visited)
	return result
}

func (o *overlay) retract(id TaskId, visited map[TaskId]bool) {
	if visited[id] {
		return
	}
	visited[id] = true
	n := o.node(id)
	n.ownEmissions.forEach(func(c Collectible, count int) {
		if count != 0 {
			n.ownEmissions.add(c, -count)
		}
	})
	n.innerChildren.forEach(func(child TaskId, count int) {
		if count > 0 {
			o.retract(child, visited)
		}
	})
	n.followers.forEach(func(follower TaskId, count int) {
		if count > 0 {
			o.retract(follower, visited)
		}
	})
}
