// Package engine is the incremental task engine: a memoizing computation
// framework that represents every derived value as a node in a dynamic
// dependency graph, recomputes only what invalidations demand, and supports
// structural sharing of results across the graph through an aggregation
// overlay.
//
// It is a general-purpose substrate, independent of the monorepo task
// runner built on top of it in internal/runengine. Tasks are created lazily
// by TaskId, cache their output in Cells, and are read through typed Vc
// handles.
package engine
