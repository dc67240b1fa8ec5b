package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// SpawnAll drives every id in ids to Done, running at most the Engine's
// configured concurrency at a time. It is the engine-level building block
// the runner (internal/run) calls to fan out an initial
// batch of independently-requested tasks: package graph resolution,
// per-(package,task) hash computation, and so on. Concurrency is bounded
// with errgroup plus a counting semaphore rather than a pre-built walk of
// a dependency graph, since the engine's dependency edges are discovered
// lazily through Vc reads rather than known up front.
func (e *Engine) SpawnAll(ctx context.Context, ids []TaskId) error {
	sem := make(chan struct{}, e.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			return g.Wait()
		}
		g.Go(func() error {
			defer func() { <-sem }()
			return e.ensureRun(id)
		})
	}
	return g.Wait()
}
