// Package runengine expresses the monorepo task runner's planning, hashing,
// and execution as engine tasks built on top of package engine: package
// graph resolution, (package, task) definition lookup, the global hash, and
// each per-(package, task) hash are memoized engine.Tasks, so that
// re-running after touching one file re-executes only the tasks whose
// transitive inputs actually changed.
//
// This package is intentionally independent of the concrete CLI command
// wiring in internal/run: it is given a repo root and a set of already
// loaded PackageJSON/TurboConfigJSON values (internal/context knows how to
// produce those) and builds the engine task graph from them.
package runengine
