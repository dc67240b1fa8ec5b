package engine

import (
	"fmt"
	"reflect"
)

// Vc is a typed handle to a Cell: a copy-cheap, awaitable value reference.
// It is deliberately a small, copyable struct with identity equality on the
// underlying cell.
type Vc[T any] struct {
	Cell CellId
}

// cellOf builds a Vc pointing at a specific task's cell slot. Used by
// ExecContext.Set/SetAt when a task writes its own output.
func cellOf[T any](task TaskId, idx CellIndex) Vc[T] {
	return Vc[T]{Cell: CellId{Task: task, Index: idx}}
}

// Valid reports whether the handle points at an allocated cell (the zero
// Vc is never valid since TaskId 0 is reserved: New allocates a placeholder
// record in that slot so real tasks start at 1).
func (v Vc[T]) Valid() bool { return v.Cell.Task != invalidTaskId }

// ResolveTypeError is returned by TryResolveUpcast when the underlying
// value does not satisfy the requested target type.
type ResolveTypeError struct {
	From, To reflect.Type
}

func (e *ResolveTypeError) Error() string {
	return fmt.Sprintf("engine: value of type %s does not implement %s", e.From, e.To)
}

// Upcast reinterprets a Vc[From] as a Vc[To] without touching the
// underlying cell: a zero-cost reinterpret, matching Vc::upcast. Since Go
// erases the static relationship between From and To, callers are
// responsible for only upcasting to an actual supertype/interface of From;
// TryResolveUpcast exists for the checked version.
func Upcast[From, To any](v Vc[From]) Vc[To] {
	return Vc[To]{Cell: v.Cell}
}

// TryResolveUpcast resolves v (awaiting its producing task to Done) and
// verifies the concrete value implements target (an interface type), per
// the try_resolve_upcast. On success it returns a Vc[To] aliasing the
// same cell; on failure it returns a ResolveTypeError.
func TryResolveUpcast[From, To any](e *Engine, reader TaskId, v Vc[From]) (Vc[To], error) {
	val, err := Resolve(e, reader, v)
	if err != nil {
		var zero Vc[To]
		return zero, err
	}
	var toZero To
	target := reflect.TypeOf(&toZero).Elem()
	concrete := reflect.TypeOf(val)
	if !e.types.implements(concrete, target) {
		var zero Vc[To]
		return zero, &ResolveTypeError{From: concrete, To: target}
	}
	return Vc[To]{Cell: v.Cell}, nil
}

// Read reads a Vc's current value, registering reader as a dependent and
// transparently running (or waiting for) the producing task if its cell is
// not yet valued. This is the primary way task bodies consume each other's
// output.
func Read[T any](e *Engine, reader TaskId, v Vc[T]) (T, error) {
	var zero T
	raw, err := e.readCell(reader, v.Cell, false)
	if err != nil {
		return zero, err
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("engine: cell %+v did not hold a %T (got %T)", v.Cell, zero, raw)
	}
	return typed, nil
}

// ReadUntracked reads a Vc's value without registering any dependency edge.
// Callers bypass invalidation tracking and must understand the consequence
// (the Cell's untracked-read mode).
func ReadUntracked[T any](e *Engine, v Vc[T]) (T, error) {
	var zero T
	raw, err := e.readCell(invalidTaskId, v.Cell, true)
	if err != nil {
		return zero, err
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("engine: cell %+v did not hold a %T (got %T)", v.Cell, zero, raw)
	}
	return typed, nil
}

// Resolve awaits the task owning v's cell to Done and returns a handle
// pointing directly at the final cell (the Vc::resolve). In this
// engine cells never move after allocation, so resolution is just "make
// sure the value exists"; Resolve returns the value itself for convenience.
func Resolve[T any](e *Engine, reader TaskId, v Vc[T]) (T, error) {
	return Read(e, reader, v)
}

// ResolveStronglyConsistent is Resolve plus the strong-consistency
// guarantee: it does not return until the owning task, and every task it
// transitively depends on that is Dirty or Scheduled, has reached Done.
func ResolveStronglyConsistent[T any](e *Engine, reader TaskId, v Vc[T]) (T, error) {
	var zero T
	if err := e.waitStronglyConsistent(v.Cell.Task); err != nil {
		return zero, err
	}
	return Read(e, reader, v)
}
