package engine

import "reflect"

// typeTable is the engine's registered-once-per-concrete-type operation
// table, standing in for the vtable a trait object would carry in the
// systems-language original ("Dynamic dispatch / Vc's trait-object
// upcasting"). Go erases interface conformance at compile time, so a
// TryResolveUpcast needs a runtime check; reflect.Type.Implements is the one
// place in this engine reflection is unavoidable (see DESIGN.md).
type typeTable struct {
	// implementsCache memoizes (concrete, target) interface-conformance
	// checks so repeated upcast attempts on the same pair are O(1) after the
	// first.
	implementsCache map[[2]reflect.Type]bool
}

func newTypeTable() *typeTable {
	return &typeTable{implementsCache: make(map[[2]reflect.Type]bool)}
}

// implements reports whether concrete's dynamic type satisfies target
// (target must be an interface type obtained via reflect.TypeOf((*I)(nil)).Elem()).
func (t *typeTable) implements(concrete reflect.Type, target reflect.Type) bool {
	key := [2]reflect.Type{concrete, target}
	if v, ok := t.implementsCache[key]; ok {
		return v
	}
	v := concrete != nil && concrete.Implements(target)
	t.implementsCache[key] = v
	return v
}
