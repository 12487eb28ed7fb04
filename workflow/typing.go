// Package workflow provides the graph-based message-passing execution engine.
package workflow

import (
	"reflect"
)

// TypeOf returns the reflect.Type descriptor for T, including interface types.
//
// The usual reflect.TypeOf(value) loses interface identity because the value
// is boxed before the call. Going through a pointer element preserves it:
//
//	TypeOf[any]()               // the empty interface
//	TypeOf[[]ChatMessage]()     // slice types
//	TypeOf[*AgentExecutorRequest]()
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// AnyType is the reflect descriptor for the empty interface. Handlers declared
// with AnyType accept every message; edges into them always validate.
var AnyType = TypeOf[any]()

// IsInstanceOf reports whether a runtime value can be delivered to a handler
// declaring parameter type t.
//
// The check is structural over containers, mirroring how the dispatch layer
// gates messages:
//   - The empty interface matches everything, including nil.
//   - Non-empty interfaces match values whose dynamic type implements them.
//   - Slices match slice or array values whose every element matches the
//     element type. Empty slices pass.
//   - Arrays additionally require matching length (fixed-arity tuples).
//   - Maps match when every key matches the key type and every value matches
//     the value type. Empty maps pass.
//   - Everything else matches by type identity or assignability.
//
// Generic instantiations in Go are distinct named types, so their parameters
// participate in the check. This is stricter than a nominal-only check and is
// the behavior edge validation relies on.
func IsInstanceOf(value any, t reflect.Type) bool {
	if t == nil {
		return false
	}
	if isEmptyInterface(t) {
		return true
	}
	if value == nil {
		// Untyped nil is deliverable only to nilable parameter types.
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return true
		default:
			return false
		}
	}

	v := reflect.ValueOf(value)
	vt := v.Type()

	if t.Kind() == reflect.Interface {
		return vt.Implements(t)
	}

	switch t.Kind() {
	case reflect.Slice:
		if vt == t {
			// Fast path; elements are guaranteed by the static type.
			return true
		}
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return false
		}
		return elementsMatch(v, t.Elem())
	case reflect.Array:
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return false
		}
		if v.Len() != t.Len() {
			return false
		}
		return elementsMatch(v, t.Elem())
	case reflect.Map:
		if vt == t {
			return true
		}
		if v.Kind() != reflect.Map {
			return false
		}
		iter := v.MapRange()
		for iter.Next() {
			if !IsInstanceOf(iter.Key().Interface(), t.Key()) {
				return false
			}
			if !IsInstanceOf(iter.Value().Interface(), t.Elem()) {
				return false
			}
		}
		return true
	default:
		if vt == t || vt.AssignableTo(t) {
			return true
		}
		// Pointer-ness is erased across checkpoints: live values often
		// travel as *T while rehydration reconstructs bare T. Either side
		// satisfies the other.
		if vt.Kind() == reflect.Pointer && vt.Elem() == t {
			return true
		}
		return t.Kind() == reflect.Pointer && t.Elem() == vt
	}
}

func elementsMatch(v reflect.Value, elem reflect.Type) bool {
	for i := 0; i < v.Len(); i++ {
		ev := v.Index(i)
		// Unbox interface elements so the dynamic type is checked.
		if ev.Kind() == reflect.Interface && !ev.IsNil() {
			ev = ev.Elem()
		}
		if ev.Kind() == reflect.Interface && ev.IsNil() {
			if !IsInstanceOf(nil, elem) {
				return false
			}
			continue
		}
		if !IsInstanceOf(ev.Interface(), elem) {
			return false
		}
	}
	return true
}

// IsTypeCompatible decides static compatibility between a message type a
// source may emit and a parameter type a target handler declares. It is the
// build-time counterpart of IsInstanceOf, used to validate edges.
//
// Compatibility rules:
//   - Identity and assignability allow.
//   - An empty-interface target accepts everything.
//   - An empty-interface source is allowed: the emission type is dynamic and
//     the delivery-time IsInstanceOf gate still applies.
//   - A non-empty interface target accepts sources that implement it.
//   - Containers recurse into element, key, and value types.
//   - Arrays require equal length (tuple arity).
func IsTypeCompatible(src, dst reflect.Type) bool {
	if src == nil || dst == nil {
		return false
	}
	if src == dst {
		return true
	}
	if isEmptyInterface(dst) || isEmptyInterface(src) {
		return true
	}
	if dst.Kind() == reflect.Interface {
		return src.Implements(dst)
	}
	if src.Kind() == reflect.Interface {
		// A non-empty interface source narrows to the target only if the
		// interface guarantees it, which reflect cannot prove for concrete
		// targets. Delivery-time gating handles the rest.
		return false
	}

	switch {
	case src.Kind() == reflect.Slice && dst.Kind() == reflect.Slice:
		return IsTypeCompatible(src.Elem(), dst.Elem())
	case src.Kind() == reflect.Array && dst.Kind() == reflect.Array:
		return src.Len() == dst.Len() && IsTypeCompatible(src.Elem(), dst.Elem())
	case src.Kind() == reflect.Array && dst.Kind() == reflect.Slice,
		src.Kind() == reflect.Slice && dst.Kind() == reflect.Array:
		return IsTypeCompatible(src.Elem(), dst.Elem())
	case src.Kind() == reflect.Map && dst.Kind() == reflect.Map:
		return IsTypeCompatible(src.Key(), dst.Key()) && IsTypeCompatible(src.Elem(), dst.Elem())
	default:
		return src.AssignableTo(dst)
	}
}

func isEmptyInterface(t reflect.Type) bool {
	return t.Kind() == reflect.Interface && t.NumMethod() == 0
}

// typeSpecificity ranks how closely a handler's declared input type matches a
// concrete message type. Higher is more specific. Dispatch picks the highest
// score among matching handlers; ties break by registration order.
func typeSpecificity(messageType, declared reflect.Type) int {
	if messageType == declared {
		return 400
	}
	if declared.Kind() != reflect.Interface {
		return 300
	}
	if isEmptyInterface(declared) {
		return 0
	}
	// Interfaces with more methods constrain the message more tightly.
	return 100 + declared.NumMethod()
}
