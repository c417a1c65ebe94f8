package state

import "reflect"

// IsStructured reports whether v is eligible for recursive wrapping as a
// record or an existing reactive object. Only map[string]any (non-nil) and
// *Object qualify; an *Object qualifies whether it wraps a record or a list.
//
// Structs, pointers, time.Time, typed maps and every other value are opaque:
// the engine stores them as-is and never intercepts their fields.
func IsStructured(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		return val != nil
	case *Object:
		return val != nil
	default:
		return false
	}
}

// IsList reports whether v is an ordered list eligible for wrapping.
// Only []any qualifies; typed slices are opaque.
func IsList(v any) bool {
	_, ok := v.([]any)
	return ok
}

// Wrappable reports whether a field holding v is wrapped on first read.
func Wrappable(v any) bool {
	return IsStructured(v) || IsList(v)
}

// Same reports whether a and b are the same value by reference identity.
//
// Maps compare by map header, slices by backing array, length and capacity,
// pointers by address, and other comparable values with ==. Funcs are
// never identical unless both are nil, because Go cannot compare them.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Map:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len() && va.Cap() == vb.Cap()
	case reflect.Func:
		return va.IsNil() && vb.IsNil()
	}

	if !va.Comparable() {
		return false
	}
	return a == b
}
