package state

// Observe registers fn on the reactive object v and returns an idempotent
// unsubscribe function.
//
// Returns an INVALID_ARGUMENT error if v is not a reactive object or fn is
// nil.
func Observe(v any, fn Observer) (func(), error) {
	o, ok := v.(*Object)
	if !ok || o == nil {
		return nil, newInvalidArgument("Observe", v)
	}
	if fn == nil {
		return nil, &Error{
			Code:    ErrCodeInvalidArgument,
			Op:      "Observe",
			Message: "nil observer",
		}
	}
	return o.Observe(fn), nil
}

// CurrentRevision returns the revision of the reactive object v.
// Returns an INVALID_ARGUMENT error if v is not a reactive object.
func CurrentRevision(v any) (int64, error) {
	o, ok := v.(*Object)
	if !ok || o == nil {
		return 0, newInvalidArgument("CurrentRevision", v)
	}
	return o.Revision(), nil
}

// IsReactive reports whether v is a reactive object. It never fails.
func IsReactive(v any) bool {
	o, ok := v.(*Object)
	return ok && o != nil
}
