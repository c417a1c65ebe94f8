package state

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Observer is called with the flushed object each time it is notified.
type Observer func(*Object)

// Object is a reactive wrapper around a record or a list.
//
// Objects are created by Runtime.Wrap, or implicitly when a nested record or
// list is read through a parent. An object is never destroyed explicitly; it
// lives as long as something references it.
//
// Object is NOT thread-safe. See the package documentation.
type Object struct {
	rt *Runtime
	id int64

	record map[string]any
	list   []any
	isList bool

	revision int64
	subs     []*subscription

	// fields maps a resolved key (string for records, int for lists) to the
	// function detaching the child listener. Non-wrappable values map to a
	// noop so the classification is not repeated.
	fields map[any]func()

	// pending is set while the object sits in the deferred queue.
	pending bool
}

type subscription struct {
	fn      Observer
	removed bool
}

func noop() {}

func (rt *Runtime) newObject(record map[string]any, list []any, isList bool) *Object {
	return &Object{
		rt:       rt,
		id:       rt.ids.Next(),
		record:   record,
		list:     list,
		isList:   isList,
		revision: rt.clock.Next(),
		fields:   make(map[any]func()),
	}
}

// ID returns the object's runtime-local sequence number.
func (o *Object) ID() int64 {
	return o.id
}

// Runtime returns the runtime that created the object.
func (o *Object) Runtime() *Runtime {
	return o.rt
}

// IsList reports whether the object wraps a list.
func (o *Object) IsList() bool {
	return o.isList
}

// Revision returns the object's current revision snapshot.
func (o *Object) Revision() int64 {
	return o.revision
}

// Len returns the number of fields of a record or elements of a list.
func (o *Object) Len() int {
	if o.isList {
		return len(o.list)
	}
	return len(o.record)
}

// Keys returns the record's keys in sorted order. Lists have no keys.
func (o *Object) Keys() []string {
	if o.isList {
		return nil
	}
	keys := make([]string, 0, len(o.record))
	for k := range o.record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the record has key.
func (o *Object) Has(key string) bool {
	o.mustRecord("Has")
	_, ok := o.record[key]
	return ok
}

// Get reads a record field.
//
// The first read of a field holding a record or a list replaces the stored
// value with its reactive wrapper and chains the child's notifications to
// this object. Later reads return the same wrapper until the field is
// written. Missing keys return nil.
func (o *Object) Get(key string) any {
	o.mustRecord("Get")
	val, ok := o.record[key]
	if !ok {
		return nil
	}
	return o.resolve(key, val, func(child *Object) {
		o.record[key] = child
	})
}

// Set writes a record field.
//
// Writing the identical value is a no-op. Otherwise the old child listener
// (if the field was wrapped) is detached, the new raw value is stored and a
// notification is scheduled. A record or list written here is wrapped on its
// next read.
func (o *Object) Set(key string, v any) {
	o.mustRecord("Set")
	if cur, ok := o.record[key]; ok && Same(cur, v) {
		return
	}
	o.detach(key)
	o.record[key] = v
	o.rt.sched.schedule(o)
}

// Delete removes a record field. Deleting a missing key is a no-op.
func (o *Object) Delete(key string) {
	o.mustRecord("Delete")
	if _, ok := o.record[key]; !ok {
		return
	}
	o.detach(key)
	delete(o.record, key)
	o.rt.sched.schedule(o)
}

// At reads a list element with the same lazy wrapping as Get.
// It panics if i is out of range, like indexing a slice.
func (o *Object) At(i int) any {
	o.mustList("At")
	val := o.list[i]
	return o.resolve(i, val, func(child *Object) {
		o.list[i] = child
	})
}

// SetAt writes a list element with the same semantics as Set.
// It panics if i is out of range.
func (o *Object) SetAt(i int, v any) {
	o.mustList("SetAt")
	if Same(o.list[i], v) {
		return
	}
	o.detach(i)
	o.list[i] = v
	o.rt.sched.schedule(o)
}

// Append adds elements to the end of the list and schedules a notification.
func (o *Object) Append(vs ...any) {
	o.mustList("Append")
	if len(vs) == 0 {
		return
	}
	o.list = append(o.list, vs...)
	o.rt.sched.schedule(o)
}

// Raw returns the wrapped record or list. Fields that have been read hold
// their *Object wrappers.
func (o *Object) Raw() any {
	if o.isList {
		return o.list
	}
	return o.record
}

// Snapshot returns a deep plain copy of the object: nested wrappers are
// unwrapped and nested records and lists are copied. Opaque values are
// shared. Snapshot never wraps anything.
func (o *Object) Snapshot() any {
	if o.isList {
		out := make([]any, len(o.list))
		for i, v := range o.list {
			out[i] = snapshotValue(v)
		}
		return out
	}
	out := make(map[string]any, len(o.record))
	for k, v := range o.record {
		out[k] = snapshotValue(v)
	}
	return out
}

// MarshalJSON encodes the object's snapshot.
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Snapshot())
}

// String implements fmt.Stringer for debugging.
func (o *Object) String() string {
	kind := "record"
	if o.isList {
		kind = "list"
	}
	return fmt.Sprintf("state.Object(%s id=%d rev=%d)", kind, o.id, o.revision)
}

// Observe registers fn and returns an idempotent unsubscribe function.
// A nil fn registers nothing.
func (o *Object) Observe(fn Observer) func() {
	if fn == nil {
		return noop
	}
	sub := &subscription{fn: fn}
	o.subs = append(o.subs, sub)
	return func() {
		o.unsubscribe(sub)
	}
}

// ObserverCount returns the number of registered observers, including the
// listeners parents attach to their children.
func (o *Object) ObserverCount() int {
	return len(o.subs)
}

func (o *Object) unsubscribe(sub *subscription) {
	if sub.removed {
		return
	}
	sub.removed = true
	// Allocate a new slice; a dispatch pass may be iterating the old one.
	o.subs = slices.DeleteFunc(slices.Clone(o.subs), func(s *subscription) bool {
		return s == sub
	})
}

// resolve performs the memoized classify-and-wrap step for a field read.
func (o *Object) resolve(key any, val any, store func(*Object)) any {
	if _, done := o.fields[key]; done {
		return val
	}
	if !Wrappable(val) {
		o.fields[key] = noop
		return val
	}

	child, err := o.rt.Wrap(val)
	if err != nil {
		// Wrappable values always wrap; keep the raw value otherwise.
		o.fields[key] = noop
		return val
	}
	store(child)
	o.fields[key] = child.Observe(func(*Object) {
		o.rt.sched.schedule(o)
	})
	return child
}

// detach tears down the child listener of key and forgets its resolution.
func (o *Object) detach(key any) {
	if fn, ok := o.fields[key]; ok {
		fn()
		delete(o.fields, key)
	}
}

func (o *Object) mustRecord(op string) {
	if o.isList {
		panic(fmt.Sprintf("state: %s called on a list object", op))
	}
}

func (o *Object) mustList(op string) {
	if !o.isList {
		panic(fmt.Sprintf("state: %s called on a record object", op))
	}
}

func snapshotValue(v any) any {
	switch val := v.(type) {
	case *Object:
		if val == nil {
			return nil
		}
		return val.Snapshot()
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = snapshotValue(e)
		}
		return out
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = snapshotValue(e)
		}
		return out
	default:
		return v
	}
}
