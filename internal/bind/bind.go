// Package bind ties the lifetime of an observer to a view-like owner.
//
// A Binding observes a reactive object from creation until Dispose, counts
// the rebuilds it has requested and runs cleanup functions on disposal in
// reverse registration order.
//
// Binding is NOT thread-safe. Like the objects it observes, it must only be
// used from the runtime's goroutine.
package bind

import "github.com/roach88/easystate/internal/state"

// Binding is the observe-on-mount, unobserve-on-unmount pairing for one
// reactive object.
type Binding struct {
	obj      *state.Object
	onChange func(*state.Object)

	rebuilds  int
	revision  int64
	disposers []func()
	disposed  bool
}

// Bind observes obj. Each flush of obj calls onChange (if non-nil) and
// counts one rebuild.
func Bind(obj *state.Object, onChange func(*state.Object)) *Binding {
	b := &Binding{
		obj:      obj,
		onChange: onChange,
		revision: obj.Revision(),
	}
	b.OnDispose(obj.Observe(b.notify))
	return b
}

func (b *Binding) notify(o *state.Object) {
	if b.disposed {
		return
	}
	if b.onChange != nil {
		b.onChange(o)
	}
	b.rebuilds++
	b.revision = o.Revision()
}

// Object returns the bound object.
func (b *Binding) Object() *state.Object {
	return b.obj
}

// Rebuilds returns the number of notifications received.
func (b *Binding) Rebuilds() int {
	return b.rebuilds
}

// Revision returns the object revision seen by the last rebuild, or the
// revision at bind time.
func (b *Binding) Revision() int64 {
	return b.revision
}

// Stale reports whether the object has been flushed since the binding last
// saw it, for example while the binding was disposed.
func (b *Binding) Stale() bool {
	return b.obj.Revision() != b.revision
}

// OnDispose registers a cleanup function to run on Dispose.
// Returns a function that unregisters it. On a disposed binding the cleanup
// runs immediately.
func (b *Binding) OnDispose(cleanup func()) func() {
	if cleanup == nil {
		return func() {}
	}
	if b.disposed {
		cleanup()
		return func() {}
	}

	index := len(b.disposers)
	b.disposers = append(b.disposers, cleanup)
	return func() {
		if index < len(b.disposers) {
			b.disposers[index] = nil
		}
	}
}

// Dispose runs the registered cleanups in reverse order, including the
// unobserve registered by Bind. Calling it again is a no-op.
func (b *Binding) Dispose() {
	if b.disposed {
		return
	}
	b.disposed = true

	for i := len(b.disposers) - 1; i >= 0; i-- {
		if b.disposers[i] != nil {
			b.disposers[i]()
		}
	}
	b.disposers = nil
}

// IsDisposed reports whether Dispose has been called.
func (b *Binding) IsDisposed() bool {
	return b.disposed
}
