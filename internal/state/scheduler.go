package state

import (
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
)

// batchPhase tracks the explicit synchronous batch regime.
type batchPhase int

const (
	phaseIdle batchPhase = iota
	// phaseCollecting: inside the outermost Sync, writes join the batch.
	phaseCollecting
	// phaseDraining: the batch is being flushed, writes flush immediately.
	phaseDraining
)

// scheduler coalesces notifications. It is owned by exactly one Runtime.
//
// INVARIANTS:
//   - an object appears at most once in tasks (guarded by Object.pending)
//   - an object appears at most once in batch (guarded by inBatch)
//   - a batch or immediate flush takes the object out of tasks
//   - at most one frame request is outstanding
type scheduler struct {
	rt *Runtime

	phase   batchPhase
	batch   []*Object
	inBatch map[*Object]struct{}

	tasks          []*Object
	busy           bool
	frameRequested bool

	// mode of the flush currently dispatching, 0 when none.
	mode FlushMode

	// failures collected during the current pass.
	passDepth int
	failures  []error
}

func newScheduler(rt *Runtime) *scheduler {
	return &scheduler{
		rt:      rt,
		inBatch: make(map[*Object]struct{}),
	}
}

// schedule routes a change notification for o to the active regime.
func (s *scheduler) schedule(o *Object) {
	switch {
	case s.phase == phaseCollecting:
		if _, ok := s.inBatch[o]; !ok {
			s.inBatch[o] = struct{}{}
			s.batch = append(s.batch, o)
		}
	case s.phase == phaseDraining, s.busy:
		s.beginPass()
		s.flush(o, ModeImmediate)
		s.endPass()
	default:
		s.enqueue(o)
	}
}

// enqueue adds o to the deferred queue once per tick.
func (s *scheduler) enqueue(o *Object) {
	if o.pending {
		return
	}
	o.pending = true
	s.tasks = append(s.tasks, o)
	if !s.frameRequested {
		s.frameRequested = true
		s.rt.logger.Debug("frame requested", "object", o.id)
		s.rt.frames.RequestFrame(s.runFrame)
	}
}

// dequeue drops o from the deferred queue. It is a no-op once the frame
// has taken its snapshot.
func (s *scheduler) dequeue(o *Object) {
	if i := slices.Index(s.tasks, o); i >= 0 {
		s.tasks = slices.Delete(s.tasks, i, i+1)
	}
}

// runFrame is the frame callback: it flushes a snapshot of the deferred
// queue in FIFO order. Writes made during the pass flush immediately.
func (s *scheduler) runFrame() {
	tasks := s.tasks
	s.tasks = nil
	s.frameRequested = false

	s.busy = true
	s.beginPass()
	defer func() {
		s.busy = false
		s.endPass()
		s.rt.tracer.TraceFrame(FrameEvent{Flushed: len(tasks)})
	}()

	for _, o := range tasks {
		s.flush(o, ModeDeferred)
	}
	s.rt.logger.Debug("frame flushed", "objects", len(tasks))
}

// sync runs fn under the explicit batch regime.
func (s *scheduler) sync(fn func()) {
	if s.phase != phaseIdle {
		fn()
		return
	}

	s.phase = phaseCollecting
	completed := false
	defer func() {
		if completed {
			return
		}
		// fn panicked: hand what it collected to the deferred path so no
		// change is lost, then let the panic continue.
		batch := s.takeBatch()
		s.phase = phaseIdle
		for _, o := range batch {
			s.enqueue(o)
		}
	}()

	fn()
	completed = true

	s.phase = phaseDraining
	s.beginPass()
	defer func() {
		s.phase = phaseIdle
		s.endPass()
	}()

	for _, o := range s.takeBatch() {
		s.flush(o, ModeBatch)
	}
}

func (s *scheduler) takeBatch() []*Object {
	batch := s.batch
	s.batch = nil
	clear(s.inBatch)
	return batch
}

// flush bumps o's revision and calls its observers.
//
// Observers are called in registration order over the set captured at the
// start of the flush; an observer removed before its turn is skipped and one
// added during the flush waits for the next one.
func (s *scheduler) flush(o *Object, mode FlushMode) {
	if o.pending && mode != ModeDeferred {
		s.dequeue(o)
	}
	o.revision = s.rt.clock.Next()
	o.pending = false

	prev := s.mode
	s.mode = mode
	defer func() { s.mode = prev }()

	subs := slices.Clone(o.subs)
	called, failed := 0, 0
	for _, sub := range subs {
		if sub.removed {
			continue
		}
		called++
		if err := s.call(o, sub.fn); err != nil {
			failed++
			s.failures = append(s.failures, err)
		}
	}

	s.rt.tracer.TraceFlush(FlushEvent{
		ObjectID: o.id,
		Revision: o.revision,
		Mode:     mode,
		Called:   called,
		Failed:   failed,
	})
}

// call invokes one observer, converting a panic into an observer failure.
func (s *scheduler) call(o *Object, fn Observer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{
				Code:      ErrCodeObserverFailure,
				Op:        "flush",
				ObjectID:  o.id,
				Recovered: r,
				Stack:     string(debug.Stack()),
				Err:       panicErr(r),
			}
		}
	}()
	fn(o)
	return nil
}

func (s *scheduler) beginPass() {
	s.passDepth++
}

// endPass reports the failures of the outermost pass once, joined.
func (s *scheduler) endPass() {
	s.passDepth--
	if s.passDepth > 0 || len(s.failures) == 0 {
		return
	}
	failures := s.failures
	s.failures = nil
	s.rt.onError(errors.Join(failures...))
}

func panicErr(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
