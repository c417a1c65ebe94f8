package state

// FlushMode identifies the regime that flushed an object.
type FlushMode int

const (
	// ModeDeferred is a flush run by a frame callback.
	ModeDeferred FlushMode = iota + 1
	// ModeBatch is a flush run when the outermost Sync returns.
	ModeBatch
	// ModeImmediate is a flush run synchronously inside a write because a
	// drain pass was already in progress.
	ModeImmediate
)

func (m FlushMode) String() string {
	switch m {
	case ModeDeferred:
		return "deferred"
	case ModeBatch:
		return "batch"
	case ModeImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// FlushEvent describes one completed flush of one object.
type FlushEvent struct {
	ObjectID int64
	Revision int64
	Mode     FlushMode
	// Called is the number of observers invoked.
	Called int
	// Failed is the number of observers that panicked.
	Failed int
}

// FrameEvent describes one completed frame pass.
type FrameEvent struct {
	// Flushed is the number of objects in the pass's snapshot.
	Flushed int
}

// Tracer receives engine events. Calls happen on the engine's thread,
// after the flush or frame they describe.
type Tracer interface {
	TraceFlush(FlushEvent)
	TraceFrame(FrameEvent)
}

type nopTracer struct{}

func (nopTracer) TraceFlush(FlushEvent) {}
func (nopTracer) TraceFrame(FrameEvent) {}

type multiTracer []Tracer

func (m multiTracer) TraceFlush(ev FlushEvent) {
	for _, t := range m {
		t.TraceFlush(ev)
	}
}

func (m multiTracer) TraceFrame(ev FrameEvent) {
	for _, t := range m {
		t.TraceFrame(ev)
	}
}

// Tracers fans events out to every non-nil tracer in order.
func Tracers(ts ...Tracer) Tracer {
	var out multiTracer
	for _, t := range ts {
		if t != nil {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nopTracer{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
