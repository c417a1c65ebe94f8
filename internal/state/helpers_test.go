package state

import (
	"io"
	"log/slog"
	"testing"
)

// recordingTracer captures engine events for assertions.
type recordingTracer struct {
	flushes []FlushEvent
	frames  []FrameEvent
}

func (r *recordingTracer) TraceFlush(ev FlushEvent) { r.flushes = append(r.flushes, ev) }
func (r *recordingTracer) TraceFrame(ev FrameEvent) { r.frames = append(r.frames, ev) }

// testEnv bundles a runtime with its manual frames and captured failures.
type testEnv struct {
	rt     *Runtime
	frames *ManualFrames
	tracer *recordingTracer
	errs   []error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		frames: NewManualFrames(),
		tracer: &recordingTracer{},
	}
	env.rt = NewRuntime(
		WithFrames(env.frames),
		WithTracer(env.tracer),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithErrorHandler(func(err error) { env.errs = append(env.errs, err) }),
	)
	return env
}

func (e *testEnv) wrap(t *testing.T, v any) *Object {
	t.Helper()
	o, err := e.rt.Wrap(v)
	if err != nil {
		t.Fatalf("Wrap() failed: %v", err)
	}
	return o
}

// counter returns an observer that counts calls.
func counter(n *int) Observer {
	return func(*Object) { *n++ }
}
