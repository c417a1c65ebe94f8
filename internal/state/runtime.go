package state

import (
	"fmt"
	"log/slog"
	"sync"
)

// ErrorHandler receives the joined observer failures of one flush pass.
type ErrorHandler func(err error)

// Runtime owns the process-wide engine state: the revision clock, the
// deferred queue, the batch set and the frame hook.
//
// Every Object belongs to the Runtime that wrapped it. Runtimes are
// independent; tests create their own instead of sharing Default.
type Runtime struct {
	clock  *Clock
	ids    *Clock
	sched  *scheduler
	frames FrameScheduler
	tracer Tracer
	logger *slog.Logger

	onError ErrorHandler
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithFrames sets the frame hook used by the deferred regime.
// Default: a ManualFrames reachable through Frames.
func WithFrames(f FrameScheduler) Option {
	return func(rt *Runtime) {
		rt.frames = f
	}
}

// WithTracer sets the tracer receiving flush and frame events.
func WithTracer(t Tracer) Option {
	return func(rt *Runtime) {
		rt.tracer = Tracers(t)
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = l
	}
}

// WithErrorHandler sets the handler for observer failures.
// Default: log at error level and continue.
func WithErrorHandler(h ErrorHandler) Option {
	return func(rt *Runtime) {
		rt.onError = h
	}
}

// WithClock sets the revision clock, e.g. to resume from a known revision.
func WithClock(c *Clock) Option {
	return func(rt *Runtime) {
		rt.clock = c
	}
}

// NewRuntime creates a runtime with the given options.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		clock:  NewClock(),
		ids:    NewClock(),
		tracer: nopTracer{},
	}
	rt.sched = newScheduler(rt)

	for _, opt := range opts {
		opt(rt)
	}

	if rt.frames == nil {
		rt.frames = NewManualFrames()
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	if rt.onError == nil {
		rt.onError = rt.logFailures
	}
	return rt
}

// Wrap returns the reactive object for v.
//
// An object is returned unchanged. A map[string]any or []any is wrapped in a
// new object with a fresh revision. Anything else is an INVALID_ARGUMENT.
func (rt *Runtime) Wrap(v any) (*Object, error) {
	switch raw := v.(type) {
	case *Object:
		if raw != nil {
			return raw, nil
		}
	case map[string]any:
		if raw != nil {
			return rt.newObject(raw, nil, false), nil
		}
	case []any:
		return rt.newObject(nil, raw, true), nil
	}
	return nil, &Error{
		Code:    ErrCodeInvalidArgument,
		Op:      "Wrap",
		Message: fmt.Sprintf("not a record or list: %T", v),
	}
}

// MustWrap is like Wrap but panics on error.
// Use only when v is known to be a record or list.
func (rt *Runtime) MustWrap(v any) *Object {
	o, err := rt.Wrap(v)
	if err != nil {
		panic(err)
	}
	return o
}

// Sync runs fn under the explicit batch regime: every object written during
// fn is flushed once before Sync returns. Nested calls run fn inline and
// leave the flush to the outermost call.
func (rt *Runtime) Sync(fn func()) {
	rt.sched.sync(fn)
}

// Frames returns the frame hook.
func (rt *Runtime) Frames() FrameScheduler {
	return rt.frames
}

// Pending returns the number of objects waiting in the deferred queue.
func (rt *Runtime) Pending() int {
	return len(rt.sched.tasks)
}

// Flushing reports the mode of the flush currently calling observers.
// Returns false outside a flush.
func (rt *Runtime) Flushing() (FlushMode, bool) {
	return rt.sched.mode, rt.sched.mode != 0
}

// CurrentRevision returns the last revision handed out by the runtime.
func (rt *Runtime) CurrentRevision() int64 {
	return rt.clock.Current()
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

func (rt *Runtime) logFailures(err error) {
	failures := ObserverFailures(err)
	rt.logger.Error("observer dispatch failed",
		"failures", len(failures),
		"error", err,
	)
}

// SyncValue runs fn under rt.Sync and returns its result.
func SyncValue[R any](rt *Runtime, fn func() R) R {
	var r R
	rt.Sync(func() {
		r = fn()
	})
	return r
}

// SyncCallback returns a version of fn that runs under rt.Sync whenever it
// is invoked.
func SyncCallback[A any](rt *Runtime, fn func(A)) func(A) {
	return func(a A) {
		rt.Sync(func() {
			fn(a)
		})
	}
}

// SyncFunc is SyncCallback for functions without arguments.
func SyncFunc(rt *Runtime, fn func()) func() {
	return func() {
		rt.Sync(fn)
	}
}

var (
	defaultRuntime *Runtime
	defaultMu      sync.Mutex
)

// Default returns the process runtime used by the package-level functions,
// creating it on first use.
func Default() *Runtime {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRuntime == nil {
		defaultRuntime = NewRuntime()
	}
	return defaultRuntime
}

// SetDefault replaces the process runtime. Pass nil to reset it; the next
// Default call creates a fresh one.
func SetDefault(rt *Runtime) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRuntime = rt
}

// Wrap wraps v with the default runtime.
func Wrap(v any) (*Object, error) {
	return Default().Wrap(v)
}

// MustWrap wraps v with the default runtime and panics on error.
func MustWrap(v any) *Object {
	return Default().MustWrap(v)
}

// Sync runs fn under the default runtime's batch regime.
func Sync(fn func()) {
	Default().Sync(fn)
}
