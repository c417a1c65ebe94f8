package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/easystate/internal/loop"
	"github.com/roach88/easystate/internal/state"
	"github.com/roach88/easystate/internal/testutil"
)

// Driver controls where engine code runs and how frames advance.
type Driver interface {
	// Frames is the frame hook handed to the runtime.
	Frames() state.FrameScheduler
	// Do runs fn on the engine's thread and waits for it.
	Do(fn func()) error
	// Frame runs one frame pass and waits for it.
	Frame() error
}

// ManualDriver runs everything on the caller's goroutine and steps frames
// explicitly. It is the default driver.
type ManualDriver struct {
	frames *state.ManualFrames
}

// NewManualDriver creates a manual driver.
func NewManualDriver() *ManualDriver {
	return &ManualDriver{frames: state.NewManualFrames()}
}

func (d *ManualDriver) Frames() state.FrameScheduler { return d.frames }

func (d *ManualDriver) Do(fn func()) error {
	fn()
	return nil
}

func (d *ManualDriver) Frame() error {
	d.frames.Pump()
	return nil
}

// LoopDriver runs the scenario on a running event loop. Frames are the
// loop's ticks; Frame waits for the next one.
type LoopDriver struct {
	ctx  context.Context
	loop *loop.Loop
}

// NewLoopDriver creates a driver for l. The caller runs and closes l.
func NewLoopDriver(ctx context.Context, l *loop.Loop) *LoopDriver {
	return &LoopDriver{ctx: ctx, loop: l}
}

func (d *LoopDriver) Frames() state.FrameScheduler { return d.loop }

func (d *LoopDriver) Do(fn func()) error {
	return d.loop.Do(d.ctx, fn)
}

func (d *LoopDriver) Frame() error {
	return d.loop.AwaitFrame(d.ctx)
}

// RunOption configures Run.
type RunOption func(*runConfig)

type runConfig struct {
	driver Driver
	tracer state.Tracer
	logger *slog.Logger
}

// WithDriver sets the driver. Default: a new ManualDriver.
func WithDriver(d Driver) RunOption {
	return func(c *runConfig) {
		c.driver = d
	}
}

// WithTracer adds a tracer that sees the runtime's events alongside the
// harness's own recorder.
func WithTracer(t state.Tracer) RunOption {
	return func(c *runConfig) {
		c.tracer = t
	}
}

// WithLogger sets the runtime's logger. Default: discard.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = l
	}
}

// runner holds the state of one scenario execution.
type runner struct {
	rt        *state.Runtime
	driver    Driver
	clock     *testutil.DeterministicClock
	log       *traceLog
	paths     *resolver
	observers map[string]func()
	baseline  map[string]int64
}

// recorder adapts the trace log to state.Tracer.
type recorder struct {
	log *traceLog
}

func (r recorder) TraceFlush(ev state.FlushEvent) {
	r.log.addFlush(FlushRecord{
		ObjectID: ev.ObjectID,
		Revision: ev.Revision,
		Mode:     ev.Mode.String(),
		Called:   ev.Called,
		Failed:   ev.Failed,
	})
}

func (r recorder) TraceFrame(state.FrameEvent) {
	r.log.addFrame()
}

// Run executes a scenario against a fresh runtime and returns the result.
//
// Execution flow:
//  1. Create a runtime on the driver's frames and wrap a copy of the state
//  2. Record the starting revisions revision_changed assertions refer to
//  3. Execute the steps; frame steps advance the driver between them
//  4. Evaluate assertions and detach every observer
//
// An error is returned only if a step cannot be executed (bad path, wrong
// kind of value, driver failure). Assertion and observer failures are
// reported in the result.
func Run(scenario *Scenario, opts ...RunOption) (*Result, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.driver == nil {
		cfg.driver = NewManualDriver()
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	result := NewResult(scenario.Name)
	log := &traceLog{}
	errs := &traceErrors{}

	rt := state.NewRuntime(
		state.WithFrames(cfg.driver.Frames()),
		state.WithTracer(state.Tracers(recorder{log: log}, cfg.tracer)),
		state.WithLogger(cfg.logger),
		state.WithErrorHandler(errs.add),
	)

	r := &runner{
		rt:        rt,
		driver:    cfg.driver,
		clock:     testutil.NewDeterministicClock(),
		log:       log,
		observers: make(map[string]func()),
		baseline:  make(map[string]int64),
	}

	var setupErr error
	if err := r.driver.Do(func() {
		setupErr = r.setup(scenario)
	}); err != nil {
		return nil, fmt.Errorf("failed to start scenario: %w", err)
	}
	if setupErr != nil {
		return nil, fmt.Errorf("failed to set up scenario: %w", setupErr)
	}

	if err := r.executeSteps(scenario.Steps); err != nil {
		return nil, err
	}

	var failures []string
	if err := r.driver.Do(func() {
		for _, unobserve := range r.observers {
			unobserve()
		}
		result.State = r.paths.root.Snapshot()
		log.close(result)

		actx := &AssertionContext{
			Paths:    r.paths,
			Baseline: r.baseline,
		}
		failures = EvaluateAssertions(result, scenario.Assertions, actx)
	}); err != nil {
		return nil, fmt.Errorf("failed to evaluate assertions: %w", err)
	}

	for _, msg := range errs.messages() {
		result.AddError(msg)
	}
	for _, msg := range failures {
		result.AddError(msg)
	}
	return result, nil
}

func (r *runner) setup(scenario *Scenario) error {
	root, err := r.rt.Wrap(copyValue(scenario.State))
	if err != nil {
		return err
	}
	r.paths = &resolver{root: root, aliases: make(map[string]*state.Object)}

	for i, a := range scenario.Assertions {
		if a.Type != AssertRevisionChanged {
			continue
		}
		obj, err := r.paths.object(a.Path)
		if err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
		r.baseline[a.Path] = obj.Revision()
	}
	return nil
}

// executeSteps runs top-level steps. Consecutive non-frame steps run in one
// driver call.
func (r *runner) executeSteps(steps []Step) error {
	start := 0
	flush := func(end int) error {
		if start == end {
			return nil
		}
		var stepErr error
		batch := steps[start:end]
		offset := start
		if err := r.driver.Do(func() {
			for i := range batch {
				if err := r.executeStep(&batch[i]); err != nil {
					stepErr = fmt.Errorf("step %d: %w", offset+i, err)
					return
				}
			}
		}); err != nil {
			return err
		}
		return stepErr
	}

	for i := range steps {
		if steps[i].Kind() != StepFrame {
			continue
		}
		if err := flush(i); err != nil {
			return err
		}
		start = i + 1
		for n := 0; n < steps[i].Frame; n++ {
			if err := r.driver.Frame(); err != nil {
				return fmt.Errorf("step %d: frame: %w", i, err)
			}
		}
	}
	return flush(len(steps))
}

// executeStep runs one non-frame step on the engine's thread.
func (r *runner) executeStep(step *Step) error {
	switch step.Kind() {
	case StepObserve:
		return r.observe(step.Observe, step.Path)

	case StepUnobserve:
		unobserve, ok := r.observers[step.Unobserve]
		if !ok {
			return fmt.Errorf("unobserve: unknown observer %q", step.Unobserve)
		}
		unobserve()
		delete(r.observers, step.Unobserve)
		return nil

	case StepRead:
		v, err := r.paths.value(step.Read)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if step.Expect != nil && !valuesEqual(snapshotOf(v), step.Expect) {
			return fmt.Errorf("read %s: expected %s, got %s", step.Read, formatValue(step.Expect), formatValue(snapshotOf(v)))
		}
		return nil

	case StepSet:
		obj, key, err := r.paths.parent(step.Set)
		if err != nil {
			return fmt.Errorf("set: %w", err)
		}
		value := copyValue(step.Value)
		if !obj.IsList() {
			obj.Set(key, value)
			return nil
		}
		i, err := listIndex(obj, key, true)
		if err != nil {
			return fmt.Errorf("set %s: %w", step.Set, err)
		}
		if i == obj.Len() {
			obj.Append(value)
		} else {
			obj.SetAt(i, value)
		}
		return nil

	case StepDelete:
		obj, key, err := r.paths.parent(step.Delete)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if obj.IsList() {
			return fmt.Errorf("delete %s: list elements cannot be deleted", step.Delete)
		}
		obj.Delete(key)
		return nil

	case StepAppend:
		obj, err := r.paths.object(step.Append)
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		if !obj.IsList() {
			return fmt.Errorf("append %s: not a list", step.Append)
		}
		values := make([]any, len(step.Values))
		for i, v := range step.Values {
			values[i] = copyValue(v)
		}
		obj.Append(values...)
		return nil

	case StepCapture:
		obj, err := r.paths.object(step.Path)
		if err != nil {
			return fmt.Errorf("capture %s: %w", step.Capture, err)
		}
		r.paths.aliases[step.Capture] = obj
		return nil

	case StepSync:
		var syncErr error
		r.rt.Sync(func() {
			for i := range step.Sync {
				if err := r.executeStep(&step.Sync[i]); err != nil {
					syncErr = fmt.Errorf("sync[%d]: %w", i, err)
					return
				}
			}
		})
		return syncErr

	case StepFrame:
		return fmt.Errorf("frame steps cannot run inside sync")

	default:
		return fmt.Errorf("step has no single action")
	}
}

func (r *runner) observe(name, path string) error {
	if _, exists := r.observers[name]; exists {
		return fmt.Errorf("observe: observer %q already registered", name)
	}
	obj, err := r.paths.object(path)
	if err != nil {
		return fmt.Errorf("observe %s: %w", name, err)
	}
	r.observers[name] = obj.Observe(func(o *state.Object) {
		mode, _ := r.rt.Flushing()
		r.log.addEvent(TraceEvent{
			Seq:      r.clock.Next(),
			Observer: name,
			Mode:     mode.String(),
			Revision: o.Revision(),
			State:    o.Snapshot(),
		})
	})
	return nil
}

// traceErrors collects observer failures reported by the runtime.
type traceErrors struct {
	mu  sync.Mutex
	msg []string
}

func (e *traceErrors) add(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msg = append(e.msg, fmt.Sprintf("observer failure: %v", err))
}

func (e *traceErrors) messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.msg...)
}

// copyValue deep-copies plain records and lists so a run never mutates the
// scenario it was given.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

func snapshotOf(v any) any {
	if obj, ok := v.(*state.Object); ok {
		return obj.Snapshot()
	}
	return v
}
