package harness

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/easystate/internal/loop"
	"github.com/roach88/easystate/internal/state"
)

func boolPtr(b bool) *bool { return &b }

func counterScenario() *Scenario {
	return &Scenario{
		Name:        "counter",
		Description: "Two writes coalesce into one deferred notification",
		State:       map[string]any{"count": 0},
		Steps: []Step{
			{Observe: "root"},
			{Set: "count", Value: 1},
			{Set: "count", Value: 2},
			{Frame: 1},
		},
		Assertions: []Assertion{
			{Type: AssertNotifyCount, Observer: "root", Count: 1},
			{Type: AssertNotifyModes, Observer: "root", Modes: []string{"deferred"}},
			{Type: AssertFinalState, Path: "count", Expect: 2},
			{Type: AssertRevisionChanged, Path: "", Changed: boolPtr(true)},
		},
	}
}

func TestRun_DeferredCoalescing(t *testing.T) {
	result, err := Run(counterScenario())
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "counter", result.Scenario)

	require.Len(t, result.Trace, 1)
	ev := result.Trace[0]
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, "root", ev.Observer)
	assert.Equal(t, "deferred", ev.Mode)
	assert.Equal(t, map[string]any{"count": 2}, ev.State)

	require.Len(t, result.Flushes, 1)
	assert.Equal(t, "deferred", result.Flushes[0].Mode)
	assert.Equal(t, 1, result.Flushes[0].Called)
	assert.Equal(t, ev.Revision, result.Flushes[0].Revision)
	assert.Equal(t, 1, result.Frames)
	assert.Equal(t, map[string]any{"count": 2}, result.State)
}

func TestRun_DoesNotMutateScenario(t *testing.T) {
	scenario := counterScenario()
	_, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 0}, scenario.State)

	// A second run starts from the same state.
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestRun_NoFrameNoNotification(t *testing.T) {
	scenario := &Scenario{
		Name:        "no_frame",
		Description: "Writes without a frame stay pending",
		State:       map[string]any{"a": 0},
		Steps: []Step{
			{Observe: "root"},
			{Set: "a", Value: 1},
		},
		Assertions: []Assertion{
			{Type: AssertNotifyCount, Observer: "root", Count: 0},
			{Type: AssertRevisionChanged, Path: "", Changed: boolPtr(false)},
			{Type: AssertFinalState, Path: "a", Expect: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace)
	assert.Equal(t, 0, result.Frames)
}

func TestRun_SyncBatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "sync",
		Description: "A sync block flushes once before returning",
		State:       map[string]any{"a": 0, "b": 0},
		Steps: []Step{
			{Observe: "root"},
			{Sync: []Step{
				{Set: "a", Value: 1},
				{Set: "b", Value: 2},
			}},
		},
		Assertions: []Assertion{
			{Type: AssertNotifyModes, Observer: "root", Modes: []string{"batch"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, result.Trace[0].State)
	assert.Equal(t, 0, result.Frames)
}

func TestRun_NestedWriteNotifiesParentImmediately(t *testing.T) {
	scenario := &Scenario{
		Name:        "nested",
		Description: "Child flush chains to the parent",
		State:       map[string]any{"cart": map[string]any{"total": 0}},
		Steps: []Step{
			{Observe: "root"},
			{Capture: "cart", Path: "cart"},
			{Observe: "cart", Path: "$cart"},
			{Set: "$cart.total", Value: 3},
			{Read: "$cart.total", Expect: 3},
			{Frame: 1},
		},
		Assertions: []Assertion{
			{Type: AssertNotifyOrder, Observers: []string{"root", "cart"}},
			{Type: AssertNotifyModes, Observer: "root", Modes: []string{"immediate"}},
			{Type: AssertNotifyModes, Observer: "cart", Modes: []string{"deferred"}},
			{Type: AssertSchema, Path: "cart", Constraint: "{total: int & >=0}"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Notifications("cart"), 1)
	assert.Equal(t, map[string]any{"total": 3}, result.Notifications("cart")[0].State)
}

func TestRun_Unobserve(t *testing.T) {
	scenario := &Scenario{
		Name:        "unobserve",
		Description: "An unsubscribed observer is not called",
		State:       map[string]any{"a": 0},
		Steps: []Step{
			{Observe: "root"},
			{Set: "a", Value: 1},
			{Frame: 1},
			{Unobserve: "root"},
			{Set: "a", Value: 2},
			{Frame: 1},
		},
		Assertions: []Assertion{
			{Type: AssertNotifyCount, Observer: "root", Count: 1},
			{Type: AssertFinalState, Path: "a", Expect: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Flushes, 2)
	assert.Equal(t, 0, result.Flushes[1].Called)
}

func TestRun_ListOperations(t *testing.T) {
	scenario := &Scenario{
		Name:        "lists",
		Description: "Index writes, appends past the end and appends",
		State:       map[string]any{"items": []any{1, 2}},
		Steps: []Step{
			{Observe: "items", Path: "items"},
			{Set: "items.0", Value: 10},
			{Set: "items.2", Value: 3},
			{Append: "items", Values: []any{map[string]any{"sku": "a1"}}},
			{Frame: 1},
			{Read: "items.3.sku", Expect: "a1"},
		},
		Assertions: []Assertion{
			{Type: AssertNotifyCount, Observer: "items", Count: 1},
			{Type: AssertFinalState, Path: "items", Expect: []any{10, 2, 3, map[string]any{"sku": "a1"}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_DeleteField(t *testing.T) {
	scenario := &Scenario{
		Name:        "delete",
		Description: "Deleting a field notifies",
		State:       map[string]any{"a": 1, "b": 2},
		Steps: []Step{
			{Observe: "root"},
			{Delete: "a"},
			{Delete: "missing"},
			{Frame: 1},
		},
		Assertions: []Assertion{
			{Type: AssertNotifyCount, Observer: "root", Count: 1},
			{Type: AssertFinalState, Path: "", Expect: map[string]any{"b": 2}},
			{Type: AssertFinalState, Path: "a", Expect: nil},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FractionalValues(t *testing.T) {
	scenario := &Scenario{
		Name:        "fraction",
		Description: "Fractional numbers compare without a canonical form",
		State:       map[string]any{"ratio": 0.25},
		Steps: []Step{
			{Set: "ratio", Value: 0.5},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Path: "ratio", Expect: 0.5},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_AssertionFailures(t *testing.T) {
	scenario := counterScenario()
	scenario.Assertions = []Assertion{
		{Type: AssertNotifyCount, Observer: "root", Count: 2},
		{Type: AssertFinalState, Path: "count", Expect: 5},
		{Type: AssertNotifyOrder, Observers: []string{"root", "ghost"}},
		{Type: AssertSchema, Path: "count", Constraint: "string"},
		{Type: AssertRevisionChanged, Path: "", Changed: boolPtr(false)},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "Assertion failed: notify_count")
	assert.Contains(t, result.Errors[0], "Actual: 1 times")
	assert.Contains(t, result.Errors[0], "Full trace:")
	assert.Contains(t, result.Errors[1], "count = 5")
	assert.Contains(t, result.Errors[1], "count = 2")
	assert.Contains(t, result.Errors[2], "ghost was never notified")
	assert.Contains(t, result.Errors[3], "Assertion failed: schema")
	assert.Contains(t, result.Errors[4], "Assertion failed: revision_changed")
}

func TestRun_StepErrors(t *testing.T) {
	tests := []struct {
		name    string
		state   map[string]any
		steps   []Step
		wantErr string
	}{
		{
			name:    "unknown capture",
			state:   map[string]any{},
			steps:   []Step{{Read: "$nope.a"}},
			wantErr: `step 0: read: unknown capture "nope"`,
		},
		{
			name:    "list index out of range",
			state:   map[string]any{"items": []any{1}},
			steps:   []Step{{Set: "items.5", Value: 1}},
			wantErr: "out of range",
		},
		{
			name:    "list index not an integer",
			state:   map[string]any{"items": []any{1}},
			steps:   []Step{{Read: "items.x"}},
			wantErr: "is not an integer",
		},
		{
			name:    "append to record",
			state:   map[string]any{"cart": map[string]any{}},
			steps:   []Step{{Append: "cart", Values: []any{1}}},
			wantErr: "not a list",
		},
		{
			name:    "delete list element",
			state:   map[string]any{"items": []any{1}},
			steps:   []Step{{Delete: "items.0"}},
			wantErr: "cannot be deleted",
		},
		{
			name:    "walk through a scalar",
			state:   map[string]any{"a": 1},
			steps:   []Step{{Set: "a.b", Value: 1}},
			wantErr: "is not a record or list",
		},
		{
			name:    "observe a scalar",
			state:   map[string]any{"a": 1},
			steps:   []Step{{Observe: "a", Path: "a"}},
			wantErr: "is not a record or list",
		},
		{
			name:    "duplicate observer",
			state:   map[string]any{},
			steps:   []Step{{Observe: "root"}, {Observe: "root"}},
			wantErr: `step 1: observe: observer "root" already registered`,
		},
		{
			name:    "unknown unobserve",
			state:   map[string]any{},
			steps:   []Step{{Unobserve: "root"}},
			wantErr: "unknown observer",
		},
		{
			name:    "read mismatch",
			state:   map[string]any{"a": 1},
			steps:   []Step{{Read: "a", Expect: 2}},
			wantErr: "read a: expected 2, got 1",
		},
		{
			name:    "error inside sync",
			state:   map[string]any{},
			steps:   []Step{{Sync: []Step{{Read: "$nope"}}}},
			wantErr: "step 0: sync[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "step_error",
				Description: "step error",
				State:       tt.state,
				Steps:       tt.steps,
				Assertions:  []Assertion{{Type: AssertNotifyCount, Observer: "root"}},
			}
			_, err := Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_RevisionChangedNeedsExistingObject(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing",
		Description: "revision_changed on a missing object",
		State:       map[string]any{},
		Steps:       []Step{{Observe: "root"}},
		Assertions: []Assertion{
			{Type: AssertRevisionChanged, Path: "cart", Changed: boolPtr(true)},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set up scenario")
}

type countingTracer struct {
	flushes int
	frames  int
}

func (c *countingTracer) TraceFlush(state.FlushEvent) { c.flushes++ }
func (c *countingTracer) TraceFrame(state.FrameEvent) { c.frames++ }

func TestRun_WithTracer(t *testing.T) {
	tracer := &countingTracer{}
	result, err := Run(counterScenario(), WithTracer(tracer))
	require.NoError(t, err)

	assert.Equal(t, len(result.Flushes), tracer.flushes)
	assert.Equal(t, result.Frames, tracer.frames)
}

func TestRun_LoopDriver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l := loop.New(
		loop.WithFrameInterval(time.Millisecond),
		loop.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	defer func() {
		l.Close()
		<-done
	}()

	result, err := Run(counterScenario(), WithDriver(NewLoopDriver(ctx, l)))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "deferred", result.Trace[0].Mode)
	assert.Equal(t, 1, result.Frames)
}

func TestRun_LoopDriverClosed(t *testing.T) {
	l := loop.New(loop.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	l.Close()

	_, err := Run(counterScenario(), WithDriver(NewLoopDriver(context.Background(), l)))
	require.Error(t, err)
	assert.ErrorIs(t, err, loop.ErrClosed)
}
