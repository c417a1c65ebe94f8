package bind

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/easystate/internal/state"
)

func newRuntime(t *testing.T) (*state.Runtime, *state.ManualFrames) {
	t.Helper()
	frames := state.NewManualFrames()
	rt := state.NewRuntime(
		state.WithFrames(frames),
		state.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return rt, frames
}

func TestBind_CountsRebuilds(t *testing.T) {
	rt, frames := newRuntime(t)
	obj := rt.MustWrap(map[string]any{"n": 0})

	var seen []any
	b := Bind(obj, func(o *state.Object) {
		seen = append(seen, o.Get("n"))
	})
	assert.Same(t, obj, b.Object())
	assert.Equal(t, 0, b.Rebuilds())

	obj.Set("n", 1)
	obj.Set("n", 2)
	frames.Pump()

	assert.Equal(t, 1, b.Rebuilds())
	assert.Equal(t, []any{2}, seen)
	assert.Equal(t, obj.Revision(), b.Revision())
	assert.False(t, b.Stale())
}

func TestBind_NilCallback(t *testing.T) {
	rt, _ := newRuntime(t)
	obj := rt.MustWrap(map[string]any{})

	b := Bind(obj, nil)
	rt.Sync(func() { obj.Set("a", 1) })
	assert.Equal(t, 1, b.Rebuilds())
}

func TestBind_DisposeUnobserves(t *testing.T) {
	rt, frames := newRuntime(t)
	obj := rt.MustWrap(map[string]any{})

	b := Bind(obj, nil)
	require.Equal(t, 1, obj.ObserverCount())

	b.Dispose()
	b.Dispose()
	assert.True(t, b.IsDisposed())
	assert.Equal(t, 0, obj.ObserverCount())

	obj.Set("a", 1)
	frames.Pump()
	assert.Equal(t, 0, b.Rebuilds())
	assert.True(t, b.Stale(), "flushed while disposed")
}

func TestBind_OnDisposeRunsLIFO(t *testing.T) {
	rt, _ := newRuntime(t)
	b := Bind(rt.MustWrap(map[string]any{}), nil)

	var order []string
	b.OnDispose(func() { order = append(order, "first") })
	unregister := b.OnDispose(func() { order = append(order, "removed") })
	b.OnDispose(func() { order = append(order, "last") })
	unregister()

	b.Dispose()
	assert.Equal(t, []string{"last", "first"}, order)

	b.OnDispose(func() { order = append(order, "late") })
	assert.Equal(t, []string{"last", "first", "late"}, order, "runs immediately once disposed")
}

func TestBind_DisposeDuringDispatch(t *testing.T) {
	rt, frames := newRuntime(t)
	obj := rt.MustWrap(map[string]any{})

	var second *Binding
	first := Bind(obj, func(*state.Object) { second.Dispose() })
	second = Bind(obj, nil)

	obj.Set("a", 1)
	frames.Pump()

	assert.Equal(t, 1, first.Rebuilds())
	assert.Equal(t, 0, second.Rebuilds(), "disposed before its turn")
}
