package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type opaque struct {
	Name string
}

func TestIsStructured(t *testing.T) {
	rt := NewRuntime()
	obj := rt.MustWrap(map[string]any{})
	listObj := rt.MustWrap([]any{1})

	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"plain record", map[string]any{"a": 1}, true},
		{"empty record", map[string]any{}, true},
		{"nil record", map[string]any(nil), false},
		{"reactive object", obj, true},
		{"reactive list object", listObj, true},
		{"list", []any{1}, false},
		{"typed map", map[string]int{"a": 1}, false},
		{"struct", opaque{Name: "x"}, false},
		{"struct pointer", &opaque{Name: "x"}, false},
		{"time", time.Now(), false},
		{"string", "x", false},
		{"int", 1, false},
		{"nil", nil, false},
		{"func", func() {}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStructured(tt.v))
		})
	}
}

func TestIsList(t *testing.T) {
	assert.True(t, IsList([]any{}))
	assert.True(t, IsList([]any(nil)))
	assert.False(t, IsList([]string{"a"}))
	assert.False(t, IsList(map[string]any{}))
}

func TestWrappable(t *testing.T) {
	assert.True(t, Wrappable(map[string]any{}))
	assert.True(t, Wrappable([]any{}))
	assert.False(t, Wrappable(&opaque{}))
	assert.True(t, Wrappable(NewRuntime().MustWrap([]any{})))
}

func TestSame(t *testing.T) {
	m := map[string]any{"a": 1}
	m2 := map[string]any{"a": 1}
	l := []any{1, 2}
	l2 := []any{1, 2}
	p := &opaque{}
	f := func() {}

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"same map", m, m, true},
		{"equal maps", m, m2, false},
		{"same list", l, l, true},
		{"equal lists", l, l2, false},
		{"resliced list", l, l[:1], false},
		{"same pointer", p, p, true},
		{"different pointers", p, &opaque{}, false},
		{"equal strings", "x", "x", true},
		{"different strings", "x", "y", false},
		{"equal structs", opaque{"a"}, opaque{"a"}, true},
		{"different types", 1, int64(1), false},
		{"both nil", nil, nil, true},
		{"nil and value", nil, "x", false},
		{"same func", f, f, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Same(tt.a, tt.b))
		})
	}
}
