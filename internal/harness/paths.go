package harness

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/easystate/internal/state"
)

// resolver walks dot-separated paths from the root object or a captured one.
type resolver struct {
	root    *state.Object
	aliases map[string]*state.Object
}

// splitPath returns the starting object and the remaining segments.
func (r *resolver) splitPath(path string) (*state.Object, []string, error) {
	if path == "" {
		return r.root, nil, nil
	}
	segments := strings.Split(path, ".")
	start := r.root
	if name, ok := strings.CutPrefix(segments[0], "$"); ok {
		obj, found := r.aliases[name]
		if !found {
			return nil, nil, fmt.Errorf("unknown capture %q", name)
		}
		start = obj
		segments = segments[1:]
	}
	for _, seg := range segments {
		if seg == "" {
			return nil, nil, fmt.Errorf("empty segment in path %q", path)
		}
	}
	return start, segments, nil
}

// value returns the value at path. A missing last record field reads as nil.
func (r *resolver) value(path string) (any, error) {
	cur, segments, err := r.splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return cur, nil
	}

	var v any = cur
	for i, seg := range segments {
		obj, ok := v.(*state.Object)
		if !ok {
			return nil, fmt.Errorf("path %q: %s is not a record or list", path, strings.Join(segments[:i], "."))
		}
		v, err = child(obj, seg)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", path, err)
		}
	}
	return v, nil
}

// object returns the reactive object at path.
func (r *resolver) object(path string) (*state.Object, error) {
	v, err := r.value(path)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*state.Object)
	if !ok {
		return nil, fmt.Errorf("path %q: %T is not a record or list", path, v)
	}
	return obj, nil
}

// parent returns the object holding the last segment of path and that
// segment.
func (r *resolver) parent(path string) (*state.Object, string, error) {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		if strings.HasPrefix(path, "$") {
			return nil, "", fmt.Errorf("path %q names a captured object, not a field", path)
		}
		return r.root, path, nil
	}
	obj, err := r.object(path[:idx])
	if err != nil {
		return nil, "", err
	}
	key := path[idx+1:]
	if key == "" {
		return nil, "", fmt.Errorf("empty segment in path %q", path)
	}
	return obj, key, nil
}

func child(obj *state.Object, seg string) (any, error) {
	if !obj.IsList() {
		return obj.Get(seg), nil
	}
	i, err := listIndex(obj, seg, false)
	if err != nil {
		return nil, err
	}
	return obj.At(i), nil
}

// listIndex parses seg as an element index of obj. With appendable, the
// index one past the end is accepted.
func listIndex(obj *state.Object, seg string, appendable bool) (int, error) {
	i, err := strconv.Atoi(seg)
	if err != nil {
		return 0, fmt.Errorf("list index %q is not an integer", seg)
	}
	limit := obj.Len()
	if appendable {
		limit++
	}
	if i < 0 || i >= limit {
		return 0, fmt.Errorf("list index %d out of range [0,%d)", i, obj.Len())
	}
	return i, nil
}
