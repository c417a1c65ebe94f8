// Package form provides reactive form-field state and input handles.
//
// A Field is a reactive record with the keys value, invalid, focused,
// touched, changed and locked. Observers of Field.Object see every change a
// Handle makes in response to focus, blur and change events.
package form

import (
	"fmt"

	"github.com/roach88/easystate/internal/constraint"
	"github.com/roach88/easystate/internal/state"
)

// Field record keys.
const (
	KeyValue   = "value"
	KeyInvalid = "invalid"
	KeyFocused = "focused"
	KeyTouched = "touched"
	KeyChanged = "changed"
	KeyLocked  = "locked"
)

// Kind is the value kind a field holds, fixed by its initial value.
type Kind int

const (
	KindString Kind = iota + 1
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Validator reports whether a value is acceptable.
type Validator func(value any) bool

// ConstraintValidator returns a validator backed by a CUE constraint.
func ConstraintValidator(expr string) (Validator, error) {
	c, err := constraint.Compile(expr)
	if err != nil {
		return nil, err
	}
	return c.Valid, nil
}

// Field is the reactive state of one form input.
type Field struct {
	obj       *state.Object
	kind      Kind
	validator Validator
}

// NewField creates a field holding initial, which must be a string, a bool,
// an int or a float64. Ints are stored as float64. A nil validator accepts
// every value.
func NewField(rt *state.Runtime, initial any, validator Validator) (*Field, error) {
	var kind Kind
	switch v := initial.(type) {
	case string:
		kind = KindString
	case bool:
		kind = KindBool
	case float64:
		kind = KindNumber
	case int:
		kind = KindNumber
		initial = float64(v)
	default:
		return nil, fmt.Errorf("form: unsupported field value %T", initial)
	}

	f := &Field{kind: kind, validator: validator}
	obj, err := rt.Wrap(map[string]any{
		KeyValue:   initial,
		KeyInvalid: !f.validate(initial),
		KeyFocused: false,
		KeyTouched: false,
		KeyChanged: false,
		KeyLocked:  false,
	})
	if err != nil {
		return nil, fmt.Errorf("wrap field: %w", err)
	}
	f.obj = obj
	return f, nil
}

func (f *Field) validate(v any) bool {
	if f.validator == nil {
		return true
	}
	return f.validator(v)
}

// Object returns the reactive record backing the field.
func (f *Field) Object() *state.Object { return f.obj }

// Kind returns the field's value kind.
func (f *Field) Kind() Kind { return f.kind }

// Value returns the current value.
func (f *Field) Value() any { return f.obj.Get(KeyValue) }

// SetValue stores v and recomputes invalid.
func (f *Field) SetValue(v any) {
	f.obj.Set(KeyValue, v)
	f.obj.Set(KeyInvalid, !f.validate(v))
}

// Invalid reports whether the validator rejected the current value.
func (f *Field) Invalid() bool { return f.flag(KeyInvalid) }

// Focused reports whether the field's input has focus.
func (f *Field) Focused() bool { return f.flag(KeyFocused) }

// Touched reports whether the field has been blurred at least once.
func (f *Field) Touched() bool { return f.flag(KeyTouched) }

// Changed reports whether the user has edited the field.
func (f *Field) Changed() bool { return f.flag(KeyChanged) }

// Locked reports whether the field is read-only for views.
func (f *Field) Locked() bool { return f.flag(KeyLocked) }

// SetLocked marks the field read-only for views. Handles do not enforce it.
func (f *Field) SetLocked(locked bool) {
	f.obj.Set(KeyLocked, locked)
}

func (f *Field) flag(key string) bool {
	b, _ := f.obj.Get(key).(bool)
	return b
}

// AnyInvalid reports whether at least one of fields is invalid.
func AnyInvalid(fields ...*Field) bool {
	for _, f := range fields {
		if f.Invalid() {
			return true
		}
	}
	return false
}
