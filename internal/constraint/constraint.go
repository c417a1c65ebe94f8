// Package constraint checks plain values against CUE expressions.
//
// Form fields use constraints as validators and scenario files use them in
// schema assertions, e.g. `>=0 & <=100` or `{name: string, tags: [...string]}`.
package constraint

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error describes a constraint that failed to compile or a value that
// failed to satisfy one.
type Error struct {
	Expr    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("constraint %q:%d:%d: %s", e.Expr, e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("constraint %q: %s", e.Expr, e.Message)
}

// Constraint is a compiled CUE expression.
//
// A Constraint owns its CUE context and is NOT safe for concurrent use.
type Constraint struct {
	expr   string
	ctx    *cue.Context
	schema cue.Value
}

// snapshotter is implemented by reactive objects; their plain snapshot is
// what gets checked.
type snapshotter interface {
	Snapshot() any
}

// Compile parses expr into a constraint.
func Compile(expr string) (*Constraint, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(expr, cue.Filename("constraint"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(expr, err)
	}
	return &Constraint{expr: expr, ctx: ctx, schema: schema}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Constraint {
	c, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the source expression.
func (c *Constraint) String() string {
	return c.expr
}

// Check unifies v with the constraint and requires the result to be
// concrete. A nil error means v satisfies the constraint.
func (c *Constraint) Check(v any) error {
	if s, ok := v.(snapshotter); ok {
		v = s.Snapshot()
	}

	val := c.ctx.Encode(v)
	if err := val.Err(); err != nil {
		return formatCUEError(c.expr, err)
	}

	unified := c.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(c.expr, err)
	}
	return nil
}

// Valid reports whether v satisfies the constraint.
func (c *Constraint) Valid(v any) bool {
	return c.Check(v) == nil
}

// formatCUEError keeps the first CUE error with its position.
func formatCUEError(expr string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Expr: expr, Message: err.Error()}
	}

	first := errs[0]
	out := &Error{Expr: expr, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}
