package harness

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/easystate/internal/canonical"
	"github.com/roach88/easystate/internal/constraint"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s (%s) rev=%d\n", ev.Seq, ev.Observer, ev.Mode, ev.Revision)
		}
	}

	return buf.String()
}

// AssertionContext gives assertions access to the live objects of a run.
type AssertionContext struct {
	Paths *resolver
	// Baseline maps revision_changed paths to their revision before the
	// first step.
	Baseline map[string]int64
}

// assertNotifyCount checks how many times an observer was called.
func assertNotifyCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Observer == assertion.Observer {
			count++
		}
	}
	if count == assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertNotifyCount,
		Expected: fmt.Sprintf("%s notified %d times", assertion.Observer, assertion.Count),
		Actual:   fmt.Sprintf("%d times", count),
		Trace:    trace,
	}
}

// assertNotifyOrder checks that observers were first notified in the given
// order. Other notifications may come in between.
func assertNotifyOrder(trace []TraceEvent, assertion Assertion) error {
	first := make(map[string]int64)
	for _, ev := range trace {
		if _, seen := first[ev.Observer]; !seen {
			first[ev.Observer] = ev.Seq
		}
	}

	for _, name := range assertion.Observers {
		if _, ok := first[name]; !ok {
			return &AssertionError{
				Type:     AssertNotifyOrder,
				Expected: fmt.Sprintf("observers notified in order %v", assertion.Observers),
				Actual:   fmt.Sprintf("%s was never notified", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Observers); i++ {
		prev, cur := assertion.Observers[i-1], assertion.Observers[i]
		if first[prev] >= first[cur] {
			return &AssertionError{
				Type:     AssertNotifyOrder,
				Expected: fmt.Sprintf("observers notified in order %v", assertion.Observers),
				Actual: fmt.Sprintf("%s first notified at seq %d, before %s at seq %d",
					cur, first[cur], prev, first[prev]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertNotifyModes checks the sequence of flush modes an observer saw.
func assertNotifyModes(trace []TraceEvent, assertion Assertion) error {
	var modes []string
	for _, ev := range trace {
		if ev.Observer == assertion.Observer {
			modes = append(modes, ev.Mode)
		}
	}
	if len(modes) == len(assertion.Modes) {
		match := true
		for i := range modes {
			if modes[i] != assertion.Modes[i] {
				match = false
				break
			}
		}
		if match {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertNotifyModes,
		Expected: fmt.Sprintf("%s notified with modes %v", assertion.Observer, assertion.Modes),
		Actual:   fmt.Sprintf("%v", modes),
		Trace:    trace,
	}
}

// assertFinalState compares the value at a path with the expected value.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	v, err := actx.Paths.value(assertion.Path)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %s", displayPath(assertion.Path), formatValue(assertion.Expect)),
			Actual:   err.Error(),
		}
	}
	actual := snapshotOf(v)
	if valuesEqual(actual, assertion.Expect) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s = %s", displayPath(assertion.Path), formatValue(assertion.Expect)),
		Actual:   fmt.Sprintf("%s = %s", displayPath(assertion.Path), formatValue(actual)),
	}
}

// assertSchema checks the value at a path against a CUE constraint.
func assertSchema(actx *AssertionContext, assertion Assertion) error {
	c, err := constraint.Compile(assertion.Constraint)
	if err != nil {
		return err
	}
	v, err := actx.Paths.value(assertion.Path)
	if err != nil {
		return &AssertionError{
			Type:     AssertSchema,
			Expected: fmt.Sprintf("%s satisfies %s", displayPath(assertion.Path), c),
			Actual:   err.Error(),
		}
	}
	if err := c.Check(v); err != nil {
		return &AssertionError{
			Type:     AssertSchema,
			Expected: fmt.Sprintf("%s satisfies %s", displayPath(assertion.Path), c),
			Actual:   err.Error(),
		}
	}
	return nil
}

// assertRevisionChanged checks whether the object at a path was flushed
// since the run started.
func assertRevisionChanged(actx *AssertionContext, assertion Assertion) error {
	before, ok := actx.Baseline[assertion.Path]
	if !ok {
		return fmt.Errorf("revision_changed: no starting revision for %s", displayPath(assertion.Path))
	}
	obj, err := actx.Paths.object(assertion.Path)
	if err != nil {
		return &AssertionError{
			Type:     AssertRevisionChanged,
			Expected: fmt.Sprintf("object at %s", displayPath(assertion.Path)),
			Actual:   err.Error(),
		}
	}

	changed := obj.Revision() != before
	if changed == *assertion.Changed {
		return nil
	}
	return &AssertionError{
		Type:     AssertRevisionChanged,
		Expected: fmt.Sprintf("%s changed=%t", displayPath(assertion.Path), *assertion.Changed),
		Actual:   fmt.Sprintf("revision %d -> %d", before, obj.Revision()),
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides the live objects for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertNotifyCount:
			err = assertNotifyCount(result.Trace, assertion)
		case AssertNotifyOrder:
			err = assertNotifyOrder(result.Trace, assertion)
		case AssertNotifyModes:
			err = assertNotifyModes(result.Trace, assertion)
		case AssertFinalState, AssertSchema, AssertRevisionChanged:
			if actx == nil || actx.Paths == nil {
				err = fmt.Errorf("assertion[%d]: %s requires the run's objects", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertFinalState:
				err = assertFinalState(actx, assertion)
			case AssertSchema:
				err = assertSchema(actx, assertion)
			default:
				err = assertRevisionChanged(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// valuesEqual compares plain values by their canonical JSON. Values that
// have no canonical form (fractional numbers) fall back to a deep comparison
// with integers widened to float64.
func valuesEqual(actual, expected any) bool {
	a, errA := canonical.Marshal(actual)
	b, errB := canonical.Marshal(expected)
	if errA == nil && errB == nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(widenNumbers(actual), widenNumbers(expected))
}

func widenNumbers(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = widenNumbers(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = widenNumbers(e)
		}
		return out
	default:
		return v
	}
}

func formatValue(v any) string {
	if data, err := canonical.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
