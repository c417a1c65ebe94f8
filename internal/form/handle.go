package form

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/roach88/easystate/internal/state"
)

// Input types with special change handling.
const (
	InputCheckbox = "checkbox"
	InputRadio    = "radio"
)

// ChangeEvent is the part of an input change event a handle reads.
type ChangeEvent struct {
	Type    string
	Value   string
	Checked bool
}

// BlurQueue holds delayed blurs until the host flushes it, typically on the
// frame after a pointer or touch release. A focus that arrives before the
// flush cancels the blur.
type BlurQueue struct {
	queue []func()
}

// NewBlurQueue creates an empty queue.
func NewBlurQueue() *BlurQueue {
	return &BlurQueue{}
}

func (q *BlurQueue) push(fn func()) {
	q.queue = append(q.queue, fn)
}

// Len returns the number of queued blurs.
func (q *BlurQueue) Len() int {
	return len(q.queue)
}

// Flush runs the queued blurs and returns how many ran.
func (q *BlurQueue) Flush() int {
	queue := q.queue
	q.queue = nil
	for _, fn := range queue {
		fn()
	}
	return len(queue)
}

// FlushOnFrame requests a frame that flushes the queue.
func (q *BlurQueue) FlushOnFrame(frames state.FrameScheduler) {
	frames.RequestFrame(func() { q.Flush() })
}

// Handle adapts input events to a Field.
type Handle struct {
	field *Field
	blurs *BlurQueue

	realFocus   bool
	blurPending bool

	onChange func(ChangeEvent)
}

// NewHandle creates a handle for field. Blurs are delayed through blurs.
func NewHandle(field *Field, blurs *BlurQueue) *Handle {
	h := &Handle{field: field, blurs: blurs}
	h.onChange = state.SyncCallback(field.obj.Runtime(), h.applyChange)
	return h
}

// OnFocus marks the field focused.
func (h *Handle) OnFocus() {
	h.realFocus = true
	h.field.obj.Set(KeyFocused, true)
}

// OnBlur queues a delayed blur unless one is already queued.
func (h *Handle) OnBlur() {
	h.realFocus = false
	if h.blurPending {
		return
	}
	h.blurPending = true
	h.blurs.push(h.delayedBlur)
}

func (h *Handle) delayedBlur() {
	h.blurPending = false
	if h.realFocus {
		return
	}
	h.field.obj.Set(KeyFocused, false)
	h.field.obj.Set(KeyTouched, true)
}

// OnChange applies an input change in one batch, so observers are notified
// once with value, invalid and changed all updated.
func (h *Handle) OnChange(evt ChangeEvent) {
	h.onChange(evt)
}

func (h *Handle) applyChange(evt ChangeEvent) {
	switch evt.Type {
	case InputCheckbox:
		h.field.SetValue(evt.Checked)
	case InputRadio:
		if evt.Checked {
			h.field.SetValue(evt.Value)
		}
	default:
		if h.field.kind == KindNumber {
			h.field.SetValue(parseNumber(evt.Value))
		} else {
			h.field.SetValue(evt.Value)
		}
	}
	h.field.obj.Set(KeyChanged, true)
}

// Value returns the value to render for non-boolean fields.
func (h *Handle) Value() any {
	return h.field.Value()
}

// Checked returns the checked state to render for boolean fields.
func (h *Handle) Checked() bool {
	b, _ := h.field.Value().(bool)
	return b
}

// numberPrefix matches a leading decimal literal. Hex, underscores and the
// inf/nan spellings strconv accepts are not numbers here.
var numberPrefix = regexp.MustCompile(`^[+-]?(Infinity|(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?)`)

// parseNumber parses the longest numeric prefix of s, NaN if there is none.
// Out-of-range literals become ±Inf.
func parseNumber(s string) float64 {
	lit := numberPrefix.FindString(strings.TrimLeftFunc(s, unicode.IsSpace))
	if lit == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return math.NaN()
	}
	return f
}
