package harness

import "sync"

// TraceEvent is one observer notification recorded during a run.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Observer string `json:"observer"`
	// Mode is the flush mode the observer was called under.
	Mode     string `json:"mode"`
	Revision int64  `json:"revision"`
	// State is a plain snapshot of the observed object at call time.
	State any `json:"state"`
}

// FlushRecord is one flush reported by the runtime's tracer.
type FlushRecord struct {
	ObjectID int64  `json:"object_id"`
	Revision int64  `json:"revision"`
	Mode     string `json:"mode"`
	Called   int    `json:"called"`
	Failed   int    `json:"failed"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass is true if every assertion held and no observer failed.
	Pass bool `json:"pass"`

	// Trace contains every observer notification in call order.
	Trace []TraceEvent `json:"trace"`

	// Flushes contains every flush the runtime traced, in order.
	Flushes []FlushRecord `json:"flushes"`

	// Frames is the number of frame passes the runtime ran.
	Frames int `json:"frames"`

	// Errors contains assertion failures and observer failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is a snapshot of the root object after the last step.
	State any `json:"state"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Scenario: name,
		Pass:     true,
		Trace:    []TraceEvent{},
		Flushes:  []FlushRecord{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Notifications returns the trace entries of one observer.
func (r *Result) Notifications(observer string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Observer == observer {
			out = append(out, ev)
		}
	}
	return out
}

// traceLog is the run's append-only record. With a loop driver observers
// run on the loop goroutine while the runner reads from its own.
type traceLog struct {
	mu      sync.Mutex
	closed  bool
	trace   []TraceEvent
	flushes []FlushRecord
	frames  int
}

func (l *traceLog) addEvent(ev TraceEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.trace = append(l.trace, ev)
	}
}

func (l *traceLog) addFlush(rec FlushRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.flushes = append(l.flushes, rec)
	}
}

func (l *traceLog) addFrame() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.frames++
	}
}

// close stops recording and copies the log into r.
func (l *traceLog) close(r *Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	r.Trace = append(r.Trace, l.trace...)
	r.Flushes = append(r.Flushes, l.flushes...)
	r.Frames = l.frames
}

