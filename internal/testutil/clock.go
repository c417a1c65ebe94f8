// Package testutil holds deterministic stand-ins used by the harness and by
// tests: a resettable sequence clock and a fixed run-id generator.
package testutil

import "sync/atomic"

// DeterministicClock numbers trace entries. Scenario traces take their
// sequence numbers from it instead of wall time, so two runs of one
// scenario produce identical traces.
//
// The zero value is ready to use. Safe for concurrent use.
type DeterministicClock struct {
	seq atomic.Int64
}

// NewDeterministicClock returns a clock whose first Next is 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

func (c *DeterministicClock) Next() int64 { return c.seq.Add(1) }

func (c *DeterministicClock) Current() int64 { return c.seq.Load() }

// Reset rewinds the clock so the next call to Next returns 1 again.
func (c *DeterministicClock) Reset() { c.seq.Store(0) }
