package state

// FrameScheduler is the single-shot "run on the next frame" hook the
// deferred regime depends on. RequestFrame must call fn exactly once, later,
// on the engine's thread.
type FrameScheduler interface {
	RequestFrame(fn func())
}

// FrameFunc adapts a function to FrameScheduler.
type FrameFunc func(fn func())

// RequestFrame calls f(fn).
func (f FrameFunc) RequestFrame(fn func()) {
	f(fn)
}

// ManualFrames is a FrameScheduler stepped explicitly by its owner.
// Tests and the scenario harness use it to control when frames happen.
type ManualFrames struct {
	queue []func()
}

// NewManualFrames creates an empty manual frame scheduler.
func NewManualFrames() *ManualFrames {
	return &ManualFrames{}
}

// RequestFrame queues fn for the next Pump.
func (m *ManualFrames) RequestFrame(fn func()) {
	m.queue = append(m.queue, fn)
}

// Pending returns the number of queued frame callbacks.
func (m *ManualFrames) Pending() int {
	return len(m.queue)
}

// Pump runs one frame: every callback queued before the call, in order.
// Callbacks requested while pumping wait for the next Pump.
// Returns the number of callbacks run.
func (m *ManualFrames) Pump() int {
	queue := m.queue
	m.queue = nil
	for _, fn := range queue {
		fn()
	}
	return len(queue)
}
