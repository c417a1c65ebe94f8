// Package loop provides a single-goroutine event loop with a frame ticker.
//
// The reactive runtime in package state is single-threaded and needs a
// "run on the next frame" hook. Loop supplies both: every task passed to
// Dispatch and every callback passed to RequestFrame runs on the goroutine
// that called Run, so a state.Runtime created with state.WithFrames(loop) is
// only ever touched by that goroutine.
//
// Thread-safety model:
//   - Dispatch, Do, RequestFrame, AwaitFrame, Close, Len: any goroutine
//   - Run: exactly one goroutine
//
// Do must not be called from a task running on the loop; it would wait for
// itself.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFrameInterval is the frame tick used when no interval is configured.
const DefaultFrameInterval = 16 * time.Millisecond

// ErrClosed is returned by operations on a loop that has stopped.
var ErrClosed = errors.New("loop: closed")

// Loop is a single-writer event loop.
type Loop struct {
	queue    *taskQueue
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	frames  []func()
	waiters []chan struct{}

	passes  atomic.Int64
	running atomic.Bool
	done    chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithFrameInterval sets the frame tick. Non-positive values are ignored.
func WithFrameInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithLogger sets the loop's logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// New creates a loop. It does nothing until Run is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		queue:    newTaskQueue(),
		interval: DefaultFrameInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Dispatch queues fn to run on the loop goroutine.
// Returns false if the loop is closed.
func (l *Loop) Dispatch(fn func()) bool {
	return l.queue.Enqueue(fn)
}

// Do runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Dispatch(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// RequestFrame schedules fn for the next frame pass. It implements
// state.FrameScheduler.
func (l *Loop) RequestFrame(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, fn)
}

// AwaitFrame blocks until a frame pass that starts after the call has run.
func (l *Loop) AwaitFrame(ctx context.Context) error {
	ch := make(chan struct{})
	l.mu.Lock()
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	return l.queue.Len()
}

// PendingFrames returns the number of callbacks waiting for the next frame.
func (l *Loop) PendingFrames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

// Passes returns the number of frame passes run so far.
func (l *Loop) Passes() int64 {
	return l.passes.Load()
}

// Close stops accepting tasks. Run drains the tasks already queued and then
// returns nil. Pending frame callbacks are dropped.
func (l *Loop) Close() {
	l.queue.Close()
}

// Run processes tasks and frame ticks until the context is cancelled or
// Close is called.
//
// Tasks run in FIFO order. A frame pass runs every callback requested before
// it started; callbacks requested during the pass wait for the next tick.
// A panicking task or callback is logged and the loop continues.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("loop: Run called twice")
	}
	defer close(l.done)

	l.logger.Info("loop starting", "frame_interval", l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if fn, ok := l.queue.TryDequeue(); ok {
			l.runTask("task", fn)

			// A steady stream of tasks must not starve frames.
			select {
			case <-ticker.C:
				l.runFrame()
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Info("loop stopping: context cancelled")
			l.queue.Close()
			return ctx.Err()

		case <-l.queue.Wait():
			// The signal channel is closed once the queue is closed.
			if l.queue.Closed() && l.queue.Len() == 0 {
				l.logger.Info("loop stopping: closed")
				return nil
			}

		case <-ticker.C:
			l.runFrame()
		}
	}
}

func (l *Loop) runFrame() {
	l.mu.Lock()
	frames := l.frames
	waiters := l.waiters
	l.frames = nil
	l.waiters = nil
	l.mu.Unlock()

	for _, fn := range frames {
		l.runTask("frame", fn)
	}
	l.passes.Add(1)

	if len(frames) > 0 {
		l.logger.Debug("frame pass", "callbacks", len(frames))
	}
	for _, ch := range waiters {
		close(ch)
	}
}

func (l *Loop) runTask(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop callback panicked",
				"kind", kind,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
