// Package state implements the easystate reactive-state engine.
//
// A reactive Object wraps a plain record (map[string]any) or list ([]any).
// Reads through the object lazily wrap nested records and lists and chain
// their notifications to the parent. Writes are detected by identity and
// schedule a notification for the object; observers registered with Observe
// are called when the object is flushed.
//
// SCHEDULING:
//
// Notifications are coalesced per object. Three regimes exist:
//
//   - Deferred (default): the first write in a tick queues the object and
//     requests a frame from the injected FrameScheduler. When the frame runs,
//     every queued object is flushed once, in the order it was queued.
//   - Batch: Sync runs a function and flushes every object it touched before
//     returning. Nested Sync calls collapse into the outermost one. An object
//     already queued for the frame leaves the queue when the batch flushes it.
//   - Immediate: writes made while a frame or a batch is being drained flush
//     synchronously, so a drain pass always terminates.
//
// A flush bumps the object's revision from the runtime's shared clock and
// calls its observers in registration order.
//
// THREADING:
//
// A Runtime and the objects it wraps are single-threaded. Hosts with
// goroutines must route all access through one goroutine (see package loop).
//
// OBSERVER FAILURES:
//
// A panicking observer does not stop dispatch. The panic is recovered,
// converted to an OBSERVER_FAILURE error, and all failures of one flush pass
// are joined and handed to the runtime's error handler.
package state
