// Package workqueue defers work from any goroutine onto a single consumer.
//
// Producers (typically the engine's processing goroutine) call Enqueue, which
// never blocks and never takes a lock: tasks go into a fixed-capacity ring of
// pre-allocated slots. The consumer (the front-end's event loop) calls Drain
// once per tick to run every task that was queued when the drain started.
//
// # Overflow
//
// Blocking a real-time producer is not acceptable, so a full ring rejects the
// task being enqueued (drop-newest). Enqueue returns ErrQueueFull and the drop
// is counted; the consumer reports drops seen since its previous drain.
//
// # Ordering
//
// Tasks from one producer run in the order that producer enqueued them. Tasks
// from different producers run in the order their enqueues won the ring slot.
//
// # Failures
//
// A task that returns an error or panics is recovered at the drain boundary,
// reported to the failure hook and logged; draining continues with the next
// task.
//
// # Waking the consumer
//
// Ready returns a channel that receives a signal when work becomes available.
// WithWakeFunc installs an additional callback for event loops that cannot
// select on a channel (for example a terminal library's PostEvent).
package workqueue
