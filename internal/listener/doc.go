// Package listener maps engine identities to the front-end objects that want
// to hear about them.
//
// Listeners are held through weak pointers: subscribing never keeps a
// listener alive. When a listener is garbage collected its subscriptions are
// pruned the next time an event is dispatched to the identity. When the
// identity itself is destroyed, ReleaseAll drops its bucket eagerly.
//
// Dispatch is synchronous on the caller's goroutine. It iterates over a
// snapshot of the bucket, so a listener may unsubscribe itself (or others)
// from inside its callback without disturbing delivery to the rest.
// Listeners called from the engine goroutine must return quickly and defer
// long work through a workqueue.Queue.
package listener
