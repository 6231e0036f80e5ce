// Package console turns the engine's textual output into a bounded,
// deduplicated record feed for the front-end.
//
// Producers call Print with raw output fragments, or Submit / LogMessage /
// LogWarning / LogError with complete lines, from any goroutine. Lines land
// in a lock-free pending ring and a short debounce timer is armed. When the
// timer fires, the flush is handed to a Scheduler (normally the bridge's work
// queue) so that records are appended and the front-end is notified on the
// consumer goroutine, once per burst.
//
// A flush coalesces a line into the newest record when origin, text and
// severity all match, and otherwise appends a new record. The live sequence
// keeps at most Retention records, evicting the oldest.
//
// Clear moves the live records into a history slot, replacing what was
// there; Restore puts them back in front of whatever arrived since.
package console
