// Package frontend provides the consumer-side views of a bridge.
//
// Plain writes console records and host events to an io.Writer as text or
// JSON lines. Terminal is a tcell event loop that renders the console, wakes
// on queue readiness and lets the user clear, restore and filter records.
//
// Both implement bridge.Host. Their host callbacks run on the consumer
// goroutine, inside the bridge's drain.
package frontend
