// Package engine runs a scripted producer that behaves like a real-time
// audio engine thread.
//
// An Engine owns a sandboxed Lua state and calls the script's global
// process(block) function once per block interval. The script talks to
// the rest of the system through a small API:
//
//	print(...)              raw console fragment, may be partial
//	log(level, text)        "info", "warn" or "error" console record
//	post(id, name, ...)     deferred message to listeners of id
//	post_json(id, name, s)  like post, payload decoded from a JSON array
//	create()                new object identity
//	destroy(id)             destroy an identity
//	note(ch, key, vel)      MIDI note on
//	cc(ch, ctl, val)        MIDI control change
//	param(name, value)      parameter change notification
//	dsp(on)                 DSP state notification
//
// Only the base, table, string and math libraries are opened. The Lua state
// is not goroutine-safe; Run and Step must not be called concurrently.
package engine
