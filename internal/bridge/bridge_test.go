package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/dshills/patchbay/internal/console"
	"github.com/dshills/patchbay/internal/native"
	"github.com/dshills/patchbay/internal/weakref"
	"github.com/dshills/patchbay/internal/workqueue"
)

type recordingHost struct {
	NopHost

	mu      sync.Mutex
	calls   []string
	batches []console.Batch
}

func (h *recordingHost) record(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

func (h *recordingHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *recordingHost) Batches() []console.Batch {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]console.Batch(nil), h.batches...)
}

func (h *recordingHost) NoteOn(ch, key, vel uint8)  { h.record("noteon %d %d %d", ch, key, vel) }
func (h *recordingHost) NoteOff(ch, key, vel uint8) { h.record("noteoff %d %d", ch, key) }
func (h *recordingHost) ControlChange(ch, ctl, val uint8) {
	h.record("cc %d %d %d", ch, ctl, val)
}
func (h *recordingHost) ProgramChange(ch, prog uint8) { h.record("pc %d %d", ch, prog) }
func (h *recordingHost) PitchBend(ch uint8, v int16)  { h.record("bend %d %d", ch, v) }
func (h *recordingHost) AfterTouch(ch, p uint8)       { h.record("at %d %d", ch, p) }
func (h *recordingHost) PolyAfterTouch(ch, key, p uint8) {
	h.record("pat %d %d %d", ch, key, p)
}
func (h *recordingHost) MIDIByte(port int, v byte)             { h.record("byte %d %d", port, v) }
func (h *recordingHost) ParameterChanged(name string, v float32) { h.record("param %s %g", name, v) }
func (h *recordingHost) DSPStateChanged(on bool)               { h.record("dsp %v", on) }
func (h *recordingHost) SystemMessage(sel string, args native.Atoms) {
	h.record("sys %s %s", sel, args)
}
func (h *recordingHost) ConsoleBatch(b console.Batch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, b)
}

type listenerStub struct {
	name   string
	events []string
}

func (l *listenerStub) OnEvent(id native.ID, name string, payload native.Atoms) {
	l.events = append(l.events, fmt.Sprintf("%s %s %s", id, name, payload))
}

func tick(t *testing.T, b *Bridge) workqueue.DrainResult {
	t.Helper()
	res, err := b.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return res
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBridge_PostIsDeferred(t *testing.T) {
	b := New()
	l := &listenerStub{}
	if _, err := Subscribe(b, 5, l); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Post(5, "float", native.Atoms{native.Float(0.5)}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(l.events) != 0 {
		t.Fatal("Post should not deliver on the calling goroutine")
	}

	tick(t, b)
	if len(l.events) != 1 || l.events[0] != "0x5 float 0.5" {
		t.Errorf("events = %v", l.events)
	}
	if b.Stats().Posted != 1 {
		t.Errorf("Posted = %d, want 1", b.Stats().Posted)
	}
}

func TestBridge_DispatchIsSynchronous(t *testing.T) {
	b := New()
	l := &listenerStub{}
	Subscribe(b, 5, l)

	res := b.Dispatch(5, "bang", nil)
	if res.Delivered != 1 || len(l.events) != 1 {
		t.Errorf("Dispatch = %+v, events = %v", res, l.events)
	}

	if !Unsubscribe(b, 5, l) {
		t.Error("Unsubscribe should succeed")
	}
	b.Dispatch(5, "bang", nil)
	if len(l.events) != 1 {
		t.Error("unsubscribed listener received an event")
	}
}

func TestBridge_ObjectDestroyed(t *testing.T) {
	b := New()

	var invalidated []native.ID
	h := weakref.NewHandle("slider", weakref.WithOnInvalidate(func(id native.ID) {
		invalidated = append(invalidated, id)
	}))
	if err := b.RegisterWeakHandle(9, h); err != nil {
		t.Fatalf("RegisterWeakHandle: %v", err)
	}

	l := &listenerStub{}
	Subscribe(b, 9, l)
	b.Post(9, "late", nil)
	b.Print(9, "half a li")

	b.ObjectDestroyed(9)

	if b.Weak().IsAlive(h) {
		t.Error("handle should be dead after ObjectDestroyed")
	}
	if len(invalidated) != 0 {
		t.Error("invalidation callback ran on the destroying goroutine")
	}
	if b.Listeners().Count(9) != 0 {
		t.Error("listener bucket should be released")
	}

	// A message posted before destruction finds no listeners.
	tick(t, b)
	if len(invalidated) != 1 || invalidated[0] != 9 {
		t.Errorf("invalidated = %v, want [9]", invalidated)
	}
	if len(l.events) != 0 {
		t.Errorf("events = %v, want none after destruction", l.events)
	}

	b.Console().Flush()
	recs := b.Console().Records()
	if len(recs) != 1 || recs[0].Text != "half a li" || recs[0].Origin != 9 {
		t.Errorf("console = %+v, want the partial line", recs)
	}

	// Destroying again, or something never registered, is a no-op.
	b.ObjectDestroyed(9)
	b.ObjectDestroyed(1234)
}

func TestBridge_UnregisterWeakHandle(t *testing.T) {
	b := New()
	h := weakref.NewHandle("x")
	b.RegisterWeakHandle(3, h)
	b.UnregisterWeakHandle(3, h)
	b.UnregisterWeakHandle(3, h)

	if b.Weak().IsAlive(h) {
		t.Error("unregistered handle should not be alive")
	}
}

func TestBridge_MIDI(t *testing.T) {
	host := &recordingHost{}
	b := New(WithHost(host))

	steps := []struct {
		post func() error
		want string
	}{
		{func() error { return b.NoteOn(0, 60, 100) }, "noteon 0 60 100"},
		{func() error { return b.NoteOn(0, 60, 0) }, "noteon 0 60 0"},
		{func() error { return b.NoteOff(0, 60) }, "noteoff 0 60"},
		{func() error { return b.ControlChange(1, 7, 127) }, "cc 1 7 127"},
		{func() error { return b.ProgramChange(2, 5) }, "pc 2 5"},
		{func() error { return b.PitchBend(3, -200) }, "bend 3 -200"},
		{func() error { return b.AfterTouch(4, 30) }, "at 4 30"},
		{func() error { return b.PolyAfterTouch(5, 64, 12) }, "pat 5 64 12"},
		{func() error { return b.MIDIByte(1, 0xF8) }, "byte 1 248"},
	}

	want := make([]string, len(steps))
	for i, s := range steps {
		if err := s.post(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		want[i] = s.want
	}

	if len(host.Calls()) != 0 {
		t.Fatal("MIDI should be deferred to the consumer")
	}
	tick(t, b)

	if got := host.Calls(); !equalStrings(got, want) {
		t.Errorf("calls = %v\nwant    %v", got, want)
	}
	if b.Stats().MIDI != uint64(len(steps)) {
		t.Errorf("MIDI = %d, want %d", b.Stats().MIDI, len(steps))
	}
}

func TestBridge_PostMIDI_Unsupported(t *testing.T) {
	b := New()
	if err := b.PostMIDI(midi.Message{0xF8}); !errors.Is(err, ErrUnsupportedMIDI) {
		t.Errorf("PostMIDI(clock) = %v, want ErrUnsupportedMIDI", err)
	}
	if b.Queue().Len() != 0 {
		t.Error("unsupported message should not be queued")
	}
}

func TestBridge_HostNotifications(t *testing.T) {
	host := &recordingHost{}
	b := New(WithHost(host))

	b.ParameterChanged("gain", 0.25)
	b.DSPStateChanged(true)
	b.SystemMessage("dsp", native.Atoms{native.Float(1)})
	tick(t, b)

	want := []string{"param gain 0.25", "dsp true", "sys dsp 1"}
	if got := host.Calls(); !equalStrings(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestBridge_ConsoleBatchOnConsumer(t *testing.T) {
	host := &recordingHost{}
	b := New(
		WithHost(host),
		WithConsoleOptions(console.WithDebounce(time.Millisecond)),
	)

	b.Print(1, "error: ")
	b.Print(1, "oops\n")
	b.LogMessage(1, "fine")

	// The timer hands the flush to the queue; only Tick runs it.
	deadline := time.Now().Add(2 * time.Second)
	for len(host.Batches()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("console batch never delivered")
		}
		select {
		case <-b.Ready():
		case <-time.After(5 * time.Millisecond):
		}
		tick(t, b)
	}

	batch := host.Batches()[0]
	if batch.Received != 2 || !batch.HadWarningOrError {
		t.Errorf("batch = %+v", batch)
	}
	recs := b.Console().Records()
	if len(recs) != 2 || recs[0].Severity != console.SeverityError || recs[0].Text != "oops" {
		t.Errorf("records = %+v", recs)
	}
}

func TestBridge_ClearRestore(t *testing.T) {
	b := New()
	b.LogMessage(1, "a")
	b.LogWarning(1, "b")
	b.Console().Flush()

	if n := b.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	if n := b.Restore(); n != 2 {
		t.Errorf("Restore() = %d, want 2", n)
	}
	if b.Console().Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Console().Len())
	}
}

func TestBridge_QueueOverflow(t *testing.T) {
	b := New(WithQueueOptions(workqueue.WithCapacity(2)))

	b.Enqueue(func() {})
	b.Enqueue(func() {})
	if err := b.Post(1, "x", nil); !errors.Is(err, workqueue.ErrQueueFull) {
		t.Errorf("Post on full queue = %v, want ErrQueueFull", err)
	}
	if err := b.NoteOn(0, 1, 1); !errors.Is(err, workqueue.ErrQueueFull) {
		t.Errorf("NoteOn on full queue = %v, want ErrQueueFull", err)
	}

	s := b.Stats()
	if s.Queue.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", s.Queue.Dropped)
	}
	if s.Posted != 0 || s.MIDI != 0 {
		t.Errorf("Posted = %d, MIDI = %d; dropped work should not count", s.Posted, s.MIDI)
	}

	res := tick(t, b)
	if res.Dropped != 2 {
		t.Errorf("DrainResult.Dropped = %d, want 2", res.Dropped)
	}
}

func TestBridge_Run(t *testing.T) {
	host := &recordingHost{}
	b := New(WithHost(host))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, time.Millisecond) }()

	go func() {
		for i := 0; i < 10; i++ {
			b.ControlChange(0, uint8(i), 1)
		}
	}()

	deadline := time.After(2 * time.Second)
	for len(host.Calls()) < 10 {
		select {
		case <-deadline:
			t.Fatalf("only %d calls delivered", len(host.Calls()))
		case <-time.After(time.Millisecond):
		}
	}

	b.LogMessage(1, "at shutdown")
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	if b.Console().Len() != 1 {
		t.Errorf("console Len() = %d, want the line flushed at shutdown", b.Console().Len())
	}
}

func TestBridge_Independent(t *testing.T) {
	a := New()
	c := New()

	l := &listenerStub{}
	Subscribe(a, 1, l)
	c.Dispatch(1, "x", nil)
	c.ObjectDestroyed(1)

	if a.Listeners().Count(1) != 1 {
		t.Error("bridges should not share registries")
	}
}

func TestBridge_InjectedRegistries(t *testing.T) {
	weak := weakref.NewRegistry()
	b := New(WithWeakRegistry(weak))
	if b.Weak() != weak {
		t.Error("injected registry should be used")
	}
}
