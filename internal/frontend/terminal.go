package frontend

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"github.com/dshills/patchbay/internal/bridge"
	"github.com/dshills/patchbay/internal/console"
	"github.com/dshills/patchbay/internal/workqueue"
)

// Driver is the part of a bridge the terminal event loop drives.
type Driver interface {
	Console() *console.Batcher
	Tick(ctx context.Context) (workqueue.DrainResult, error)
	Shutdown()
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithTick sets the fallback drain interval.
func WithTick(d time.Duration) TerminalOption {
	return func(t *Terminal) {
		if d > 0 {
			t.tick = d
		}
	}
}

// WithTerminalLogger sets the logger.
func WithTerminalLogger(l *zap.Logger) TerminalOption {
	return func(t *Terminal) {
		if l != nil {
			t.logger = l
		}
	}
}

// Terminal renders the console in a tcell screen.
//
// Keys: c clears, r restores, m toggles messages, e toggles warnings and
// errors, q or Esc quits.
type Terminal struct {
	bridge.NopHost

	screen tcell.Screen
	logger *zap.Logger
	tick   time.Duration
	ready  atomic.Bool
	wakes  atomic.Uint64

	console *console.Batcher
	filter  console.Filter
	dirty   bool
	alert   float64
	dsp     bool
	last    string
}

// NewTerminal creates a terminal front-end on screen. The screen is
// initialized by Run.
func NewTerminal(screen tcell.Screen, opts ...TerminalOption) *Terminal {
	t := &Terminal{
		screen: screen,
		logger: zap.NewNop(),
		tick:   bridge.DefaultTick,
		filter: console.ShowAll,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("terminal")
	return t
}

// Wake pokes the event loop. Pass it to workqueue.WithWakeFunc; it is safe
// from any goroutine and does nothing before Run has initialized the screen.
func (t *Terminal) Wake() {
	if !t.ready.Load() {
		return
	}
	// A full event queue is fine: the ticker drains anyway.
	if err := t.screen.PostEvent(tcell.NewEventInterrupt(nil)); err == nil {
		t.wakes.Add(1)
	}
}

// Wakes returns the number of wake events posted.
func (t *Terminal) Wakes() uint64 {
	return t.wakes.Load()
}

// Run initializes the screen and runs the event loop until ctx is done or the
// user quits. Deferred work is drained on every wake and at least every tick.
func (t *Terminal) Run(ctx context.Context, d Driver) error {
	if err := t.screen.Init(); err != nil {
		return fmt.Errorf("initializing screen: %w", err)
	}
	defer t.screen.Fini()

	t.console = d.Console()
	t.screen.SetStyle(tcell.StyleDefault)
	t.screen.Clear()
	t.ready.Store(true)
	defer t.ready.Store(false)

	events := make(chan tcell.Event, 16)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			ev := t.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	t.logger.Debug("event loop started")
	t.dirty = true
	t.draw()

	for {
		select {
		case <-ctx.Done():
			d.Shutdown()
			return nil
		case <-ticker.C:
			t.drain(ctx, d)
			t.decay()
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventInterrupt:
				t.drain(ctx, d)
			case *tcell.EventResize:
				t.screen.Sync()
				t.dirty = true
			case *tcell.EventKey:
				if t.handleKey(ev) {
					d.Shutdown()
					return nil
				}
			}
		}
		if t.dirty {
			t.draw()
		}
	}
}

func (t *Terminal) drain(ctx context.Context, d Driver) {
	if _, err := d.Tick(ctx); err != nil {
		t.logger.Warn("drain failed", zap.Error(err))
	}
}

func (t *Terminal) decay() {
	if t.alert == 0 {
		return
	}
	t.alert *= 0.9
	if t.alert < 0.05 {
		t.alert = 0
	}
	t.dirty = true
}

// handleKey applies a key binding and reports whether the user quit.
func (t *Terminal) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return true
		case 'c':
			t.console.Clear()
		case 'r':
			t.console.Restore()
		case 'm':
			t.filter.ShowMessages = !t.filter.ShowMessages
		case 'e':
			t.filter.ShowErrors = !t.filter.ShowErrors
		default:
			return false
		}
		t.dirty = true
	}
	return false
}

// ConsoleBatch implements bridge.Host.
func (t *Terminal) ConsoleBatch(batch console.Batch) {
	if batch.HadWarningOrError {
		t.alert = 1
	}
	t.dirty = true
}

// NoteOn implements bridge.Host.
func (t *Terminal) NoteOn(channel, key, velocity uint8) {
	t.last = fmt.Sprintf("note %d/%d vel %d", channel, key, velocity)
	t.dirty = true
}

// ControlChange implements bridge.Host.
func (t *Terminal) ControlChange(channel, controller, value uint8) {
	t.last = fmt.Sprintf("cc %d/%d = %d", channel, controller, value)
	t.dirty = true
}

// ParameterChanged implements bridge.Host.
func (t *Terminal) ParameterChanged(name string, value float32) {
	t.last = fmt.Sprintf("%s = %.3g", name, value)
	t.dirty = true
}

// DSPStateChanged implements bridge.Host.
func (t *Terminal) DSPStateChanged(on bool) {
	t.dsp = on
	t.dirty = true
}

var _ bridge.Host = (*Terminal)(nil)
