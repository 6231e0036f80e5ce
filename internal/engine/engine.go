package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/patchbay/internal/native"
)

// DefaultBlockInterval is how often process(block) runs when no interval is set.
const DefaultBlockInterval = 5 * time.Millisecond

// DemoScript is the built-in patch used when no script is configured.
//
//go:embed demo.lua
var DemoScript string

// Target receives everything a script produces. *bridge.Bridge satisfies it.
type Target interface {
	Print(origin native.ID, fragment string)
	LogMessage(origin native.ID, text string) error
	LogWarning(origin native.ID, text string) error
	LogError(origin native.ID, text string) error
	Post(id native.ID, name string, payload native.Atoms) error
	ObjectDestroyed(id native.ID)
	NoteOn(channel, key, velocity uint8) error
	ControlChange(channel, controller, value uint8) error
	ParameterChanged(name string, value float32) error
	DSPStateChanged(on bool) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBlockInterval sets how often process(block) runs.
func WithBlockInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithAllocator sets the identity allocator used by create().
func WithAllocator(a *native.Allocator) Option {
	return func(e *Engine) {
		if a != nil {
			e.alloc = a
		}
	}
}

// WithSource sets the script source. name is used in Lua error messages.
func WithSource(name, source string) Option {
	return func(e *Engine) {
		e.name = name
		e.source = source
	}
}

// WithScriptFile loads the script from path. An empty path keeps the demo script.
func WithScriptFile(path string) Option {
	return func(e *Engine) {
		if path != "" {
			e.path = path
		}
	}
}

// Engine is a simulated real-time producer driven by a Lua script.
type Engine struct {
	state   *lua.LState
	process *lua.LFunction

	target   Target
	alloc    *native.Allocator
	id       native.ID
	logger   *zap.Logger
	interval time.Duration

	name   string
	source string
	path   string

	block  uint64
	closed bool

	blocks       atomic.Uint64
	scriptErrors atomic.Uint64
	calls        atomic.Uint64
	rejected     atomic.Uint64
}

// New creates an engine, loads its script and runs the script's top-level
// chunk. The script must define a global process function.
func New(target Target, opts ...Option) (*Engine, error) {
	e := &Engine{
		target:   target,
		logger:   zap.NewNop(),
		interval: DefaultBlockInterval,
		name:     "demo.lua",
		source:   DemoScript,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.alloc == nil {
		e.alloc = native.NewAllocator(0x1000)
	}
	e.logger = e.logger.Named("engine")
	e.id = e.alloc.Next()

	if e.path != "" {
		data, err := os.ReadFile(e.path)
		if err != nil {
			return nil, fmt.Errorf("reading script: %w", err)
		}
		e.name = e.path
		e.source = string(data)
	}

	e.state = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(e.state)
	e.install()

	if err := e.load(); err != nil {
		e.state.Close()
		return nil, err
	}
	return e, nil
}

// openSafeLibraries opens the base, table, string and math libraries and
// removes the base functions that load code from outside the script.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func (e *Engine) load() error {
	fn, err := e.state.Load(strings.NewReader(e.source), e.name)
	if err != nil {
		return fmt.Errorf("loading %s: %w", e.name, err)
	}
	if err := e.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return fmt.Errorf("running %s: %w", e.name, err)
	}
	process, ok := e.state.GetGlobal("process").(*lua.LFunction)
	if !ok {
		return ErrNoProcess
	}
	e.process = process
	e.logger.Debug("script loaded", zap.String("script", e.name), zap.Stringer("origin", e.id))
	return nil
}

// ID returns the engine's own identity, used as the origin of script output.
func (e *Engine) ID() native.ID {
	return e.id
}

// Interval returns the block interval.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// Step runs process for the next block. A script error is reported to the
// console as an error record and returned as a *ScriptError.
func (e *Engine) Step() error {
	if e.closed {
		return ErrClosed
	}
	block := e.block
	e.block++
	e.blocks.Add(1)

	err := e.state.CallByParam(lua.P{Fn: e.process, NRet: 0, Protect: true}, lua.LNumber(block))
	if err == nil {
		return nil
	}

	e.scriptErrors.Add(1)
	serr := &ScriptError{Block: block, Err: err}
	_ = e.target.LogError(e.id, scriptErrorText(err))
	e.logger.Debug("script error", zap.Uint64("block", block), zap.Error(err))
	return serr
}

func scriptErrorText(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

// Run calls Step once per block interval until ctx is done. Script errors do
// not stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	if e.closed {
		return ErrClosed
	}
	e.state.SetContext(ctx)
	defer e.state.RemoveContext()

	e.logger.Info("engine started",
		zap.String("script", e.name),
		zap.Duration("interval", e.interval))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped", zap.Uint64("blocks", e.blocks.Load()))
			return nil
		case <-ticker.C:
			if err := e.Step(); err != nil && ctx.Err() != nil {
				return nil
			}
		}
	}
}

// Close releases the Lua state.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.state.Close()
}

// Stats holds engine counters.
type Stats struct {
	// Blocks is the number of process calls.
	Blocks uint64
	// ScriptErrors is the number of process calls that raised an error.
	ScriptErrors uint64
	// Calls is the number of API calls made by the script.
	Calls uint64
	// Rejected is the number of API calls the target refused.
	Rejected uint64
}

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (e *Engine) Stats() Stats {
	return Stats{
		Blocks:       e.blocks.Load(),
		ScriptErrors: e.scriptErrors.Load(),
		Calls:        e.calls.Load(),
		Rejected:     e.rejected.Load(),
	}
}
