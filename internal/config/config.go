package config

import (
	"strings"
	"time"
)

// Duration is a time.Duration that reads and writes as "10ms" in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete configuration.
type Config struct {
	Queue   QueueConfig   `toml:"queue"`
	Console ConsoleConfig `toml:"console"`
	Logging LoggingConfig `toml:"logging"`
	Engine  EngineConfig  `toml:"engine"`
	UI      UIConfig      `toml:"ui"`
}

// QueueConfig configures the deferred work queue.
type QueueConfig struct {
	// Capacity is the number of ring slots, rounded up to a power of two.
	Capacity int `toml:"capacity"`
}

// ConsoleConfig configures the console batcher.
type ConsoleConfig struct {
	// Retention is the maximum number of live records.
	Retention int `toml:"retention"`
	// Debounce is the quiet period before a flush.
	Debounce Duration `toml:"debounce"`
	// MaxDelay caps how long a line can wait during a storm. Zero disables it.
	MaxDelay Duration `toml:"max_delay"`
	// AssemblyCapacity is the longest assembled line in bytes.
	AssemblyCapacity int `toml:"assembly_capacity"`
	// PendingCapacity is the size of the pending line ring.
	PendingCapacity int `toml:"pending_capacity"`
	// Muted discards console output. Live.
	Muted bool `toml:"muted"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Live.
	Level string `toml:"level"`
	// Format is console or json.
	Format string `toml:"format"`
	// Output is stderr, stdout or a file path.
	Output string `toml:"output"`
}

// EngineConfig configures the scripted engine.
type EngineConfig struct {
	// Script is the Lua script path. Empty runs the built-in demo.
	Script string `toml:"script"`
	// BlockInterval is how often the script's process function runs.
	BlockInterval Duration `toml:"block_interval"`
}

// UIConfig configures the front-end.
type UIConfig struct {
	// Mode is auto, tui, plain or json.
	Mode string `toml:"mode"`
	// Tick is the consumer's drain interval.
	Tick Duration `toml:"tick"`
}

// UI modes.
const (
	ModeAuto  = "auto"
	ModeTUI   = "tui"
	ModePlain = "plain"
	ModeJSON  = "json"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Queue: QueueConfig{
			Capacity: 4096,
		},
		Console: ConsoleConfig{
			Retention:        800,
			Debounce:         Duration(10 * time.Millisecond),
			MaxDelay:         Duration(100 * time.Millisecond),
			AssemblyCapacity: 2048,
			PendingCapacity:  8192,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Engine: EngineConfig{
			BlockInterval: Duration(5 * time.Millisecond),
		},
		UI: UIConfig{
			Mode: ModeAuto,
			Tick: Duration(16 * time.Millisecond),
		},
	}
}

// Validate checks every setting and reports all problems at once.
func (c Config) Validate() error {
	var fields []FieldError
	check := func(ok bool, path string, value any, msg string) {
		if !ok {
			fields = append(fields, FieldError{Path: path, Value: value, Message: msg})
		}
	}

	check(c.Queue.Capacity > 0, "queue.capacity", c.Queue.Capacity, "must be positive")
	check(c.Console.Retention >= 1, "console.retention", c.Console.Retention, "must be at least 1")
	check(c.Console.Debounce > 0, "console.debounce", c.Console.Debounce.Std(), "must be positive")
	check(c.Console.MaxDelay >= 0, "console.max_delay", c.Console.MaxDelay.Std(), "must not be negative")
	check(c.Console.AssemblyCapacity > 0, "console.assembly_capacity", c.Console.AssemblyCapacity, "must be positive")
	check(c.Console.PendingCapacity > 0, "console.pending_capacity", c.Console.PendingCapacity, "must be positive")
	check(c.Engine.BlockInterval > 0, "engine.block_interval", c.Engine.BlockInterval.Std(), "must be positive")
	check(c.UI.Tick > 0, "ui.tick", c.UI.Tick.Std(), "must be positive")

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		check(false, "logging.format", c.Logging.Format, "must be console or json")
	}
	switch c.UI.Mode {
	case ModeAuto, ModeTUI, ModePlain, ModeJSON:
	default:
		check(false, "ui.mode", c.UI.Mode, "must be auto, tui, plain or json")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// LiveChanges reports whether next differs from c only in settings that can
// be applied without a restart.
func (c Config) LiveChanges(next Config) (live bool, restart bool) {
	a, b := c, next
	live = a.Logging.Level != b.Logging.Level || a.Console.Muted != b.Console.Muted

	a.Logging.Level, b.Logging.Level = "", ""
	a.Console.Muted, b.Console.Muted = false, false
	restart = a != b
	return live, restart
}
