package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix of every recognised environment variable.
const EnvPrefix = "PATCHBAY_"

// LoadFile reads path over the defaults. A missing file is ErrFileNotFound.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := Decode(path, data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode parses TOML data into cfg, leaving keys absent from data unchanged.
// Unknown keys are an error.
func Decode(source string, data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	return nil
}

// Encode returns cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

type envSetter func(c *Config, value string) error

func setInt(dst func(*Config) *int) envSetter {
	return func(c *Config, value string) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*dst(c) = v
		return nil
	}
}

func setBool(dst func(*Config) *bool) envSetter {
	return func(c *Config, value string) error {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*dst(c) = v
		return nil
	}
}

func setString(dst func(*Config) *string) envSetter {
	return func(c *Config, value string) error {
		*dst(c) = value
		return nil
	}
}

func setDuration(dst func(*Config) *Duration) envSetter {
	return func(c *Config, value string) error {
		v, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*dst(c) = Duration(v)
		return nil
	}
}

// envMapping maps environment variables to settings.
var envMapping = map[string]envSetter{
	EnvPrefix + "QUEUE_CAPACITY":            setInt(func(c *Config) *int { return &c.Queue.Capacity }),
	EnvPrefix + "CONSOLE_RETENTION":         setInt(func(c *Config) *int { return &c.Console.Retention }),
	EnvPrefix + "CONSOLE_DEBOUNCE":          setDuration(func(c *Config) *Duration { return &c.Console.Debounce }),
	EnvPrefix + "CONSOLE_MAX_DELAY":         setDuration(func(c *Config) *Duration { return &c.Console.MaxDelay }),
	EnvPrefix + "CONSOLE_ASSEMBLY_CAPACITY": setInt(func(c *Config) *int { return &c.Console.AssemblyCapacity }),
	EnvPrefix + "CONSOLE_PENDING_CAPACITY":  setInt(func(c *Config) *int { return &c.Console.PendingCapacity }),
	EnvPrefix + "CONSOLE_MUTED":             setBool(func(c *Config) *bool { return &c.Console.Muted }),
	EnvPrefix + "LOG_LEVEL":                 setString(func(c *Config) *string { return &c.Logging.Level }),
	EnvPrefix + "LOG_FORMAT":                setString(func(c *Config) *string { return &c.Logging.Format }),
	EnvPrefix + "LOG_OUTPUT":                setString(func(c *Config) *string { return &c.Logging.Output }),
	EnvPrefix + "ENGINE_SCRIPT":             setString(func(c *Config) *string { return &c.Engine.Script }),
	EnvPrefix + "ENGINE_BLOCK_INTERVAL":     setDuration(func(c *Config) *Duration { return &c.Engine.BlockInterval }),
	EnvPrefix + "UI_MODE":                   setString(func(c *Config) *string { return &c.UI.Mode }),
	EnvPrefix + "UI_TICK":                   setDuration(func(c *Config) *Duration { return &c.UI.Tick }),
}

// EnvVars returns the recognised environment variable names.
func EnvVars() []string {
	names := make([]string, 0, len(envMapping))
	for name := range envMapping {
		names = append(names, name)
	}
	return names
}

// ApplyEnv overrides cfg from environment variables. lookup is normally
// os.LookupEnv. Empty values are treated as set. All parse failures are
// reported together.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var errs []error
	for name, set := range envMapping {
		value, ok := lookup(name)
		if !ok {
			continue
		}
		if err := set(cfg, value); err != nil {
			errs = append(errs, &EnvError{Var: name, Value: value, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Load builds the configuration from defaults, an optional file and the
// environment, then validates it. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
