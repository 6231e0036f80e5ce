package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Console.Retention != 800 {
		t.Errorf("Retention = %d, want 800", cfg.Console.Retention)
	}
	if cfg.Console.Debounce.Std() != 10*time.Millisecond {
		t.Errorf("Debounce = %v, want 10ms", cfg.Console.Debounce.Std())
	}
	if cfg.Queue.Capacity != 4096 {
		t.Errorf("Capacity = %d, want 4096", cfg.Queue.Capacity)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		paths  []string
	}{
		{"zero capacity", func(c *Config) { c.Queue.Capacity = 0 }, []string{"queue.capacity"}},
		{"zero retention", func(c *Config) { c.Console.Retention = 0 }, []string{"console.retention"}},
		{"negative max delay", func(c *Config) { c.Console.MaxDelay = -1 }, []string{"console.max_delay"}},
		{"zero max delay ok", func(c *Config) { c.Console.MaxDelay = 0 }, nil},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, []string{"logging.format"}},
		{"bad mode", func(c *Config) { c.UI.Mode = "gui" }, []string{"ui.mode"}},
		{"several", func(c *Config) {
			c.Queue.Capacity = -1
			c.UI.Tick = 0
		}, []string{"queue.capacity", "ui.tick"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if len(tt.paths) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("Validate() = %v, want ErrValidationFailed", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %T, want *ValidationError", err)
			}
			if len(verr.Fields) != len(tt.paths) {
				t.Fatalf("fields = %v, want %v", verr.Fields, tt.paths)
			}
			for i, p := range tt.paths {
				if verr.Fields[i].Path != p {
					t.Errorf("field %d = %s, want %s", i, verr.Fields[i].Path, p)
				}
			}
		})
	}
}

func TestDecode(t *testing.T) {
	data := []byte(`
[queue]
capacity = 128

[console]
debounce = "25ms"
muted = true

[logging]
level = "debug"
`)
	cfg := Default()
	if err := Decode("test.toml", data, &cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if cfg.Queue.Capacity != 128 {
		t.Errorf("Capacity = %d, want 128", cfg.Queue.Capacity)
	}
	if cfg.Console.Debounce.Std() != 25*time.Millisecond {
		t.Errorf("Debounce = %v, want 25ms", cfg.Console.Debounce.Std())
	}
	if !cfg.Console.Muted {
		t.Error("Muted should be true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched keys keep their defaults.
	if cfg.Console.Retention != 800 {
		t.Errorf("Retention = %d, want default 800", cfg.Console.Retention)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "[queue\ncapacity = 1"},
		{"unknown key", "[queue]\nslots = 1"},
		{"bad duration", "[console]\ndebounce = \"soon\""},
		{"wrong type", "[queue]\ncapacity = \"lots\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := Decode("bad.toml", []byte(tt.data), &cfg)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Decode = %v, want *ParseError", err)
			}
			if perr.Path != "bad.toml" {
				t.Errorf("Path = %q", perr.Path)
			}
			if !strings.Contains(perr.Error(), "bad.toml") {
				t.Errorf("Error() = %q should name the file", perr.Error())
			}
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	want := Default()
	want.Console.MaxDelay = Duration(250 * time.Millisecond)
	want.Engine.Script = "demo.lua"

	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), "250ms") {
		t.Errorf("encoded durations should be strings:\n%s", data)
	}

	got := Default()
	if err := Decode("encoded", data, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patchbay.toml")
	if err := os.WriteFile(path, []byte("[ui]\nmode = \"plain\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.UI.Mode != ModePlain {
		t.Errorf("Mode = %q, want plain", cfg.UI.Mode)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.toml")); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("LoadFile(missing) = %v, want ErrFileNotFound", err)
	}
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, envMap(map[string]string{
		"PATCHBAY_QUEUE_CAPACITY":   "64",
		"PATCHBAY_CONSOLE_MUTED":    "true",
		"PATCHBAY_CONSOLE_DEBOUNCE": "3ms",
		"PATCHBAY_LOG_LEVEL":        "warn",
		"PATCHBAY_ENGINE_SCRIPT":    "",
		"UNRELATED":                 "x",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Queue.Capacity != 64 {
		t.Errorf("Capacity = %d, want 64", cfg.Queue.Capacity)
	}
	if !cfg.Console.Muted {
		t.Error("Muted should be true")
	}
	if cfg.Console.Debounce.Std() != 3*time.Millisecond {
		t.Errorf("Debounce = %v, want 3ms", cfg.Console.Debounce.Std())
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestApplyEnv_Errors(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, envMap(map[string]string{
		"PATCHBAY_QUEUE_CAPACITY": "many",
		"PATCHBAY_UI_TICK":        "often",
	}))

	var eerr *EnvError
	if !errors.As(err, &eerr) {
		t.Fatalf("ApplyEnv = %v, want *EnvError", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "PATCHBAY_QUEUE_CAPACITY") || !strings.Contains(msg, "PATCHBAY_UI_TICK") {
		t.Errorf("error should report both variables: %v", msg)
	}
	if cfg.Queue.Capacity != 4096 {
		t.Errorf("Capacity = %d, bad value should not be applied", cfg.Queue.Capacity)
	}
}

func TestEnvVars(t *testing.T) {
	for _, name := range EnvVars() {
		if !strings.HasPrefix(name, EnvPrefix) {
			t.Errorf("%s lacks prefix %s", name, EnvPrefix)
		}
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patchbay.toml")
	os.WriteFile(path, []byte("[queue]\ncapacity = 100\n[console]\nretention = 50\n"), 0o644)

	t.Setenv("PATCHBAY_QUEUE_CAPACITY", "200")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.Capacity != 200 {
		t.Errorf("Capacity = %d, env should beat file", cfg.Queue.Capacity)
	}
	if cfg.Console.Retention != 50 {
		t.Errorf("Retention = %d, file should beat default", cfg.Console.Retention)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("PATCHBAY_CONSOLE_RETENTION", "0")
	if _, err := Load(""); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("Load = %v, want ErrValidationFailed", err)
	}
}

func TestConfig_LiveChanges(t *testing.T) {
	base := Default()

	next := base
	next.Logging.Level = "debug"
	next.Console.Muted = true
	if live, restart := base.LiveChanges(next); !live || restart {
		t.Errorf("LiveChanges = %v, %v; want true, false", live, restart)
	}

	next = base
	next.Queue.Capacity = 8
	if live, restart := base.LiveChanges(next); live || !restart {
		t.Errorf("LiveChanges = %v, %v; want false, true", live, restart)
	}

	if live, restart := base.LiveChanges(base); live || restart {
		t.Errorf("LiveChanges(same) = %v, %v", live, restart)
	}
}
