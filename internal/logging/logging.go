// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/patchbay/internal/config"
)

// ParseLevel parses a level name. It accepts any case and "warning" for warn.
// Unknown names are info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is a zap logger with a level that can be changed at runtime.
type Logger struct {
	*zap.Logger

	level zap.AtomicLevel
	close func()
}

// SetLevel changes the minimum level by name.
func (l *Logger) SetLevel(name string) {
	l.level.SetLevel(ParseLevel(name))
}

// Level returns the current minimum level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Close flushes buffered entries and closes the output.
func (l *Logger) Close() {
	_ = l.Logger.Sync()
	if l.close != nil {
		l.close()
	}
}

// New builds a logger from configuration. Output "stderr" and "stdout" name
// the standard streams; anything else is a file path.
func New(cfg config.LoggingConfig) (*Logger, error) {
	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	sink, closeFn, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("opening log output %s: %w", output, err)
	}
	l, err := build(cfg, sink)
	if err != nil {
		closeFn()
		return nil, err
	}
	l.close = closeFn
	return l, nil
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (*Logger, error) {
	return build(cfg, zapcore.AddSync(w))
}

func build(cfg config.LoggingConfig, sink zapcore.WriteSyncer) (*Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	core := zapcore.NewCore(enc, sink, level)
	return &Logger{
		Logger: zap.New(core, zap.AddCaller()).Named("patchbay"),
		level:  level,
	}, nil
}
