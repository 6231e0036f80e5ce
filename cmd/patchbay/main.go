// Package main is the entry point for patchbay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/dshills/patchbay/internal/bridge"
	"github.com/dshills/patchbay/internal/config"
	"github.com/dshills/patchbay/internal/console"
	"github.com/dshills/patchbay/internal/engine"
	"github.com/dshills/patchbay/internal/frontend"
	"github.com/dshills/patchbay/internal/logging"
	"github.com/dshills/patchbay/internal/workqueue"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options holds command-line flags. Empty values leave the configuration alone.
type options struct {
	configPath  string
	logLevel    string
	script      string
	ui          string
	showVersion bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if opts.showVersion {
		fmt.Printf("patchbay %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading configuration: %v\n", err)
		return 1
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	mode := resolveMode(cfg.UI.Mode, term.IsTerminal(int(os.Stdout.Fd())))
	log, err := newLogger(cfg.Logging, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			log.Info("signal received", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := serve(ctx, cfg, opts, mode, log); err != nil {
		log.Error("patchbay failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("patchbay", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.script, "script", "", "Lua script to run instead of the built-in demo")
	fs.StringVar(&opts.ui, "ui", "", "Front-end (auto, tui, plain, json)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	fs.BoolVar(&opts.showVersion, "v", false, "Show version information (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(output, "patchbay - engine/UI bridge playground\n\n")
		fmt.Fprintf(output, "Usage: patchbay [options]\n\n")
		fmt.Fprintf(output, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(output, "\nEnvironment variables prefixed with %s override the configuration file.\n", config.EnvPrefix)
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	switch opts.logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return opts, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", opts.logLevel)
	}
	return opts, nil
}

// apply overrides cfg with the flags that were set.
func (o options) apply(cfg *config.Config) {
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.script != "" {
		cfg.Engine.Script = o.script
	}
	if o.ui != "" {
		cfg.UI.Mode = o.ui
	}
}

// resolveMode picks the terminal front-end for auto mode when stdout is a
// terminal and plain text otherwise.
func resolveMode(mode string, isTerminal bool) string {
	if mode != config.ModeAuto {
		return mode
	}
	if isTerminal {
		return config.ModeTUI
	}
	return config.ModePlain
}

// newLogger builds the process logger. The terminal front-end owns the
// screen, so logs aimed at a standard stream are discarded in that mode.
func newLogger(cfg config.LoggingConfig, mode string) (*logging.Logger, error) {
	if mode == config.ModeTUI && (cfg.Output == "" || cfg.Output == "stderr" || cfg.Output == "stdout") {
		return logging.NewWithWriter(cfg, io.Discard)
	}
	return logging.New(cfg)
}

func consoleOptions(cfg config.ConsoleConfig) []console.Option {
	return []console.Option{
		console.WithRetention(cfg.Retention),
		console.WithDebounce(cfg.Debounce.Std()),
		console.WithMaxDelay(cfg.MaxDelay.Std()),
		console.WithAssemblyCapacity(cfg.AssemblyCapacity),
		console.WithPendingCapacity(cfg.PendingCapacity),
		console.WithMuted(cfg.Muted),
	}
}

// serve wires the bridge, the engine and a front-end and runs them until ctx
// is done, the user quits, or one of them fails.
func serve(ctx context.Context, cfg config.Config, opts options, mode string, log *logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queueOpts := []workqueue.Option{workqueue.WithCapacity(cfg.Queue.Capacity)}

	var (
		host bridge.Host
		ui   func(ctx context.Context, b *bridge.Bridge) error
	)
	switch mode {
	case config.ModeTUI:
		screen, err := tcell.NewScreen()
		if err != nil {
			return fmt.Errorf("creating terminal: %w", err)
		}
		t := frontend.NewTerminal(screen,
			frontend.WithTick(cfg.UI.Tick.Std()),
			frontend.WithTerminalLogger(log.Logger))
		queueOpts = append(queueOpts, workqueue.WithWakeFunc(t.Wake))
		host = t
		ui = func(ctx context.Context, b *bridge.Bridge) error { return t.Run(ctx, b) }
	default:
		format := frontend.FormatText
		if mode == config.ModeJSON {
			format = frontend.FormatJSON
		}
		p := frontend.NewPlain(os.Stdout,
			frontend.WithFormat(format),
			frontend.WithEvents(format == frontend.FormatJSON),
			frontend.WithPlainLogger(log.Logger))
		host = p
		ui = func(ctx context.Context, b *bridge.Bridge) error { return p.Run(ctx, b, cfg.UI.Tick.Std()) }
	}

	b := bridge.New(
		bridge.WithHost(host),
		bridge.WithLogger(log.Logger),
		bridge.WithQueueOptions(queueOpts...),
		bridge.WithConsoleOptions(consoleOptions(cfg.Console)...),
	)

	eng, err := engine.New(b,
		engine.WithLogger(log.Logger),
		engine.WithBlockInterval(cfg.Engine.BlockInterval.Std()),
		engine.WithScriptFile(cfg.Engine.Script))
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer eng.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		// The front-end returning means the user quit.
		defer cancel()
		return ui(gctx, b)
	})

	if opts.configPath != "" {
		w, err := config.NewWatcher(opts.configPath,
			liveReloader(cfg, opts, log, b.Console()),
			config.WithWatchLogger(log.Logger))
		if err != nil {
			log.Warn("config watcher unavailable", zap.Error(err))
		} else {
			defer w.Close()
			g.Go(func() error {
				return w.Run(gctx)
			})
		}
	}

	log.Info("patchbay started",
		zap.String("version", version),
		zap.String("ui", mode),
		zap.Stringer("engine", eng.ID()))

	err = g.Wait()
	stats := b.Stats()
	log.Info("patchbay stopped",
		zap.Uint64("blocks", eng.Stats().Blocks),
		zap.Uint64("enqueued", stats.Queue.Enqueued),
		zap.Uint64("dropped", stats.Queue.Dropped),
		zap.Uint64("console_lines", stats.Console.Submitted))
	return err
}

// mutable is the part of the console the live reloader touches.
type mutable interface {
	SetMuted(bool)
}

// liveReloader applies settings that can change without a restart and warns
// about the rest.
func liveReloader(current config.Config, opts options, log *logging.Logger, c mutable) config.ChangeFunc {
	var mu sync.Mutex
	return func(next config.Config) {
		mu.Lock()
		defer mu.Unlock()

		opts.apply(&next)
		live, restart := current.LiveChanges(next)
		if live {
			log.SetLevel(next.Logging.Level)
			c.SetMuted(next.Console.Muted)
			log.Info("configuration reloaded",
				zap.String("level", next.Logging.Level),
				zap.Bool("muted", next.Console.Muted))
		}
		if restart {
			log.Warn("configuration change requires a restart to take effect")
		}
		current = next
	}
}
