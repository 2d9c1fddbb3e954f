// Package main is the entry point for attachgate, an interactive console
// that arbitrates one exclusive debugger attachment.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/dshills/attachgate/internal/attach"
	"github.com/dshills/attachgate/internal/config"
	"github.com/dshills/attachgate/internal/integration/debug/adapters"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// detachTimeout bounds the orderly detach on exit.
const detachTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	configPath  string
	address     string
	adapter     string
	processID   int
	logLevel    string
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("attachgate", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (.toml, .yaml)")
	fs.StringVar(&opts.address, "addr", "", "Debug adapter address (host:port)")
	fs.StringVar(&opts.adapter, "adapter", "", "Adapter kind (delve, python, nodejs, generic)")
	fs.IntVarP(&opts.processID, "pid", "p", 0, "Process to attach to")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "attachgate - exclusive debugger attachment console\n\n")
		fmt.Fprintf(stderr, "Usage: attachgate [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  attachgate --adapter delve --pid 4242\n")
		fmt.Fprintf(stderr, "  attachgate --addr 127.0.0.1:2345 --adapter delve\n")
		fmt.Fprintf(stderr, "  attachgate -c attachgate.toml\n")
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// loadConfig loads the file and applies flag overrides over it.
func loadConfig(opts options, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg, err := config.Read(opts.configPath, lookup)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(cfg *config.Config, opts options) {
	if opts.address != "" {
		cfg.Target.Address = opts.address
	}
	if opts.adapter != "" {
		cfg.Target.Adapter = opts.adapter
	}
	if opts.processID != 0 {
		cfg.Target.ProcessID = opts.processID
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
}

func newLogger(cfg *config.Config, level *slog.LevelVar, w io.Writer) *slog.Logger {
	level.Set(cfg.LogLevel())
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "attachgate %s\n", version)
		fmt.Fprintf(stdout, "Commit: %s\n", commit)
		fmt.Fprintf(stdout, "Built: %s\n", date)
		return 0
	}

	cfg, err := loadConfig(opts, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var level slog.LevelVar
	base := newLogger(cfg, &level, stderr)
	logger := base.With("component", "cli")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interactive := term.IsTerminal(int(stdin.Fd()))
	console := newConsole(stdout, cfg, logger, interactive)

	host, err := buildHost(cfg, adapters.NewRegistry(), base, console.streamEvent)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer host.Close()

	orch := attach.NewOrchestrator(host, attach.Options{
		Target:         host.Name(),
		FailureBackoff: cfg.FailureBackoff(),
		Logger:         base,
	})
	defer orch.Close()

	go func() {
		if err := orch.ListenDetached(ctx, host.Detached()); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, attach.ErrClosed) {
			logger.Error("detach listener stopped", "error", err)
		}
	}()

	if opts.configPath != "" {
		watcher := config.NewWatcher(opts.configPath,
			config.WithLogger(logger),
			config.WithEnv(os.LookupEnv))
		go func() {
			err := watcher.Run(ctx, func(next *config.Config) {
				applyFlags(next, opts)
				level.Set(next.LogLevel())
				console.setConfig(next)
			})
			if err != nil {
				logger.Warn("config watch disabled", "error", err)
			}
		}()
	}

	if err := console.attach(orch, host); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	err = console.run(ctx, stdin)
	console.close()
	waitDetached(orch, detachTimeout, logger)

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// waitDetached waits for the attachment to reach Inactive after every lease
// was released.
func waitDetached(o *attach.Orchestrator, timeout time.Duration, logger *slog.Logger) {
	inactive := make(chan struct{}, 1)
	cancel, err := o.Subscribe(func(s attach.Snapshot) {
		if s.AttachState == attach.StateInactive && s.StreamState == attach.StateInactive {
			select {
			case inactive <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return
	}
	defer cancel()

	select {
	case <-inactive:
	case <-time.After(timeout):
		logger.Warn("attachment still held at exit", "snapshot", o.Snapshot().String())
	}
}
