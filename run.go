package mon

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// childEnv marks the copy of a library-mode program that runs the callback.
const childEnv = "MON_CHILD"

// Execute is the mon command: it parses os.Args and exits with the status
// described by ExitCode.
func Execute() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cfg, err := ParseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Status {
		if err := Status(stdout, cfg.PIDFile); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	err = Start(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// Start detaches if asked to, then supervises cfg.Command until it is
// given up on. It returns nil in the process that handed over to a daemon.
func Start(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Daemonize {
		parent, err := Daemonize(cfg.Log)
		if err != nil {
			return err
		}
		if parent {
			return nil
		}
	}

	logger, closer, err := NewLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer closer.Close()

	sd := NewShutdown(logger)
	sd.Install()

	if cfg.MonPIDFile != "" {
		if err := checkOrCreatePIDFile(cfg.MonPIDFile); err != nil {
			return err
		}
		remove := func() { removePIDFile(cfg.MonPIDFile) }
		sd.OnExit(remove)
		defer remove()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := New(cfg, logger)
	s.StartThrough(sd)
	if len(cfg.Watch) > 0 {
		w, err := NewWatcher(cfg.Watch, []string{cfg.PIDFile, cfg.MonPIDFile, cfg.Log}, logger)
		if err != nil {
			return err
		}
		defer w.Close()
		go w.Run(ctx)
		s.WatchChanges(w.Events())
	}
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, time.Now(), logger)
	}

	logger.Info("mon starting", slog.Int("pid", os.Getpid()), slog.Int("attempts", cfg.Attempts))
	return s.Run(ctx)
}

// Run supervises the calling program itself: the program is re-executed as
// the command, and in that copy fn runs with a context that is cancelled on
// SIGINT or SIGTERM. Run does not return.
func Run(cfg Config, fn func(ctx context.Context) error) {
	if os.Getenv(childEnv) == "1" {
		os.Exit(runChild(fn))
	}
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: unable to get executable path: %v\n", err)
		os.Exit(1)
	}
	cfg.Command = selfCommand(exe, os.Args[1:])
	err = Start(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(ExitCode(err))
}

func runChild(fn func(ctx context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := fn(ctx); err != nil {
		slog.Error("callback returned error", slog.String("err", err.Error()))
		return 1
	}
	return 0
}

// selfCommand is the shell command line that re-runs exe with args in
// child mode. The shell is replaced by the program so that signals and
// kills aimed at the command reach it directly.
func selfCommand(exe string, args []string) string {
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, "exec", "env", childEnv+"=1", shellQuote(exe))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
