// Package mon keeps a single shell command running, restarting it when it
// exits and giving up after too many restarts within a minute.
package mon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/oarkflow/mon/ms"
)

type state int

const (
	stateExec     state = iota // about to launch the command
	stateRunning               // waiting for it to exit
	stateClassify              // exit observed
	stateRestart               // applying the attempt window
	stateAbort                 // limit exceeded
)

func (s state) String() string {
	switch s {
	case stateExec:
		return "exec"
	case stateRunning:
		return "running"
	case stateClassify:
		return "classify"
	case stateRestart:
		return "restart"
	case stateAbort:
		return "abort"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Supervisor runs one command at a time and restarts it whenever it exits,
// until the attempt window says to give up. All of its fields are owned by
// the goroutine calling Run.
type Supervisor struct {
	cfg       Config
	logger    *slog.Logger
	window    *Window
	onRestart *Hook
	onError   *Hook

	shell   string
	starter starter
	stdout  io.Writer
	stderr  io.Writer
	now     func() time.Time
	sleep   func(time.Duration)
	changes <-chan string

	cmd         *exec.Cmd
	waitErr     error
	reason      string
	lastRestart time.Time // zero until the first restart
}

func New(cfg Config, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		logger:  logger,
		window:  NewWindow(cfg.Attempts),
		shell:   "/bin/sh",
		starter: directStarter{},
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		now:     time.Now,
		sleep:   time.Sleep,
	}
	s.onRestart = &Hook{Name: "on-restart", Cmd: cfg.OnRestart, run: s.runHook}
	s.onError = &Hook{Name: "on-error", Cmd: cfg.OnError, run: s.runHook}
	return s
}

// StartThrough routes every process start, the command and the hooks,
// through sd so that none can begin once shutdown has signalled the group.
func (s *Supervisor) StartThrough(sd *Shutdown) {
	s.starter = sd
}

func (s *Supervisor) runHook(cmdline string) (int, error) {
	return runShell(cmdline, s.starter)
}

// WatchChanges makes each value received on changes terminate the running
// command, which then goes through the usual restart path.
func (s *Supervisor) WatchChanges(changes <-chan string) {
	s.changes = changes
}

// Run supervises the command until the restart limit is exceeded, the
// command cannot be started, or ctx is done. It never returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	st := stateExec
	for {
		next, err := s.step(ctx, st)
		if err != nil {
			return err
		}
		st = next
	}
}

func (s *Supervisor) step(ctx context.Context, st state) (state, error) {
	switch st {
	case stateExec:
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := s.exec(); err != nil {
			return st, err
		}
		return stateRunning, nil
	case stateRunning:
		if err := s.wait(ctx); err != nil {
			return st, err
		}
		return stateClassify, nil
	case stateClassify:
		s.classify()
		return stateRestart, nil
	case stateRestart:
		if s.restart() {
			return stateAbort, nil
		}
		return stateExec, nil
	case stateAbort:
		return st, s.abort()
	}
	return st, fmt.Errorf("unknown supervisor state %v", st)
}

func (s *Supervisor) exec() error {
	s.logger.Info("exec", slog.String("cmd", fmt.Sprintf("sh -c %q", s.cfg.Command)))
	cmd := exec.Command(s.shell, "-c", s.cfg.Command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	if err := s.starter.Do(cmd.Start); err != nil {
		return fmt.Errorf("fork: %w", err)
	}
	s.cmd = cmd
	pid := cmd.Process.Pid
	startCounter.Inc()
	childPIDGauge.Set(float64(pid))
	s.logger.Info("child started", slog.Int("pid", pid))
	if s.cfg.PIDFile != "" {
		if err := WritePIDFile(s.cfg.PIDFile, pid); err != nil {
			s.logger.Error("failed to write pid file", slog.String("file", s.cfg.PIDFile), slog.String("err", err.Error()))
		}
	}
	return nil
}

func (s *Supervisor) wait(ctx context.Context) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- s.cmd.Wait()
	}()
	for {
		select {
		case err := <-exitCh:
			s.waitErr = err
			childPIDGauge.Set(0)
			return nil
		case file := <-s.changes:
			s.logger.Info("change detected, terminating child", slog.String("file", file), slog.Int("pid", s.cmd.Process.Pid))
			if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.logger.Warn("failed to signal child", slog.String("err", err.Error()))
			}
		case <-ctx.Done():
			// Only the shell itself is killed. It shares our process group,
			// so processes it backgrounded are out of reach here; commands
			// that should not leave any behind must exec their program.
			_ = s.cmd.Process.Kill()
			<-exitCh
			childPIDGauge.Set(0)
			return ctx.Err()
		}
	}
}

// classify logs how the command ended and waits out the configured delay
// when it failed. A clean exit is restarted too, without the delay.
func (s *Supervisor) classify() {
	ws, ok := s.waitStatus()
	switch {
	case ok && ws.Signaled():
		s.reason = reasonSignal
		s.logger.Warn("child terminated", slog.String("signal", ws.Signal().String()))
	case !ok:
		s.reason = reasonExit
		s.logger.Warn("child failed", slog.String("err", fmt.Sprint(s.waitErr)))
	case ws.ExitStatus() != 0:
		s.reason = reasonExit
		s.logger.Warn("child exited", slog.Int("status", ws.ExitStatus()))
	default:
		s.reason = reasonClean
		s.logger.Info("child exited", slog.Int("status", 0))
		return
	}
	s.logger.Info("sleep", slog.String("duration", ms.Short(s.cfg.Sleep.Milliseconds())))
	s.sleep(s.cfg.Sleep)
}

func (s *Supervisor) waitStatus() (syscall.WaitStatus, bool) {
	if s.cmd == nil || s.cmd.ProcessState == nil {
		return 0, false
	}
	ws, ok := s.cmd.ProcessState.Sys().(syscall.WaitStatus)
	return ws, ok
}

// restart runs the restart hook and charges the restart to the attempt
// window. It reports whether the limit has been exceeded.
func (s *Supervisor) restart() bool {
	s.onRestart.Fire(s.logger)

	now := s.now()
	var elapsed int64
	if !s.lastRestart.IsZero() {
		// Monotonic when both readings come from time.Now; never negative
		// so a clock step cannot grow the window budget.
		elapsed = max(now.Sub(s.lastRestart).Milliseconds(), 0)
	}
	s.lastRestart = now
	if elapsed > 0 {
		s.logger.Info("last restart", slog.String("ago", ms.Long(elapsed)))
	}
	s.logger.Info("attempts remaining", slog.Int("remaining", s.window.Remaining()))

	if s.window.Exceeded(elapsed) {
		return true
	}
	restartCounter.WithLabelValues(s.reason).Inc()
	attemptsGauge.Set(float64(s.window.Remaining()))
	return false
}

func (s *Supervisor) abort() error {
	s.onError.Fire(s.logger)
	abortCounter.Inc()
	attemptsGauge.Set(0)
	s.logger.Error("bailing", slog.String("reason",
		fmt.Sprintf("%d restarts within less than one minute", s.cfg.Attempts)))
	return fmt.Errorf("%d restarts within less than one minute: %w", s.cfg.Attempts, ErrAttemptsExceeded)
}
