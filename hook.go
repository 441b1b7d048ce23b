package mon

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
)

// starter wraps the start of every child process. Shutdown implements it.
type starter interface {
	Do(start func() error) error
}

type directStarter struct{}

func (directStarter) Do(start func() error) error { return start() }

// runShell runs cmdline under /bin/sh -c with our stdio and waits for it.
// It returns the exit code, or -1 if the shell could not be started or was
// killed by a signal.
func runShell(cmdline string, st starter) (int, error) {
	cmd := exec.Command("/bin/sh", "-c", cmdline)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := st.Do(cmd.Start); err != nil {
		return -1, err
	}
	err := cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, err
	}
}

// Hook is an operator supplied shell command run at a point in the restart
// cycle. Its outcome is logged and otherwise ignored.
type Hook struct {
	Name string
	Cmd  string
	run  func(string) (int, error)
}

// Fire runs the hook if one is configured and blocks until it finishes.
func (h *Hook) Fire(logger *slog.Logger) {
	if h == nil || h.Cmd == "" {
		return
	}
	logger.Info("running hook", slog.String("hook", h.Name), slog.String("cmd", h.Cmd))
	code, err := h.run(h.Cmd)
	switch {
	case err != nil:
		logger.Warn("hook failed to run", slog.String("hook", h.Name), slog.String("err", err.Error()))
	case code != 0:
		logger.Warn("hook exited non-zero", slog.String("hook", h.Name), slog.Int("status", code))
	}
}
