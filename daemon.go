package mon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// daemonEnv marks the re-executed copy of mon that runs detached.
const daemonEnv = "MON_DAEMON"

func isDaemon() bool {
	return os.Getenv(daemonEnv) == "1"
}

// Daemonize detaches mon from the terminal. Go cannot fork without exec,
// so the binary re-executes itself in a new session with stdin from
// /dev/null and stdout/stderr appended to logPath. It returns true in the
// original process, which should then exit 0, and false in the daemon.
func Daemonize(logPath string) (parent bool, err error) {
	if isDaemon() {
		return false, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return true, fmt.Errorf("unable to get executable path: %w", err)
	}
	if dir := filepath.Dir(logPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return true, fmt.Errorf("could not create log dir '%s': %w", dir, err)
		}
	}
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return true, fmt.Errorf("open log: %w", err)
	}
	defer logFile.Close()
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return true, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return true, fmt.Errorf("setsid: %w", err)
	}
	_ = cmd.Process.Release()
	return true, nil
}
