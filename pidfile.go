package mon

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/oarkflow/mon/ms"
)

// WritePIDFile stores pid in path as a decimal number, replacing any
// previous contents.
func WritePIDFile(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open pid file: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		f.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

// IsAlive reports whether a process with the given pid exists, by sending
// it the null signal.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// Uptime is the time since the pid file at path was last written.
func Uptime(path string) (time.Duration, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return time.Since(fi.ModTime()), nil
}

// checkOrCreatePIDFile writes our own pid to path, refusing if the file
// names a different process that is still running.
func checkOrCreatePIDFile(path string) error {
	self := os.Getpid()
	if pid, err := ReadPIDFile(path); err == nil && pid != self && IsAlive(pid) {
		return fmt.Errorf("%w: pid %d in %s", ErrAlreadyRunning, pid, path)
	}
	return WritePIDFile(path, self)
}

func removePIDFile(path string) {
	_ = os.Remove(path)
}

const (
	ansiGray  = "\033[90m"
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiReset = "\033[0m"
)

// Status prints one line describing the process named by the pid file at
// path: its pid, whether it is alive, and if so how long it has been up.
func Status(w io.Writer, path string) error {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return err
	}
	up, err := Uptime(path)
	if err != nil {
		return err
	}

	color := func(code, s string) string { return s }
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		color = func(code, s string) string { return code + s + ansiReset }
	}

	if IsAlive(pid) {
		_, err = fmt.Fprintf(w, "%s : %s : uptime %s\n",
			color(ansiGray, strconv.Itoa(pid)), color(ansiGreen, "alive"), ms.Long(up.Milliseconds()))
	} else {
		_, err = fmt.Fprintf(w, "%s : %s\n", color(ansiGray, strconv.Itoa(pid)), color(ansiRed, "dead"))
	}
	return err
}
