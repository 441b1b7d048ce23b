package mon

import "errors"

var (
	ErrNoCommand        = errors.New("command required")
	ErrNoPIDFile        = errors.New("--pidfile required")
	ErrAttemptsExceeded = errors.New("restart attempts exceeded")
	ErrAlreadyRunning   = errors.New("another instance is running")
)

// ExitCode maps an error returned by Execute's stages to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrAttemptsExceeded):
		return 2
	default:
		return 1
	}
}
