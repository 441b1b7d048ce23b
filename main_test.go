package mon

import (
	"context"
	"os"
	"testing"
)

// TestMain doubles as a standalone supervisor when MON_TEST_HELPER is set,
// so that tests can signal or daemonize a real supervisor process without
// touching the test binary itself.
func TestMain(m *testing.M) {
	switch os.Getenv("MON_TEST_HELPER") {
	case "1":
		cfg := DefaultConfig()
		cfg.Command = os.Getenv("MON_TEST_COMMAND")
		cfg.PIDFile = os.Getenv("MON_TEST_PIDFILE")
		cfg.Sleep = 0
		os.Exit(ExitCode(Start(context.Background(), cfg)))
	case "daemon":
		cfg := DefaultConfig()
		cfg.Command = os.Getenv("MON_TEST_COMMAND")
		cfg.Log = os.Getenv("MON_TEST_LOG")
		cfg.Daemonize = true
		cfg.Attempts = 1
		cfg.Sleep = 0
		os.Exit(ExitCode(Start(context.Background(), cfg)))
	}
	os.Exit(m.Run())
}
