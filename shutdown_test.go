package mon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestShutdownHandle(t *testing.T) {
	Convey("Given a shutdown handler with fake kill and exit", t, func() {
		s := NewShutdown(slog.New(slog.NewTextHandler(io.Discard, nil)))
		type call struct {
			pid int
			sig syscall.Signal
		}
		var kills []call
		exitCode := -1
		s.kill = func(pid int, sig syscall.Signal) error {
			kills = append(kills, call{pid, sig})
			return nil
		}
		s.exit = func(code int) { exitCode = code }

		Convey("SIGTERM is forwarded to the whole group before exiting 0", func() {
			s.handle(syscall.SIGTERM)
			So(kills, ShouldResemble, []call{{0, syscall.SIGTERM}})
			So(exitCode, ShouldEqual, 0)
		})

		Convey("SIGQUIT is forwarded as SIGQUIT", func() {
			s.handle(syscall.SIGQUIT)
			So(kills, ShouldResemble, []call{{0, syscall.SIGQUIT}})
			So(exitCode, ShouldEqual, 0)
		})

		Convey("Cleanups run after the forward and before exit", func() {
			var order []string
			s.kill = func(int, syscall.Signal) error {
				order = append(order, "kill")
				return nil
			}
			s.exit = func(int) { order = append(order, "exit") }
			s.OnExit(func() { order = append(order, "cleanup") })
			s.handle(syscall.SIGTERM)
			So(order, ShouldResemble, []string{"kill", "cleanup", "exit"})
		})

		Convey("Nothing is started once the group has been signalled", func() {
			started := 0
			So(s.Do(func() error { started++; return nil }), ShouldBeNil)
			s.handle(syscall.SIGTERM)
			err := s.Do(func() error { started++; return nil })
			So(errors.Is(err, ErrShuttingDown), ShouldBeTrue)
			So(started, ShouldEqual, 1)

			code, err := runShell("exit 0", s)
			So(errors.Is(err, ErrShuttingDown), ShouldBeTrue)
			So(code, ShouldEqual, -1)
		})

		Convey("A supervisor routed through it refuses to fork after the signal", func() {
			cfg := DefaultConfig()
			cfg.Command = "exit 1"
			sup, _ := testSupervisor(cfg)
			sup.StartThrough(s)
			s.handle(syscall.SIGTERM)
			err := sup.Run(context.Background())
			So(errors.Is(err, ErrShuttingDown), ShouldBeTrue)
			So(sup.cmd, ShouldBeNil)
		})

		Convey("A failed forward still exits", func() {
			s.kill = func(int, syscall.Signal) error { return syscall.EPERM }
			s.handle(syscall.SIGTERM)
			So(exitCode, ShouldEqual, 0)
		})
	})
}

func TestShutdownForwardsToChild(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	Convey("SIGTERM to the supervisor reaches the running child", t, func() {
		dir := t.TempDir()
		ready := filepath.Join(dir, "ready")
		got := filepath.Join(dir, "got")
		command := "trap 'echo TERM > " + got + "; exit 143' TERM; echo ok > " + ready + "; sleep 30 & wait"

		cmd := exec.Command(os.Args[0])
		cmd.Env = append(os.Environ(),
			"MON_TEST_HELPER=1",
			"MON_TEST_COMMAND="+command,
			"MON_TEST_PIDFILE="+filepath.Join(dir, "child.pid"),
		)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		So(cmd.Start(), ShouldBeNil)

		So(waitFor(func() bool {
			_, err := os.Stat(ready)
			return err == nil
		}), ShouldBeTrue)
		So(cmd.Process.Signal(syscall.SIGTERM), ShouldBeNil)

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case err := <-done:
			So(err, ShouldBeNil)
			So(cmd.ProcessState.ExitCode(), ShouldEqual, 0)
		case <-time.After(5 * time.Second):
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			t.Fatal("supervisor did not exit")
		}

		So(waitFor(func() bool {
			data, err := os.ReadFile(got)
			return err == nil && strings.TrimSpace(string(data)) == "TERM"
		}), ShouldBeTrue)
	})
}
