package mon

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPIDFile(t *testing.T) {
	Convey("Given a temporary directory", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "child.pid")

		Convey("A written pid reads back unchanged", func() {
			So(WritePIDFile(path, 4242), ShouldBeNil)
			pid, err := ReadPIDFile(path)
			So(err, ShouldBeNil)
			So(pid, ShouldEqual, 4242)

			fi, err := os.Stat(path)
			So(err, ShouldBeNil)
			So(fi.Mode().Perm(), ShouldEqual, os.FileMode(0o600))
		})

		Convey("Rewriting truncates the old value", func() {
			So(WritePIDFile(path, 123456), ShouldBeNil)
			So(WritePIDFile(path, 7), ShouldBeNil)
			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "7")
		})

		Convey("Writing into a missing directory fails", func() {
			err := WritePIDFile(filepath.Join(dir, "nope", "x.pid"), 1)
			So(err, ShouldNotBeNil)
		})

		Convey("Garbage is not a pid", func() {
			So(os.WriteFile(path, []byte("abc"), 0o600), ShouldBeNil)
			_, err := ReadPIDFile(path)
			So(err, ShouldNotBeNil)
		})

		Convey("Uptime follows the modification time", func() {
			So(WritePIDFile(path, 1), ShouldBeNil)
			past := time.Now().Add(-90 * time.Second)
			So(os.Chtimes(path, past, past), ShouldBeNil)
			up, err := Uptime(path)
			So(err, ShouldBeNil)
			So(up, ShouldBeGreaterThanOrEqualTo, 90*time.Second)
		})
	})
}

func TestIsAlive(t *testing.T) {
	Convey("Our own pid is alive", t, func() {
		So(IsAlive(os.Getpid()), ShouldBeTrue)
	})

	Convey("A reaped child is dead", t, func() {
		cmd := exec.Command("/bin/sh", "-c", "exit 0")
		So(cmd.Run(), ShouldBeNil)
		So(IsAlive(cmd.Process.Pid), ShouldBeFalse)
	})

	Convey("Non-positive pids are never alive", t, func() {
		So(IsAlive(0), ShouldBeFalse)
		So(IsAlive(-1), ShouldBeFalse)
	})
}

func TestStatus(t *testing.T) {
	Convey("Given a pid file", t, func() {
		path := filepath.Join(t.TempDir(), "mon.pid")
		var buf bytes.Buffer

		Convey("A live process is reported with its uptime", func() {
			So(WritePIDFile(path, os.Getpid()), ShouldBeNil)
			past := time.Now().Add(-5 * time.Minute)
			So(os.Chtimes(path, past, past), ShouldBeNil)
			So(Status(&buf, path), ShouldBeNil)
			So(buf.String(), ShouldEqual, strconv.Itoa(os.Getpid())+" : alive : uptime 5 minutes\n")
		})

		Convey("A dead process is reported as dead", func() {
			cmd := exec.Command("/bin/sh", "-c", "exit 0")
			So(cmd.Run(), ShouldBeNil)
			So(WritePIDFile(path, cmd.Process.Pid), ShouldBeNil)
			So(Status(&buf, path), ShouldBeNil)
			So(buf.String(), ShouldEqual, strconv.Itoa(cmd.Process.Pid)+" : dead\n")
		})

		Convey("A missing pid file is an error", func() {
			err := Status(&buf, path)
			So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
		})
	})
}

func TestCheckOrCreatePIDFile(t *testing.T) {
	Convey("Given a supervisor pid file", t, func() {
		path := filepath.Join(t.TempDir(), "mon.pid")

		Convey("A fresh file gets our pid", func() {
			So(checkOrCreatePIDFile(path), ShouldBeNil)
			pid, err := ReadPIDFile(path)
			So(err, ShouldBeNil)
			So(pid, ShouldEqual, os.Getpid())
		})

		Convey("A stale file is overwritten", func() {
			cmd := exec.Command("/bin/sh", "-c", "exit 0")
			So(cmd.Run(), ShouldBeNil)
			So(WritePIDFile(path, cmd.Process.Pid), ShouldBeNil)
			So(checkOrCreatePIDFile(path), ShouldBeNil)
		})

		Convey("A live foreign process blocks startup", func() {
			cmd := exec.Command("sleep", "30")
			So(cmd.Start(), ShouldBeNil)
			defer func() {
				cmd.Process.Kill()
				cmd.Wait()
			}()
			So(WritePIDFile(path, cmd.Process.Pid), ShouldBeNil)
			err := checkOrCreatePIDFile(path)
			So(errors.Is(err, ErrAlreadyRunning), ShouldBeTrue)
		})
	})
}
