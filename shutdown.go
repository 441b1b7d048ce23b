package mon

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrShuttingDown is returned by Shutdown.Do once the group has been signalled.
var ErrShuttingDown = errors.New("shutting down")

// Shutdown forwards SIGTERM and SIGQUIT to our whole process group and then
// exits the program with status 0. Running children share the group, so
// they receive the same signal rather than being orphaned.
//
// Every process mon starts is started through Do. Do and the forwarding
// hold the same lock, so nothing can be forked between the group kill and
// the exit.
type Shutdown struct {
	logger *slog.Logger
	sigC   chan os.Signal
	kill   func(pid int, sig syscall.Signal) error
	exit   func(code int)

	mu       sync.Mutex
	stopping bool
	cleanup  []func()
}

func NewShutdown(logger *slog.Logger) *Shutdown {
	return &Shutdown{
		logger: logger,
		sigC:   make(chan os.Signal, 1),
		kill:   unix.Kill,
		exit:   os.Exit,
	}
}

// Install starts listening for the termination signals. It must only be
// called in the supervisor; children started with exec never inherit Go
// signal handlers and so see the default disposition.
func (s *Shutdown) Install() {
	signal.Notify(s.sigC, syscall.SIGTERM, syscall.SIGQUIT)
	go s.wait()
}

// OnExit registers fn to run after the group is signalled and before exit.
func (s *Shutdown) OnExit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup = append(s.cleanup, fn)
}

// Do runs start unless shutdown has begun.
func (s *Shutdown) Do(start func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrShuttingDown
	}
	return start()
}

func (s *Shutdown) wait() {
	sig := <-s.sigC
	s.handle(sig.(syscall.Signal))
}

func (s *Shutdown) handle(sig syscall.Signal) {
	// Held through exit; only a test exit function ever returns.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true

	// pid 0 addresses every process in our group, including ourselves;
	// the copy we receive is swallowed by the still-active Notify.
	if err := s.kill(0, sig); err != nil {
		s.logger.Error("failed to signal process group", slog.String("signal", sig.String()), slog.String("err", err.Error()))
	}
	s.logger.Info("shutting down", slog.String("signal", sig.String()))
	for _, fn := range s.cleanup {
		fn()
	}
	s.exit(0)
}
