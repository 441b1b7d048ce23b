package mon

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
)

// NewLogger builds the event logger for one supervisor. Events always go to
// stdout; with LogRotate they are also written to a rotated copy of the log
// file, unless stdout already is that file because the process is a daemon.
func NewLogger(cfg Config, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	w := stdout
	var closer io.Closer = nopCloser{}
	if cfg.LogRotate && cfg.Log != "" && !isDaemon() {
		dir := filepath.Dir(cfg.Log)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("could not create log dir '%s': %w", dir, err)
		}
		fileLogger := &lumberjack.Logger{
			Filename:   cfg.Log,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		w = io.MultiWriter(stdout, fileLogger)
		closer = fileLogger
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: false}))
	if cfg.Prefix != "" {
		logger = logger.With(slog.String("prefix", cfg.Prefix))
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
