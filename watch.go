package mon

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 500 * time.Millisecond

// Watcher turns file system changes under a set of paths into restart
// requests. Bursts of events within debounceDelay collapse into one.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	events  chan string

	files  map[string]bool // named files; their directories are watched for them alone
	trees  map[string]bool // directories whose every entry counts
	ignore map[string]bool
}

// NewWatcher watches every directory under each directory path, and each
// file path through its containing directory. Changes to the paths in
// ignore, such as pid and log files mon writes itself, are never reported.
func NewWatcher(paths, ignore []string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		watcher: fw,
		logger:  logger,
		events:  make(chan string, 1),
		files:   make(map[string]bool),
		trees:   make(map[string]bool),
		ignore:  make(map[string]bool),
	}
	for _, p := range ignore {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			w.ignore[abs] = true
		}
	}
	for _, p := range paths {
		if err := w.add(p); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) add(p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("resolve watch path %s: %w", p, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat watch path %s: %w", abs, err)
	}
	if !fi.IsDir() {
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.logger.Info("watching file directory", slog.String("dir", dir))
		return nil
	}
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			w.trees[path] = true
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			w.logger.Info("watching directory", slog.String("dir", path))
		}
		return nil
	})
}

// relevant reports whether a change to name should restart the command.
func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if w.ignore[name] {
		return false
	}
	return w.files[name] || w.trees[filepath.Dir(name)] || w.trees[name]
}

// Events delivers the name of a changed file once a burst has settled.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Run forwards debounced events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	timer := time.NewTimer(debounceDelay)
	if !timer.Stop() {
		<-timer.C
	}
	var pending string
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 && w.relevant(event.Name) {
				w.logger.Debug("file event", slog.String("file", event.Name), slog.String("op", event.Op.String()))
				pending = event.Name
				timer.Reset(debounceDelay)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", slog.String("err", err.Error()))
		case <-timer.C:
			select {
			case w.events <- pending:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
