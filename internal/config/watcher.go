package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce matches the teacher's cmd/bd/show_display.go watch-mode
// debounce window: editors often emit several writes in quick succession
// for one logical save.
const reloadDebounce = 500 * time.Millisecond

// Watcher reloads Config from path whenever the file changes on disk,
// invoking onChange with the freshly loaded value. Grounded on the
// teacher's fsnotify watch-mode loop in cmd/bd/show_display.go
// (directory watch + debounce timer, with context cancellation in place
// of its Ctrl+C signal handling).
type Watcher struct {
	path      string
	onChange  func(*Config)
	log       *slog.Logger
	fsWatcher *fsnotify.Watcher
}

// NewWatcher starts watching path's containing directory. Call Run to
// begin dispatching reloads; cancel ctx to stop.
func NewWatcher(path string, onChange func(*Config), log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{path: path, onChange: onChange, log: log, fsWatcher: fw}, nil
}

// Run blocks, dispatching a debounced reload on every write to path,
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsWatcher.Close()

	base := filepath.Base(w.path)
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) || filepath.Base(event.Name) != base {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				cfg, err := Load(w.path)
				if err != nil {
					w.log.Error("config: reload failed", "path", w.path, "error", err)
					return
				}
				w.onChange(cfg)
			})
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error("config: watcher error", "error", err)
		}
	}
}
