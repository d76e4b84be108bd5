package parslet

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pathWatcher watches a fixed set of files/directories for changes during a
// run and flips a dirty flag the first time anything under them changes,
// debounced the same way a config-reload watcher would be (rapid-fire
// editor saves collapse into one event). A dirty watcher disables cache
// writes for the remainder of the run: a result computed while its inputs
// were mutating underneath it is not safe to memoize.
type pathWatcher struct {
	paths []string
	dirty atomic.Bool
}

// newPathWatcher snapshots nothing itself; watch starts the fsnotify loop.
// An empty paths list is a valid no-op watcher.
func newPathWatcher(paths []string) *pathWatcher {
	return &pathWatcher{paths: append([]string(nil), paths...)}
}

// Dirty reports whether any watched path has changed since watch started.
func (w *pathWatcher) Dirty() bool {
	return w.dirty.Load()
}

// watch runs until ctx is cancelled, setting w.dirty on the first debounced
// change to any watched path. Before adding a path it only checks with
// os.Stat that the path exists; no mtime baseline is recorded, so a change
// that lands before the path is added to the fsnotify watcher is not
// detected.
func (w *pathWatcher) watch(ctx context.Context, logger *slog.Logger) {
	if len(w.paths) == 0 {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watcher init failed", "error", err)
		return
	}
	defer watcher.Close()

	for _, p := range w.paths {
		if _, err := os.Stat(p); err != nil {
			logger.Warn("watched path unavailable", "path", p, "error", err)
			continue
		}
		if err := watcher.Add(p); err != nil {
			logger.Warn("watch add failed", "path", p, "error", err)
		}
	}

	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			debounce.Reset(50 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", "error", err)
		case <-debounce.C:
			w.dirty.Store(true)
		}
	}
}
