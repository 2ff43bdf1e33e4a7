package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RebuildWatcher watches the manifest file for changes made outside this
// process (a second memosearch instance upserting into the same
// index_base_dir) and marks the BM25 index stale when one is observed.
// A single flat debounce window suffices here: a manifest is exactly one
// file, not an arbitrary directory tree.
type RebuildWatcher struct {
	watcher  *fsnotify.Watcher
	manifest string
	debounce time.Duration
	onStale  func()
	log      *slog.Logger
}

// NewRebuildWatcher creates a watcher for the manifest file at manifestPath.
// onStale is invoked (from the watcher's own goroutine) whenever the
// manifest changes; callers typically pass a closure that flips the
// Manager's bm25OK flag the same way Upsert/Delete already do.
func NewRebuildWatcher(manifestPath string, onStale func(), log *slog.Logger) (*RebuildWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(manifestPath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &RebuildWatcher{
		watcher:  w,
		manifest: manifestPath,
		debounce: 250 * time.Millisecond,
		onStale:  onStale,
		log:      log,
	}, nil
}

// Run watches until ctx is canceled or Close is called. Multiple writes
// within the debounce window collapse into a single onStale call.
func (w *RebuildWatcher) Run(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.manifest) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, w.fire)
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("index: manifest watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *RebuildWatcher) fire() {
	w.log.Info("index: external manifest change detected, marking bm25 stale", slog.String("manifest", w.manifest))
	if w.onStale != nil {
		w.onStale()
	}
}

// Close stops the underlying fsnotify watcher.
func (w *RebuildWatcher) Close() error {
	return w.watcher.Close()
}
