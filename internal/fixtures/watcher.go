package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"testkit/pkg/logging"
)

// Watcher invalidates cached static fixtures when their files change on
// disk, so long-running processes pick up edited fixture data without a
// restart.
type Watcher struct {
	loader    *Loader
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewWatcher creates a watcher over the loader's static directory and all
// category subdirectories that exist at start time.
func NewWatcher(loader *Loader) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fixture watcher: %w", err)
	}

	w := &Watcher{
		loader:    loader,
		fsWatcher: fsw,
		stopCh:    make(chan struct{}),
	}

	if err := fsw.Add(loader.staticDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", loader.staticDir, err)
	}
	entries, err := os.ReadDir(loader.staticDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				// Best effort; a category that cannot be watched still works,
				// it just will not invalidate automatically.
				_ = fsw.Add(filepath.Join(loader.staticDir, entry.Name()))
			}
		}
	}

	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Fixtures", "Fixture watcher error: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New category directories need to be watched as they appear.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fsWatcher.Add(event.Name)
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".json") {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(w.loader.staticDir, event.Name)
	if err != nil {
		return
	}
	identifier := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
	w.loader.ClearCacheEntry(identifier)
	logging.Debug("Fixtures", "Invalidated cached fixture %s after %s", identifier, event.Op)
}
