package templates

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates the registry cache when override files change
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a watcher over the registry's override directories.
// Directories that do not exist yet are skipped.
func NewWatcher(registry *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range registry.overrideDirs {
		if _, err := os.Stat(dir); err == nil {
			if err := fsw.Add(dir); err != nil {
				fsw.Close()
				return nil, err
			}
		}
	}

	return &Watcher{
		registry: registry,
		watcher:  fsw,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Run watches for changes until the context is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			// Editors fire bursts of events per save
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.registry.Invalidate)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
