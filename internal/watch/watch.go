// Package watch notices metadata blocks delivered into a database directory by
// an external sync tool and tells the store once the deliveries settle.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the directory must stay quiet before Notify runs.
const DefaultDebounce = 500 * time.Millisecond

// Notify is called after a burst of changes, typically Store.MetadataIsReadyToMerge.
type Notify func(ctx context.Context) error

// Watcher watches one metadata directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	notify   Notify
	log      *zap.Logger
}

// New returns a watcher for dir. A zero debounce uses DefaultDebounce.
func New(dir string, debounce time.Duration, notify Notify, log *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{dir: dir, debounce: debounce, notify: notify, log: log}
}

// relevant filters out temp files written by the file driver itself.
func relevant(ev fsnotify.Event) bool {
	if ev.Name == "" || strings.HasPrefix(filepath.Base(ev.Name), ".tmp-") {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}

// Run blocks until ctx is done or the watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", w.dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching metadata", zap.String("dir", w.dir))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			w.log.Debug("metadata event", zap.String("name", ev.Name), zap.Stringer("op", ev.Op))
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			if err := w.notify(ctx); err != nil {
				w.log.Warn("metadata notify failed", zap.Error(err))
			}
		}
	}
}
