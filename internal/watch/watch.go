// Package watch observes a local mirror for filesystem changes and emits
// debounced batches of changed paths, the input for a watch-mode push loop.
//
// Editors save in bursts (write, rename, chmod within milliseconds); the
// debounce window coalesces a burst into one batch so a single sync covers
// it instead of one sync per syscall.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flatsync/flatsync/internal/localfs"
	"github.com/flatsync/flatsync/internal/logging"
)

// DefaultDebounce is the quiet period before a batch is emitted.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a mirror root recursively.
type Watcher struct {
	mirror   *localfs.Mirror
	debounce time.Duration
	fw       *fsnotify.Watcher
	batches  chan []string
}

// New creates a Watcher over the mirror root and registers every existing
// non-ignored directory. Call Run to start delivering batches.
func New(mirror *localfs.Mirror, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	w := &Watcher{
		mirror:   mirror,
		debounce: debounce,
		fw:       fw,
		batches:  make(chan []string, 4),
	}
	if err := w.addRecursive(mirror.Root()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch mirror: %w", err)
	}
	return w, nil
}

// Batches delivers debounced sets of changed relative paths.
func (w *Watcher) Batches() <-chan []string {
	return w.batches
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

// Run blocks, turning raw filesystem events into debounced batches, until
// the context is canceled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			rel, ok := w.rel(ev.Name)
			if !ok || w.mirror.Ignored(rel) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						logging.Warn("failed to watch new directory", logging.Path(rel), logging.Err(err))
					}
					continue
				}
			}
			if !ev.Op.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer, fire = nil, nil
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for rel := range pending {
				batch = append(batch, rel)
			}
			sort.Strings(batch)
			pending = make(map[string]struct{})

			logging.Debug("change batch", logging.Count(len(batch)))
			select {
			case w.batches <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("watch error", logging.Err(err))
		}
	}
}

// rel maps an absolute event path to a slash-separated mirror-relative one.
func (w *Watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.mirror.Root(), abs)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addRecursive registers dir and every non-ignored directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.rel(path); ok && w.mirror.Ignored(rel) {
			return fs.SkipDir
		}
		return w.fw.Add(path)
	})
}
