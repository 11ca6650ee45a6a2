// Package watch reports on-disk changes to files shown in previews.
package watch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tliron/commonlog"
)

// ErrWatcherClosed is returned when a closed watcher is used.
var ErrWatcherClosed = errors.New("watcher closed")

var log = commonlog.GetLogger("go-live-preview.watch")

// Watcher follows a set of files by watching their parent directories.
type Watcher struct {
	mu sync.Mutex

	watcher  *fsnotify.Watcher
	onChange func(path string)

	files  map[string]bool
	dirs   map[string]int
	closed bool
}

// New creates a watcher that calls onChange from its Run goroutine.
func New(onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fsw,
		onChange: onChange,
		files:    make(map[string]bool),
		dirs:     make(map[string]int),
	}, nil
}

// Track replaces the set of followed files.
func (w *Watcher) Track(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	next := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		next[filepath.Clean(p)] = true
	}

	var errs []error
	for p := range next {
		if w.files[p] {
			continue
		}
		if err := w.addDir(filepath.Dir(p)); err != nil {
			errs = append(errs, err)
			delete(next, p)
		}
	}
	for p := range w.files {
		if !next[p] {
			w.removeDir(filepath.Dir(p))
		}
	}
	w.files = next

	return errors.Join(errs...)
}

// Tracked returns the number of followed files.
func (w *Watcher) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.files)
}

func (w *Watcher) addDir(dir string) error {
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		log.Debugf("watching %s", dir)
	}
	w.dirs[dir]++
	return nil
}

func (w *Watcher) removeDir(dir string) {
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return
	}
	delete(w.dirs, dir)
	if err := w.watcher.Remove(dir); err != nil {
		log.Debugf("unwatch %s: %v", dir, err)
	}
}

// Run delivers change notifications until ctx is cancelled, then closes
// the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(ev.Name)
			if !w.isTracked(path) {
				continue
			}
			w.onChange(path)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warningf("watch error: %v", err)
		}
	}
}

func (w *Watcher) isTracked(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[path]
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
