package workspace

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// watcher invalidates snapshots when files in a snapshotted directory
// are created, written, removed or renamed.
type watcher struct {
	fw         *fsnotify.Watcher
	invalidate func(dir string)
	logger     *slog.Logger

	mu      sync.Mutex
	watched map[string]bool

	doneCh    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWatcher(invalidate func(string), logger *slog.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fw:         fw,
		invalidate: invalidate,
		logger:     logger,
		watched:    make(map[string]bool),
		doneCh:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *watcher) add(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return
	}
	if err := w.fw.Add(dir); err != nil {
		w.logger.Debug("cannot watch directory", "dir", dir, "error", err)
		return
	}
	w.watched[dir] = true
}

func (w *watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.invalidate(filepath.Dir(ev.Name))
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("workspace watcher error", "error", err)
		}
	}
}

func (w *watcher) close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fw.Close()
		<-w.doneCh
	})
	return w.closeErr
}
