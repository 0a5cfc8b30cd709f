package runner

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anotepad/notesync/internal/localfs"
)

// Local watcher tuning.
const (
	debounceInterval    = 2 * time.Second
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
)

// localWatcher watches a directory tree and signals once per burst of
// changes, after debounceInterval of quiet.
type localWatcher struct {
	root     string
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	out      chan struct{}

	mu    gosync.Mutex
	timer *time.Timer
}

// newLocalWatcher watches root and every directory below it except the
// local trash.
func newLocalWatcher(root string, logger *slog.Logger) (*localWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &localWatcher{
		root:     root,
		fsw:      fsw,
		logger:   logger,
		debounce: debounceInterval,
		out:      make(chan struct{}, 1),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()

		return nil, err
	}

	return w, nil
}

// C delivers one value per debounced burst.
func (w *localWatcher) C() <-chan struct{} {
	return w.out
}

// addTree registers dir and its subdirectories. Unreadable subtrees are
// skipped with a warning.
func (w *localWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}

			w.logger.Warn("watch: skipping unreadable path", slog.String("path", p), slog.String("error", err.Error()))

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if p != w.root && d.Name() == localfs.TrashDir {
			return filepath.SkipDir
		}

		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("watch: failed to add directory", slog.String("path", p), slog.String("error", err.Error()))
		}

		return nil
	})
}

// run pumps fsnotify events until ctx ends or the watcher is closed.
// Watcher errors back off exponentially to avoid a tight loop under a
// sustained kernel queue overflow.
func (w *localWatcher) run(ctx context.Context) {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.handle(ev)
			errBackoff = watchErrInitBackoff

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", err.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(errBackoff):
			}

			errBackoff = min(errBackoff*2, watchErrMaxBackoff)

			// Events may have been dropped.
			w.kick()
		}
	}
}

func (w *localWatcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}

	rel = filepath.ToSlash(rel)
	if rel == localfs.TrashDir || strings.HasPrefix(rel, localfs.TrashDir+"/") {
		return
	}

	if ev.Has(fsnotify.Create) {
		if err := w.addTree(ev.Name); err != nil {
			w.logger.Debug("watch: created path vanished", slog.String("path", ev.Name))
		}
	}

	w.logger.Debug("watch: local change", slog.String("path", rel), slog.String("op", ev.Op.String()))
	w.kick()
}

// kick (re)starts the quiet-period timer.
func (w *localWatcher) kick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.out <- struct{}{}:
		default:
		}
	})
}

// Close stops the watcher and any pending signal.
func (w *localWatcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.fsw.Close()
}
