package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nvrlab/rtsptrace/internal/logging"
)

// Watcher reloads a configuration file whenever it changes on disk and
// fans the freshly loaded value out to registered handlers. The parent
// directory is watched rather than the file itself: editors and config
// management tools replace files by renaming a temporary over them,
// which detaches a watch held on the old inode.
type Watcher[T any] struct {
	path     string
	dir      string
	name     string
	debounce time.Duration
	load     func(path string) (T, error)

	mu       sync.RWMutex
	handlers []func(T)
	onError  func(error)

	fsw    *fsnotify.Watcher
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets how long after the last disk event the reload
// fires. Default is 1500ms.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

// WithErrorHandler sets a callback for load errors. Without it errors
// are only logged.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.onError = handler
	}
}

// NewConfigWatcher creates a watcher for path. load is called fresh on
// every change so handlers never see stale data.
func NewConfigWatcher[T any](
	path string,
	load func(path string) (T, error),
	opts ...WatcherOption[T],
) *Watcher[T] {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher[T]{
		path:     path,
		dir:      filepath.Dir(path),
		name:     filepath.Base(path),
		debounce: 1500 * time.Millisecond,
		load:     load,
		logger:   logging.GetLogger("config"),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers a handler for future reloads and returns a
// function that removes it.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	idx := len(w.handlers) - 1
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		w.handlers[idx] = nil
		w.mu.Unlock()
	}
}

// Start begins watching. The watched file may not exist yet; its
// directory must.
func (w *Watcher[T]) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if addErr := fsw.Add(w.dir); addErr != nil {
		fsw.Close()
		return addErr
	}
	w.fsw = fsw

	w.logger.Info("Watching config file", "path", w.path, "debounce", w.debounce)
	go w.run()
	return nil
}

// Stop ends watching and releases the notify handle.
func (w *Watcher[T]) Stop() error {
	w.cancel()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher[T]) run() {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Debug("Config watcher stopped")
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.concerns(ev) {
				continue
			}
			w.logger.Debug("Config file changed on disk", "op", ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			pending = timer.C

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}

// concerns reports whether a directory event touches the watched file
// with an operation that changes its content. Write covers in-place
// edits; Create covers both new files and renames onto the name.
func (w *Watcher[T]) concerns(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != w.name {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create) != 0
}

// reload loads the file fresh and fans out to handlers. Every handler
// receives the same snapshot; on a load failure the previous
// configuration stays in effect.
func (w *Watcher[T]) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.RLock()
	handlers := make([]func(T), 0, len(w.handlers))
	for _, h := range w.handlers {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	w.mu.RUnlock()

	w.logger.Info("Config reloaded", "path", w.path, "handlers", len(handlers))
	for _, h := range handlers {
		h(cfg)
	}
}
