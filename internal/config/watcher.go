package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
)

const watchDebounce = 500 * time.Millisecond

// Watcher reloads the store when the config file changes on disk. Editors
// and atomic renames produce bursts of events, so reloads are debounced.
type Watcher struct {
	store  *Store
	loader *Loader
	fsw    *fsnotify.Watcher
	done   chan struct{}
}

// NewWatcher watches the directory containing the config file. Watching
// the directory rather than the file survives rename-based saves.
func NewWatcher(store *Store, loader *Loader) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cfg := store.Snapshot()
	if err := fsw.Add(filepath.Dir(cfg.Paths.ConfigFile)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		store:  store,
		loader: loader,
		fsw:    fsw,
		done:   make(chan struct{}),
	}, nil
}

// Start runs the watch loop until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) Stop() {
	close(w.done)
	_ = w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	log := logger.FromContext(ctx)
	configFile := w.store.Snapshot().Paths.ConfigFile

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != configFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(watchDebounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", tag.Error(err))
		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	log := logger.FromContext(ctx)
	next, err := w.loader.Load(ctx)
	if err != nil {
		log.Error("config reload failed, keeping previous configuration", tag.Error(err))
		return
	}
	if err := next.Validate(); err != nil {
		log.Error("reloaded config invalid, keeping previous configuration", tag.Error(err))
		return
	}
	log.Info("config file changed, reloading", tag.Path(next.Paths.ConfigFile))
	w.store.replace(ctx, next)
}
