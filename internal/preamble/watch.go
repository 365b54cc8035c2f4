package preamble

import (
	"context"
	"fmt"
	"time"

	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/watcher"
)

// Watcher reloads a Store whenever preamble.tex in the config directory is
// created, written, removed or renamed.
type Watcher struct {
	store  *Store
	dir    string
	fw     *watcher.FileWatcher
	logger logging.Logger
}

// NewWatcher prepares a watcher on the store's config directory. The
// directory must exist; editors replace files atomically, so the directory
// rather than the file is watched.
func NewWatcher(store *Store, debounce time.Duration, logger logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	dir, err := store.ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolving preamble directory: %w", err)
	}

	fw, err := watcher.NewFileWatcher(debounce, logger)
	if err != nil {
		return nil, err
	}
	if err := fw.AddPath(dir); err != nil {
		_ = fw.Stop()
		return nil, err
	}

	w := &Watcher{
		store:  store,
		dir:    dir,
		fw:     fw,
		logger: logger.WithComponent("preamble-watcher"),
	}
	fw.AddFilter(watcher.BaseNameFilter(FileName))
	fw.AddHandler(w.handle)
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info(ctx, "Watching preamble", "path", Path(w.dir))
	return w.fw.Start(ctx)
}

// Stop releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fw.Stop()
}

func (w *Watcher) handle(ctx context.Context, events []watcher.ChangeEvent) error {
	for _, ev := range events {
		w.logger.Debug(ctx, "Preamble changed", "path", ev.Path, "change", ev.Type.String())
	}
	return w.store.Reload(ctx)
}
