package rates

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a rate file into a Holder whenever it changes on disk.
// A file that fails to parse leaves the previous book in place.
type Watcher struct {
	path    string
	holder  *Holder
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	onSwap  func(*Book)
}

// NewWatcher loads path once and prepares to follow it
func NewWatcher(path string, holder *Holder, logger *zap.Logger) (*Watcher, error) {
	book, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	holder.Swap(book)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors often replace the file instead of writing it.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	return &Watcher{
		path:    filepath.Clean(path),
		holder:  holder,
		logger:  logger,
		watcher: fw,
	}, nil
}

// OnSwap registers a callback invoked after each successful reload
func (w *Watcher) OnSwap(fn func(*Book)) {
	w.onSwap = fn
}

// Run blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Rate file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	book, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("Rejected rate file update, keeping previous tables",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.holder.Swap(book)
	w.logger.Info("Rate tables reloaded",
		zap.String("path", w.path),
		zap.Int("plans", len(book.Coverage)),
	)
	if w.onSwap != nil {
		w.onSwap(book)
	}
}
