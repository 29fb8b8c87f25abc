package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the catalog file when it changes
type Watcher struct {
	watcher *fsnotify.Watcher
	seeder  *Seeder
	path    string
	logger  *zap.Logger
}

// NewWatcher watches path for changes. The parent directory is watched so that
// editors replacing the file by rename are noticed.
func NewWatcher(seeder *Seeder, path string, logger *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	return &Watcher{watcher: watcher, seeder: seeder, path: abs, logger: logger}, nil
}

// Run reloads on every change until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() { w.reload(ctx) })
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	catalog, err := Load(w.path)
	if err != nil {
		// keep serving the previous catalog
		w.logger.Error("catalog reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	created, err := w.seeder.Reload(ctx, catalog)
	if err != nil {
		w.logger.Error("catalog reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("catalog reloaded",
		zap.String("path", w.path),
		zap.Int("frameworks", len(catalog.Frameworks)),
		zap.Int("controls_created", created))
}
