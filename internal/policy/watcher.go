package policy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ragworks/raggate/internal/pkg/logger"
)

// watchDebounce coalesces the burst of fsnotify events editors and
// config-pushers produce for a single file update.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the engine's rule set when the rules file changes. A
// failed reload keeps the previous rule set active.
type Watcher struct {
	engine *Engine
	path   string
}

func NewWatcher(engine *Engine, path string) *Watcher {
	return &Watcher{engine: engine, path: path}
}

// Run blocks until ctx is cancelled. The parent directory is watched
// rather than the file itself so atomic rename-based updates are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := w.engine.Reload(w.path); err != nil {
				logger.Error("policy rule set reload failed, keeping previous version",
					"path", w.path, "error", err.Error())
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rules watcher error", "error", err.Error())
		}
	}
}
