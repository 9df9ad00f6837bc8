package request

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigWatcher hot-reloads the file-backed subset of the configuration.
// On each change of the watched file the YAML is re-read, applied over the
// current snapshot and handed to the subscribers. The watcher never
// mutates a running client implicitly; acting on the new snapshot is the
// subscriber's decision.
type ConfigWatcher struct {
	path      string
	current   Config
	callbacks []func(Config)
	mu        sync.RWMutex

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	logger  *zap.Logger
}

// NewConfigWatcher starts watching path, seeded with initial.
func NewConfigWatcher(path string, initial Config, logger *zap.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	w := &ConfigWatcher{
		path:    path,
		current: initial,
		watcher: fsWatcher,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
	go w.watchLoop()

	logger.Info("configuration hot reloading enabled", zap.String("path", path))
	return w, nil
}

// OnChange registers a callback invoked with each reloaded snapshot.
func (w *ConfigWatcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current returns the latest snapshot.
func (w *ConfigWatcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop ends watching.
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

func (w *ConfigWatcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *ConfigWatcher) reload() {
	fc, err := loadFileConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", zap.Error(err))
		return
	}

	w.mu.Lock()
	next := w.current
	fc.apply(&next)
	w.current = next
	callbacks := make([]func(Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(next)
	}
}
