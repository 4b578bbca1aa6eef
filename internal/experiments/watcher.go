package experiments

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFunc receives a freshly loaded definition, or the error that
// prevented loading it.
type WatchFunc func(def *Definition, err error)

// Watcher reloads an experiment file whenever it changes on disk.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename are still observed.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange WatchFunc
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	timer   *time.Timer
	wg      sync.WaitGroup
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Debounce coalesces bursts of writes. Defaults to 250ms.
	Debounce time.Duration

	// Logger for watch events.
	Logger *slog.Logger
}

// NewWatcher creates a watcher for path. Call Start to begin watching.
func NewWatcher(path string, onChange WatchFunc, cfg WatcherConfig) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("watch callback is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "experiment-watcher")
	}
	return &Watcher{
		path:     abs,
		debounce: cfg.Debounce,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Start begins watching. It is a no-op if already started.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(watchCtx, watcher)

	w.logger.Info("watching experiment file", "path", w.path)
	return nil
}

// Close stops watching and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	watcher := w.watcher
	w.watcher = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("experiment watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	def, err := Load(w.path)
	if err != nil {
		w.logger.Warn("experiment reload failed", "path", w.path, "error", err)
	} else {
		w.logger.Info("experiment reloaded", "path", w.path, "experiment_id", def.ID)
	}
	w.onChange(def, err)
}
