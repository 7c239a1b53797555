package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures the store file watcher.
type WatcherConfig struct {
	// StorePath is the SQLite file backing the session repository.
	StorePath string

	// DebounceDelay is how long to wait for more writes before reloading.
	DebounceDelay time.Duration

	Logger *slog.Logger
}

// Watcher reloads the session when another process (for example a
// `facilities logout` in a second terminal) writes the store file.
type Watcher struct {
	config  WatcherConfig
	manager *Manager
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	started bool
	stopped bool
	done    chan struct{}
}

func NewWatcher(config WatcherConfig, manager *Manager) (*Watcher, error) {
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = 200 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	abs, err := filepath.Abs(config.StorePath)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	config.StorePath = abs

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	// Watch the directory: SQLite may replace or create sidecar journal files.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		config:  config,
		manager: manager,
		watcher: fw,
		done:    make(chan struct{}),
	}, nil
}

// Start processes file events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if w.relevant(event) {
					w.schedule(ctx)
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.config.Logger.Warn("session watcher error", "error", err)
			}
		}
	}()
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.watcher.Close()
	if started {
		<-w.done
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return strings.HasPrefix(name, w.config.StorePath)
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.DebounceDelay, func() {
		if _, err := w.manager.Reload(ctx); err != nil {
			w.config.Logger.Warn("session reload failed", "error", err)
		}
	})
}
