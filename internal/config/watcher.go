package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce collapses the burst of events editors emit for one
// save into a single reload.
const DefaultReloadDebounce = 250 * time.Millisecond

// ReloadFunc receives the previous and the freshly loaded config. It runs
// on the watcher goroutine; long work should be handed off.
type ReloadFunc func(prev, next *Config)

// Watcher reloads a config file when it changes on disk. The parent
// directory is watched rather than the file itself so atomic saves
// (write temp, rename over) and Kubernetes ConfigMap symlink swaps are
// seen. Every reload goes through the same env overlay, defaults and
// validation as [Load]; a file that fails them leaves the current config
// in place.
type Watcher struct {
	path     string
	lookup   LookupFunc
	debounce time.Duration
	onReload ReloadFunc

	fsw       *fsnotify.Watcher
	closeOnce sync.Once

	current atomic.Pointer[Config]

	reloadMu sync.Mutex
	digest   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits after the last file event
// before reloading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLookup replaces [os.LookupEnv] for the environment overlay.
func WithLookup(fn LookupFunc) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.lookup = fn
		}
	}
}

// NewWatcher loads path and starts watching its directory. Events are only
// consumed once [Watcher.Run] is called.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	w := &Watcher{
		path:     abs,
		lookup:   os.LookupEnv,
		debounce: DefaultReloadDebounce,
		onReload: onReload,
	}
	for _, o := range opts {
		o(w)
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := parse(data, w.lookup)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current.Store(cfg)
	w.digest = sha256.Sum256(data)

	w.fsw, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = w.fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(w.path), err)
	}
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Run dispatches file events until ctx is cancelled. It always returns nil
// on cancellation and releases the underlying file watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.affects(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "path", w.path, "err", err)
		case <-timer.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload rejected, keeping current config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file now. It reports whether the content changed and
// a new config was installed. Unchanged content is not an error.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.reloadMu.Unlock()
		return false, err
	}
	sum := sha256.Sum256(data)
	if sum == w.digest {
		w.reloadMu.Unlock()
		return false, nil
	}
	next, err := parse(data, w.lookup)
	if err != nil {
		w.reloadMu.Unlock()
		return false, err
	}
	w.digest = sum
	prev := w.current.Swap(next)
	w.reloadMu.Unlock()

	slog.Info("configuration reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(prev, next)
	}
	return true, nil
}

// Close releases the file watcher. It is safe to call more than once and
// is implied when Run returns.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() { _ = w.fsw.Close() })
}

// affects reports whether ev may have changed the watched file's content.
func (w *Watcher) affects(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(ev.Name)
	// ConfigMap volumes swap a "..data" symlink instead of touching the file.
	return name == w.path || filepath.Base(name) == "..data"
}
