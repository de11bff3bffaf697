package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent is passed to the watcher callback when the file content
// changed and the new content is a valid configuration.
type ChangeEvent struct {
	Path    string
	OldHash string
	NewHash string
	Config  *Config
	Time    time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce duration for file change events.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithEnv sets the environment lookup applied to reloaded files.
func WithEnv(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// Watcher monitors a config file and invokes a callback with the reloaded
// configuration. It watches the directory containing the file so editors
// that save by renaming are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	lookup   func(string) (string, bool)
	onChange func(ChangeEvent)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	lastHash  string

	mu      sync.Mutex
	pending time.Time // last relevant event, zero when none
}

// NewWatcher creates a Watcher for the file at path.
func NewWatcher(path string, onChange func(ChangeEvent), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		lookup:   os.LookupEnv,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching.
func (w *Watcher) Start() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("config watcher: initial hash: %w", err)
	}
	w.lastHash = Hash(data)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher and waits for the background goroutine to exit.
// It is safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if ready {
				w.processChange()
			}
		}
	}
}

// processChange reloads the file and calls onChange if its content changed
// and still validates. An invalid file is logged and the previous
// configuration stays in effect.
func (w *Watcher) processChange() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Error("config watcher: failed to read config", "path", w.path, "error", err)
		return
	}
	newHash := Hash(data)
	if newHash == w.lastHash {
		w.logger.Debug("config watcher: content unchanged, skipping", "path", w.path)
		return
	}

	cfg, err := Parse(data)
	if err == nil {
		cfg.ApplyEnv(w.lookup)
		err = cfg.Validate()
	}
	if err != nil {
		w.logger.Error("config watcher: ignoring invalid config", "path", w.path, "error", err)
		return
	}

	oldHash := w.lastHash
	w.lastHash = newHash
	w.logger.Info("config changed", "path", w.path, "old_hash", oldHash[:8], "new_hash", newHash[:8])

	w.onChange(ChangeEvent{
		Path:    w.path,
		OldHash: oldHash,
		NewHash: newHash,
		Config:  cfg,
		Time:    time.Now(),
	})
}
