package config

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/codefionn/guise/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watcher keeps the latest valid configuration loaded from a file and
// reloads it whenever the file changes.
type Watcher struct {
	path     string
	getenv   func(string) string
	onChange func(*Config)
	current  atomic.Pointer[Config]
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for path seeded with initial. getenv supplies
// the overrides reapplied after each reload; onChange may be nil.
func NewWatcher(path string, initial *Config, getenv func(string) string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		getenv:   getenv,
		onChange: onChange,
		watcher:  fw,
	}
	w.current.Store(initial)

	// The directory is watched rather than the file so that editors which
	// save through rename are still observed.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		logger.Warn("config: not watching %s: %v", w.path, err)
	}

	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Reload reads the file again. An invalid file leaves the current
// configuration in place.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	if w.getenv != nil {
		cfg.ApplyEnv(w.getenv)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	w.current.Store(cfg)
	if w.onChange != nil {
		w.onChange(cfg)
	}
	return nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := w.Reload(); err != nil {
				logger.Warn("config: keeping previous configuration: %v", err)
				continue
			}
			logger.Info("config: reloaded %s", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher error: %v", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
