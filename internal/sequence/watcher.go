package sequence

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger is the logging surface the watcher needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a catalog file when it changes. Every reload goes
// through the full validation of LoadFile; a catalog that fails is logged
// and discarded, and the previous library stays live.
type Watcher struct {
	path     string
	channels ChannelResolver
	catalog  *Catalog
	debounce time.Duration
	logger   Logger
	onReload func(*Library)
}

// NewWatcher watches path and publishes reloads into catalog.
func NewWatcher(path string, channels ChannelResolver, catalog *Catalog, logger Logger) *Watcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Watcher{
		path:     filepath.Clean(path),
		channels: channels,
		catalog:  catalog,
		debounce: defaultDebounce,
		logger:   logger,
	}
}

// OnReload registers a callback run after each successful reload.
func (w *Watcher) OnReload(fn func(*Library)) {
	w.onReload = fn
}

// Run blocks until ctx is cancelled. It watches the file's directory so
// editors that replace the file by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}
	defer fsw.Close() //nolint:errcheck // shutdown path

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching sequence catalog", "path", w.path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce bursts of writes from a single save.
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", "error", err)

		case <-timer.C:
			w.Reload()
		}
	}
}

// Reload loads and validates the file now. It reports whether the catalog
// was replaced.
func (w *Watcher) Reload() bool {
	lib, err := LoadFile(w.path, w.channels)
	if err != nil {
		w.logger.Error("sequence catalog reload rejected", "path", w.path, "error", err)
		return false
	}

	w.catalog.Replace(lib)
	w.logger.Info("sequence catalog reloaded", "path", w.path, "sequences", lib.Count())

	if w.onReload != nil {
		w.onReload(lib)
	}
	return true
}
