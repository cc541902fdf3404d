package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/resgen/pkg/telemetry"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to provider directories.
type Watcher struct {
	dirs       []string
	extensions []string
	debounce   time.Duration
	logger     *telemetry.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher

	// wg tracks the event loop and pending or running callbacks.
	wg sync.WaitGroup
}

// NewWatcher watches dirs for files with one of the given extensions.
// An empty extension list matches every file.
func NewWatcher(logger *telemetry.Logger, dirs []string, extensions ...string) *Watcher {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Watcher{
		dirs:       dirs,
		extensions: extensions,
		debounce:   DefaultDebounce,
		logger:     logger.NewComponentLogger("watcher"),
	}
}

// SetDebounce overrides the debounce delay.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Watch starts watching and calls onChange after each burst of changes.
// It returns once the watches are in place; events are processed until ctx is done.
func (w *Watcher) Watch(ctx context.Context, onChange func(ctx context.Context)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	watched := 0
	for _, dir := range w.dirs {
		info, err := os.Stat(dir)
		if err != nil {
			w.logger.WithField("path", dir).WithError(err).Warn("Failed to stat path for watching")
			continue
		}
		if !info.IsDir() {
			w.logger.WithField("path", dir).Warn("Provider path is not a directory")
			continue
		}
		if err := w.watchDirectory(watcher, dir); err != nil {
			w.logger.WithField("path", dir).WithError(err).Warn("Failed to watch directory")
			continue
		}
		watched++
	}

	w.wg.Add(1)
	go w.processEvents(ctx, watcher, onChange)

	w.logger.WithField("paths", watched).Info("Started watching provider paths")
	return nil
}

func (w *Watcher) watchDirectory(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onChange func(ctx context.Context)) {
	defer w.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil && timer.Stop() {
			w.wg.Done()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}

			w.logger.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Provider file changed")

			if timer != nil && timer.Stop() {
				w.wg.Done()
			}
			w.wg.Add(1)
			timer = time.AfterFunc(w.debounce, func() {
				defer w.wg.Done()
				if ctx.Err() == nil {
					onChange(ctx)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

func (w *Watcher) matches(name string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	for _, ext := range w.extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Stop stops watching and waits for a running onChange to return.
// A change that is still being debounced is dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}
