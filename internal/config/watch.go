package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor or atomicWrite
// produces for one save.
const watchDebounce = 100 * time.Millisecond

// Watch calls onChange with the reloaded config every time the file at
// path changes, until ctx is done. The directory is watched rather than the
// file so replacement by rename is seen. Files that fail to parse are
// skipped with a warning.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch config: resolve path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config: add %s: %w", filepath.Dir(absPath), err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(watchDebounce)
				} else {
					debounce.Reset(watchDebounce)
				}
				fire = debounce.C
			case <-fire:
				fire = nil
				cfg, loadErr := Load(absPath)
				if loadErr != nil {
					slog.Warn("[WARN-CONFIG] reload failed, keeping previous config", "path", absPath, "error", loadErr)
					continue
				}
				slog.Debug("[DEBUG-CONFIG] config reloaded", "path", absPath)
				onChange(cfg)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("[WARN-CONFIG] watcher error", "error", watchErr)
			}
		}
	}()
	return nil
}
