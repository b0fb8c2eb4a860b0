package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long Watch waits after the last write before reloading.
// Editors often emit several writes per save.
const settle = 100 * time.Millisecond

// Watch calls onChange with a freshly loaded Config after path is modified.
// Bursts of events are coalesced into one reload. A file that fails to load
// is logged and ignored, leaving the caller on its previous config. Watch
// returns when ctx is cancelled or the watcher shuts down.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("agent config: new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("agent config: watch %q: %w", path, err)
	}
	slog.Info("config: watching for changes", "path", path)

	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Create covers editors that save by replacing the file.
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(settle)
			}

		case <-timer.C:
			reload(path, onChange)
			// A replaced file has a new inode; re-arm the watch on it.
			_ = w.Add(path)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

func reload(path string, onChange func(*Config)) {
	cfg, err := Load(path)
	if err != nil {
		slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
		return
	}
	slog.Info("config: reloaded", "path", path, "log_level", cfg.Agent.LogLevel)
	onChange(cfg)
}
