package mcprouter

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors produce on save.
const watchDebounce = 200 * time.Millisecond

// WatchConfig blocks until ctx ends, calling onChange with the freshly loaded
// configuration each time the file at path is written, created, or renamed
// into place. Documents that fail to load are logged and skipped.
func WatchConfig(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("mcprouter: watch %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mcprouter: watch %s: %w", path, err)
	}
	defer func() {
		_ = w.Close()
	}()
	// Watch the directory: editors that save by rename drop a watch placed on
	// the file itself.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("mcprouter: watch %s: %w", path, err)
	}

	timer := time.NewTimer(watchDebounce)
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
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		case <-timer.C:
			cfg, err := LoadConfig(abs)
			if err != nil {
				logger.Warn("config reload skipped", slog.String("path", abs), slog.Any("error", err))
				continue
			}
			logger.Info("config reloaded", slog.String("path", abs), slog.Int("servers", len(cfg.Servers)))
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Debug("fsnotify error", slog.String("err", err.Error()))
		}
	}
}
