package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration at path whenever it is written or
// re-created and sends each valid result on the returned channel. Invalid
// files are logged and skipped. The channel is closed when ctx is done.
//
// The parent directory is watched rather than the file itself so editors
// that replace the file by rename keep triggering reloads.
func Watch(ctx context.Context, path string, log *slog.Logger) (<-chan *File, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	out := make(chan *File, 1)

	go func() {
		defer close(out)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				cfg, err := LoadFile(path)
				if err != nil {
					log.Warn("config reload failed", slog.String("path", path), slog.String("error", err.Error()))
					continue
				}
				log.Info("config reloaded", slog.String("path", path), slog.Int("users", len(cfg.Users)))
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return out, nil
}
