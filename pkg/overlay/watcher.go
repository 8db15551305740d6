package overlay

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the overlay whenever its file changes on disk and
// passes the fresh config to onChange. The parent directory is watched
// so editors that replace the file atomically are still observed.
// Watch blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.root); err != nil {
		return err
	}

	target := l.Path()
	l.logger.Info().Str("path", target).Msg("watching overlay")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			cfg, err := l.Reload()
			if err != nil {
				// Keep serving the previous overlay until the file is fixed.
				l.logger.Warn().Err(err).Msg("overlay reload failed")
				continue
			}
			if onChange != nil {
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn().Err(err).Msg("overlay watcher error")
		}
	}
}
