package booking

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchRoutes reloads the route table from path whenever the file changes
// and swaps it into c. The parent directory is watched so that editors which
// replace the file by rename are followed. A file that fails to parse is
// logged and the previous table kept. WatchRoutes blocks until ctx is done.
func WatchRoutes(ctx context.Context, path string, c *RouteCatalog, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve routes file: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create routes watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	log.InfoContext(ctx, "booking.routes.watch", slog.String("path", abs))

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
			routes, err := LoadRoutes(abs)
			if err != nil {
				log.WarnContext(ctx, "booking.routes.reload_failed", slog.String("err", err.Error()))
				continue
			}
			if err := c.Replace(ctx, routes); err != nil {
				log.WarnContext(ctx, "booking.routes.reload_failed", slog.String("err", err.Error()))
				continue
			}
			log.InfoContext(ctx, "booking.routes.reloaded", slog.Int("routes", len(routes)))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "booking.routes.watch_error", slog.String("err", err.Error()))
		}
	}
}
