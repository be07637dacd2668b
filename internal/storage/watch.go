package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Watch calls fn each time the document file at path changes, at most once
// per interval. It blocks until ctx is canceled and returns ctx.Err().
//
// The parent directory is watched rather than the file itself because atomic
// writes replace the file with a rename.
func Watch(ctx context.Context, path string, interval time.Duration, fn func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	base := filepath.Base(abs)
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)) {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}
			drain(w.Events)
			fn()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching document", "path", abs, "err", err)
		}
	}
}

// drain discards events queued while waiting for the limiter.
func drain(events <-chan fsnotify.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
