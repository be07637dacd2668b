package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maruel/recdb/internal/storage"
)

// pather is implemented by the stores backed by a single file.
type pather interface {
	Path() string
}

// watch reloads every table each time the document file changes and logs
// the row counts, until ctx is canceled.
func (c *cli) watch(ctx context.Context) error {
	p, ok := c.store.(pather)
	if !ok {
		return errors.New("watch requires a file backed store")
	}
	if _, ok := c.store.(*storage.SQLiteStore); ok {
		return errors.New("watch requires the json backend")
	}
	slog.InfoContext(ctx, "Watching", "path", p.Path(), "interval", c.interval)
	err := storage.Watch(ctx, p.Path(), c.interval, func() {
		c.reload(ctx)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *cli) reload(ctx context.Context) {
	for _, name := range c.db.ListTables() {
		t, err := c.db.GetTable(name)
		if err != nil {
			continue
		}
		if err := t.Reload(); err != nil {
			slog.WarnContext(ctx, "Failed to reload table", "table", name, "err", err)
			continue
		}
		slog.InfoContext(ctx, "Table reloaded", "table", name, "rows", t.Len())
	}
}
