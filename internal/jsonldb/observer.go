package jsonldb

import (
	"context"
	"log/slog"
)

// Observer receives the changes applied by tables and by foreign key
// propagation. Callbacks run synchronously after the change was persisted
// and must not call back into the table or database.
type Observer interface {
	OnInsert(table string, row Row)
	OnUpdate(table string, prev, curr Row)
	OnDelete(table string, row Row)
	OnCascade(c Cascade)
}

// Cascade describes one propagation step from a parent to a child table.
type Cascade struct {
	Op     string // "update" or "delete"
	Action Action
	Parent string
	Child  string
	Column string // child column holding the foreign key
	Value  any    // parent key value the child rows matched
	Rows   int    // child rows affected
}

// LogObserver reports changes to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

// NewLogObserver returns an Observer logging to l, or to slog.Default() if nil.
func NewLogObserver(l *slog.Logger) *LogObserver {
	if l == nil {
		l = slog.Default()
	}
	return &LogObserver{Logger: l}
}

// OnInsert implements [Observer].
func (o *LogObserver) OnInsert(table string, row Row) {
	o.Logger.Debug("Row inserted", "table", table, "row", []any(row))
}

// OnUpdate implements [Observer].
func (o *LogObserver) OnUpdate(table string, prev, curr Row) {
	o.Logger.Debug("Row updated", "table", table, "prev", []any(prev), "row", []any(curr))
}

// OnDelete implements [Observer].
func (o *LogObserver) OnDelete(table string, row Row) {
	o.Logger.Debug("Row deleted", "table", table, "row", []any(row))
}

// OnCascade implements [Observer].
func (o *LogObserver) OnCascade(c Cascade) {
	o.Logger.LogAttrs(context.Background(), slog.LevelInfo, "Foreign key propagated",
		slog.String("op", c.Op),
		slog.String("action", string(c.Action)),
		slog.String("parent", c.Parent),
		slog.String("child", c.Child),
		slog.String("column", c.Column),
		slog.Any("value", c.Value),
		slog.Int("rows", c.Rows),
	)
}
